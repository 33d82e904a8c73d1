// Package clientproto is the directly-connected-client listener: one
// newline-delimited JSON statement per request, one newline-delimited
// JSON reply per response. Clients carry no checksum or length
// prefix; the integrity-checked frame format is reserved for
// inter-node traffic.
package clientproto

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"

	"github.com/goccy/go-json"

	"ddbmw/configs"
)

type statementRequest struct {
	Statement string `json:"statement"`
}

// Server accepts client connections and runs each newline-delimited
// statement through the sub callback.
type Server struct {
	listener net.Listener
	sub      func(ctx context.Context, statement string) interface{}
	sem      chan struct{}
	done     chan struct{}
}

// Listen binds addr and returns a Server ready for Run. submit is
// typically (*node.Node).Submit wrapped to return an interface{} so
// this package does not need to import internal/coordinator.
func Listen(addr string, submit func(ctx context.Context, statement string) interface{}) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: ln,
		sub:      submit,
		sem:      make(chan struct{}, configs.MaxConnectionHandler),
		done:     make(chan struct{}),
	}, nil
}

// Run accepts connections until Close is called. Intended to run in
// its own goroutine.
func (s *Server) Run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				configs.TPrintf("clientproto: accept error: %v", err)
				continue
			}
		}
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				configs.TPrintf("clientproto: connection error: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req statementRequest
		if jsonErr := json.Unmarshal([]byte(line), &req); jsonErr != nil {
			writeLine(conn, map[string]interface{}{"ok": false, "error": map[string]string{"kind": "BAD_STATEMENT", "message": "malformed request"}})
			continue
		}

		reply := s.sub(context.Background(), req.Statement)
		writeLine(conn, reply)
	}
}

func writeLine(conn net.Conn, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	body = append(body, '\n')
	_, _ = conn.Write(body)
}

// Close stops accepting new connections.
func (s *Server) Close() {
	close(s.done)
	s.listener.Close()
}
