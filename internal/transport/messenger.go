// Package transport implements the framed inter-node messenger:
// length-prefixed, checksum-verified message transport over TCP, one
// inbound listener plus lazily-dialed per-peer outbound connections.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"ddbmw/configs"
	"ddbmw/internal/message"
)

const maxFrameSize = 64 << 20 // 64MiB, guards against a corrupt length prefix

// Handler processes one verified inbound message. The Messenger runs
// it on its own worker-pool goroutine, so a slow handler never stalls
// the listener.
type Handler func(message.Message)

// peerConn pins one outbound TCP connection per peer address and
// serializes writes so frames are never interleaved on the wire.
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// Messenger is the Framed Messenger for one node.
type Messenger struct {
	selfID   int
	listener net.Listener
	handler  Handler

	peers   sync.Map // addr string -> *peerConn
	sem     chan struct{}
	done    chan struct{}
	closeOn sync.Once
}

// New binds the inbound listener on addr and returns a Messenger ready
// for Run.
func New(selfID int, addr string, handler Handler) (*Messenger, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Messenger{
		selfID:   selfID,
		listener: ln,
		handler:  handler,
		sem:      make(chan struct{}, configs.MaxConnectionHandler),
		done:     make(chan struct{}),
	}, nil
}

// Run accepts inbound connections until Close is called. Intended to
// be run in its own goroutine.
func (m *Messenger) Run() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.done:
				return
			default:
				configs.TPrintf("messenger: accept error: %v", err)
				continue
			}
		}
		go m.serve(conn)
	}
}

// serve reads frames off one inbound connection until it closes or a
// frame cannot be read. A frame whose body does not parse or whose
// checksum does not match is dropped and reading continues.
func (m *Messenger) serve(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				configs.TPrintf("messenger: connection closed: %v", err)
			}
			return
		}
		var msg message.Message
		if jsonErr := json.Unmarshal(frame, &msg); jsonErr != nil {
			configs.TPrintf("messenger: dropping unparseable frame: %v", jsonErr)
			continue
		}
		if !msg.Verify() {
			// drop before dispatch, no acknowledgment
			configs.TPrintf("messenger: %v", message.NewError(message.ChecksumFail,
				fmt.Sprintf("dropping frame from node %d", msg.SenderID)))
			continue
		}
		m.dispatch(msg)
	}
}

// dispatch hands the message to the handler on the bounded worker
// pool; a full pool applies backpressure to the reader rather than
// spawning unboundedly.
func (m *Messenger) dispatch(msg message.Message) {
	m.sem <- struct{}{}
	go func() {
		defer func() { <-m.sem }()
		m.handler(msg)
	}()
}

// Send delivers msg to the peer at addr. A per-peer connection is
// dialed lazily on first use and cached; the dial itself is bounded
// by configs.DialTimeout. The Messenger never retries — retry policy
// belongs to the caller (heartbeat retries implicitly next tick, 2PC
// treats unreachable as a NO vote).
func (m *Messenger) Send(addr string, msg message.Message) error {
	pc, err := m.connFor(addr)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if err := writeFrame(pc.conn, msg); err != nil {
		// connection reset or partial write: close and let the next
		// send dial again
		pc.conn.Close()
		m.peers.Delete(addr)
		return fmt.Errorf("unreachable: %w", err)
	}
	return nil
}

func (m *Messenger) connFor(addr string) (*peerConn, error) {
	if v, ok := m.peers.Load(addr); ok {
		return v.(*peerConn), nil
	}
	conn, err := net.DialTimeout("tcp", addr, configs.DialTimeout)
	if err != nil {
		return nil, err
	}
	pc := &peerConn{conn: conn}
	actual, loaded := m.peers.LoadOrStore(addr, pc)
	if loaded {
		conn.Close()
		return actual.(*peerConn), nil
	}
	return pc, nil
}

// ListenAddr returns the address the inbound listener is actually bound
// to — useful both for logging and for tests that bind to ":0" and
// need the OS-assigned port back.
func (m *Messenger) ListenAddr() string {
	return m.listener.Addr().String()
}

// Close stops the listener and drops all cached outbound connections.
func (m *Messenger) Close() {
	m.closeOn.Do(func() {
		close(m.done)
		m.listener.Close()
		m.peers.Range(func(_, v interface{}) bool {
			v.(*peerConn).conn.Close()
			return true
		})
	})
}

func writeFrame(w io.Writer, msg message.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if conn, ok := w.(net.Conn); ok {
		conn.SetWriteDeadline(time.Now().Add(configs.DialTimeout))
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
