package clientproto

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementRoundTrip(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", func(ctx context.Context, statement string) interface{} {
		return map[string]interface{}{"ok": true, "statement": statement}
	})
	require.NoError(t, err)
	defer srv.Close()
	go srv.Run()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"statement":"SELECT 1"}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &reply))
	assert.Equal(t, true, reply["ok"])
	assert.Equal(t, "SELECT 1", reply["statement"])
}

func TestMalformedRequestNeverReachesSubmit(t *testing.T) {
	var called int32
	srv, err := Listen("127.0.0.1:0", func(ctx context.Context, statement string) interface{} {
		atomic.AddInt32(&called, 1)
		return nil
	})
	require.NoError(t, err)
	defer srv.Close()
	go srv.Run()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &reply))
	assert.Equal(t, false, reply["ok"])

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
}
