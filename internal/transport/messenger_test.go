package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddbmw/internal/message"
)

func TestSendAndReceiveRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var received []message.Message

	recv, err := New(2, "127.0.0.1:0", func(m message.Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m)
	})
	require.NoError(t, err)
	defer recv.Close()
	go recv.Run()

	sender, err := New(1, "127.0.0.1:0", func(message.Message) {})
	require.NoError(t, err)
	defer sender.Close()

	msg, err := message.New(1, message.Heartbeat, map[string]int{"term": 3})
	require.NoError(t, err)

	require.NoError(t, sender.Send(recv.listener.Addr().String(), msg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, message.Heartbeat, received[0].Type)
	assert.Equal(t, 1, received[0].SenderID)
}

func TestCorruptedChecksumDropped(t *testing.T) {
	var mu sync.Mutex
	count := 0

	recv, err := New(2, "127.0.0.1:0", func(message.Message) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	require.NoError(t, err)
	defer recv.Close()
	go recv.Run()

	sender, err := New(1, "127.0.0.1:0", func(message.Message) {})
	require.NoError(t, err)
	defer sender.Close()

	msg, err := message.New(1, message.Prepare, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	msg.Checksum = "deadbeef"

	require.NoError(t, sender.Send(recv.listener.Addr().String(), msg))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count, "corrupted frame must be dropped before dispatch")
}

func TestSendToUnreachablePeerFails(t *testing.T) {
	sender, err := New(1, "127.0.0.1:0", func(message.Message) {})
	require.NoError(t, err)
	defer sender.Close()

	msg, err := message.New(1, message.Heartbeat, nil)
	require.NoError(t, err)

	err = sender.Send("127.0.0.1:1", msg)
	assert.Error(t, err)
}
