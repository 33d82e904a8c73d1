package election

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddbmw/internal/message"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []message.Message
}

func (f *fakeSender) Send(addr string, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count(t message.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == t {
			n++
		}
	}
	return n
}

func allUp(int) bool { return true }

func TestHighestIDBecomesCoordinatorImmediately(t *testing.T) {
	sender := &fakeSender{}
	e := New(3, map[int]string{1: "a", 2: "b"}, sender, allUp)

	e.Start()

	require.Eventually(t, func() bool {
		id, ok := e.CurrentCoordinator()
		return ok && id == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, CoordinatorState, e.State())
	assert.Equal(t, 1, e.Term())
}

func TestLowerIDWaitsForHigherAfterAlive(t *testing.T) {
	sender := &fakeSender{}
	e := New(1, map[int]string{2: "a", 3: "b"}, sender, allUp)

	e.Start()
	require.Eventually(t, func() bool { return e.State() == Electing }, time.Second, 5*time.Millisecond)

	aliveMsg, err := message.New(2, message.Alive, electionPayload{Term: e.Term()})
	require.NoError(t, err)
	e.HandleAlive(2, aliveMsg)

	assert.Equal(t, WaitingForHigher, e.State())
}

func TestStaleCoordinatorTermIgnored(t *testing.T) {
	sender := &fakeSender{}
	e := New(1, map[int]string{2: "a"}, sender, allUp)

	e.mu.Lock()
	e.term = 5
	e.mu.Unlock()

	msg, err := message.New(2, message.Coordinator, coordinatorPayload{NodeID: 2, Term: 3})
	require.NoError(t, err)
	e.HandleCoordinator(2, msg)

	_, known := e.CurrentCoordinator()
	assert.False(t, known, "a COORDINATOR with a stale term must be ignored")
	assert.Equal(t, 5, e.Term())
}

func TestCoordinatorAnnouncementAdopted(t *testing.T) {
	sender := &fakeSender{}
	e := New(1, map[int]string{2: "a"}, sender, allUp)

	msg, err := message.New(2, message.Coordinator, coordinatorPayload{NodeID: 2, Term: 7})
	require.NoError(t, err)
	e.HandleCoordinator(2, msg)

	id, known := e.CurrentCoordinator()
	require.True(t, known)
	assert.Equal(t, 2, id)
	assert.Equal(t, 7, e.Term())
	assert.Equal(t, Follower, e.State())
}

func TestElectionReplyIsAlive(t *testing.T) {
	sender := &fakeSender{}
	e := New(1, map[int]string{2: "a"}, sender, allUp)

	msg, err := message.New(2, message.Election, electionPayload{Term: 1})
	require.NoError(t, err)
	e.HandleElection(2, msg)

	assert.Equal(t, 1, sender.count(message.Alive))
}

func TestTermNeverDecreases(t *testing.T) {
	sender := &fakeSender{}
	e := New(1, map[int]string{2: "a", 3: "b"}, sender, allUp)
	e.Start()
	require.Eventually(t, func() bool { return e.Term() >= 1 }, time.Second, 5*time.Millisecond)

	termBefore := e.Term()
	msg, err := message.New(2, message.Coordinator, coordinatorPayload{NodeID: 2, Term: termBefore})
	require.NoError(t, err)
	e.HandleCoordinator(2, msg)
	assert.GreaterOrEqual(t, e.Term(), termBefore)
}
