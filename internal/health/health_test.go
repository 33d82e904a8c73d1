package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddbmw/internal/message"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(addr string, msg message.Message) error {
	f.sent = append(f.sent, addr)
	return nil
}

type fakeView struct {
	coordID  int
	known    bool
	electing bool
	term     int
}

func (f *fakeView) CurrentCoordinator() (int, bool) { return f.coordID, f.known }
func (f *fakeView) ElectionInProgress() bool        { return f.electing }
func (f *fakeView) Term() int                       { return f.term }

func TestHandleHeartbeatMarksUpAndEmits(t *testing.T) {
	m := New(1, map[int]string{2: "127.0.0.1:1"}, &fakeSender{}, nil)

	m.mu.Lock()
	m.states[2].Status = Down
	m.mu.Unlock()

	m.HandleHeartbeat(2)

	assert.True(t, m.IsUp(2))
	select {
	case id := <-m.PeerUp():
		assert.Equal(t, 2, id)
	case <-time.After(time.Second):
		t.Fatal("expected peer_up event")
	}
}

func TestSweepMarksDownAfterTimeout(t *testing.T) {
	m := New(1, map[int]string{2: "127.0.0.1:1"}, &fakeSender{}, nil)
	m.mu.Lock()
	m.states[2].LastHeartbeatAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.sweep()

	assert.False(t, m.IsUp(2))
	select {
	case id := <-m.PeerDown():
		assert.Equal(t, 2, id)
	case <-time.After(time.Second):
		t.Fatal("expected peer_down event")
	}
}

func TestSweepEmitsCoordinatorLost(t *testing.T) {
	view := &fakeView{coordID: 2, known: true, electing: false, term: 4}
	m := New(1, map[int]string{2: "127.0.0.1:1"}, &fakeSender{}, view)
	m.mu.Lock()
	m.states[2].LastHeartbeatAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.sweep()

	select {
	case term := <-m.CoordinatorLost():
		assert.Equal(t, 4, term)
	case <-time.After(time.Second):
		t.Fatal("expected coordinator_lost event")
	}
}

func TestSweepNoCoordinatorLostDuringElection(t *testing.T) {
	view := &fakeView{coordID: 2, known: true, electing: true, term: 4}
	m := New(1, map[int]string{2: "127.0.0.1:1"}, &fakeSender{}, view)
	m.mu.Lock()
	m.states[2].LastHeartbeatAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.sweep()

	select {
	case <-m.CoordinatorLost():
		t.Fatal("must not report coordinator_lost while an election is in progress")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpSetIncludesSelfAndUpPeersOnly(t *testing.T) {
	m := New(1, map[int]string{2: "a", 3: "b"}, &fakeSender{}, nil)
	m.mu.Lock()
	m.states[3].Status = Down
	m.mu.Unlock()

	set := m.UpSet()
	require.True(t, set.Contains(1))
	require.True(t, set.Contains(2))
	require.False(t, set.Contains(3))
	require.Equal(t, 2, set.Cardinality())
}

func TestBroadcastHeartbeatSendsToAllPeers(t *testing.T) {
	sender := &fakeSender{}
	m := New(1, map[int]string{2: "peer2", 3: "peer3"}, sender, nil)

	m.broadcastHeartbeat()

	assert.ElementsMatch(t, []string{"peer2", "peer3"}, sender.sent)
}
