// Package health tracks peer liveness: periodic heartbeat pings to
// every peer, a PeerState table owned exclusively by this package, and
// peer_up/peer_down/coordinator_lost events published over channels.
package health

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"ddbmw/configs"
	"ddbmw/internal/message"
)

// Status is a peer's liveness as last observed by this node.
type Status string

const (
	Up   Status = configs.PeerUp
	Down Status = configs.PeerDown
)

// PeerState is one row of the liveness table this package owns
// exclusively.
type PeerState struct {
	NodeID          int
	LastHeartbeatAt time.Time
	Status          Status
}

// CoordinatorView is the read-only slice of the election engine's
// state health needs to decide whether a coordinator_lost event
// applies — health never writes it, only reads value snapshots.
type CoordinatorView interface {
	CurrentCoordinator() (nodeID int, known bool)
	ElectionInProgress() bool
	Term() int
}

// Sender abstracts the Framed Messenger for testability.
type Sender interface {
	Send(addr string, msg message.Message) error
}

// Monitor tracks every peer's liveness and publishes transitions.
// Exactly one Monitor runs per node; it owns the PeerState table.
type Monitor struct {
	selfID int
	peers  map[int]string // node_id -> address, static topology

	mu     sync.RWMutex
	states map[int]*PeerState

	sender Sender
	view   CoordinatorView

	upEvents   chan int
	downEvents chan int
	coordLost  chan int // term at time of loss
	stop       chan struct{}
	stopOnce   sync.Once
}

// New constructs a Monitor for selfID with peers (node_id -> address,
// excluding selfID). view supplies the coordinator snapshot used to
// decide coordinator_lost; it may be nil until the election engine is
// wired up, in which case coordinator_lost is never emitted.
func New(selfID int, peers map[int]string, sender Sender, view CoordinatorView) *Monitor {
	states := make(map[int]*PeerState, len(peers))
	now := time.Now()
	for id := range peers {
		states[id] = &PeerState{NodeID: id, LastHeartbeatAt: now, Status: Up}
	}
	return &Monitor{
		selfID:     selfID,
		peers:      peers,
		states:     states,
		sender:     sender,
		view:       view,
		upEvents:   make(chan int, 16),
		downEvents: make(chan int, 16),
		coordLost:  make(chan int, 4),
		stop:       make(chan struct{}),
	}
}

// PeerUp delivers peer_up(id) events; never blocks indefinitely (the
// channel is buffered) but callers should drain it.
func (m *Monitor) PeerUp() <-chan int { return m.upEvents }

// PeerDown delivers peer_down(id) events.
func (m *Monitor) PeerDown() <-chan int { return m.downEvents }

// CoordinatorLost delivers coordinator_lost(term) events.
func (m *Monitor) CoordinatorLost() <-chan int { return m.coordLost }

// HandleHeartbeat records an inbound HEARTBEAT from senderID, flipping
// it to UP and emitting peer_up if it had been DOWN.
func (m *Monitor) HandleHeartbeat(senderID int) {
	m.mu.Lock()
	st, ok := m.states[senderID]
	if !ok {
		st = &PeerState{NodeID: senderID}
		m.states[senderID] = st
	}
	wasDown := st.Status == Down
	st.LastHeartbeatAt = time.Now()
	st.Status = Up
	m.mu.Unlock()

	if wasDown || !ok {
		m.emitUp(senderID)
	}
}

func (m *Monitor) emitUp(id int) {
	select {
	case m.upEvents <- id:
	default:
	}
}

func (m *Monitor) emitDown(id int) {
	select {
	case m.downEvents <- id:
	default:
	}
}

// Snapshot returns a copy of the current PeerState table plus this
// node's own entry (always UP to itself).
func (m *Monitor) Snapshot() map[int]PeerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]PeerState, len(m.states)+1)
	for id, st := range m.states {
		out[id] = *st
	}
	out[m.selfID] = PeerState{NodeID: m.selfID, LastHeartbeatAt: time.Now(), Status: Up}
	return out
}

// UpSet returns the current UP set, including self, as a mapset.Set
// of node_id — the snapshot the load balancer and 2PC participant
// selection consume.
func (m *Monitor) UpSet() mapset.Set {
	s := mapset.NewSet()
	s.Add(m.selfID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, st := range m.states {
		if st.Status == Up {
			s.Add(id)
		}
	}
	return s
}

func (m *Monitor) IsUp(nodeID int) bool {
	if nodeID == m.selfID {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[nodeID]
	return ok && st.Status == Up
}

// RunSend broadcasts HEARTBEAT to every peer every
// configs.HeartbeatInterval, until Stop is called.
func (m *Monitor) RunSend() {
	ticker := time.NewTicker(configs.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.broadcastHeartbeat()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) broadcastHeartbeat() {
	msg, err := message.New(m.selfID, message.Heartbeat, nil)
	if err != nil {
		configs.TPrintf("health: failed to build heartbeat: %v", err)
		return
	}
	for id, addr := range m.peers {
		if id == m.selfID {
			continue
		}
		// The monitor loop declares DOWN on timeout, not on a single
		// missed send, so an unreachable peer here is not an error.
		_ = m.sender.Send(addr, msg)
	}
}

// RunMonitor checks every peer's last_heartbeat_at against
// configs.HeartbeatTimeout every heartbeat_interval/2, until Stop is
// called. Also watches for loss of the current coordinator.
func (m *Monitor) RunMonitor() {
	interval := configs.HeartbeatInterval / 2
	if interval <= 0 {
		interval = configs.HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) sweep() {
	now := time.Now()
	var justDied []int

	m.mu.Lock()
	for id, st := range m.states {
		if st.Status == Up && now.Sub(st.LastHeartbeatAt) > configs.HeartbeatTimeout {
			st.Status = Down
			justDied = append(justDied, id)
		}
	}
	m.mu.Unlock()

	for _, id := range justDied {
		m.emitDown(id)
	}

	if m.view == nil {
		return
	}
	coordID, known := m.view.CurrentCoordinator()
	if !known || m.view.ElectionInProgress() {
		return
	}
	if !m.IsUp(coordID) {
		select {
		case m.coordLost <- m.view.Term():
		default:
		}
	}
}

// Stop halts RunSend/RunMonitor.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
