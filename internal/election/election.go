// Package election implements Bully leader election: a
// FOLLOWER/ELECTING/WAITING_FOR_HIGHER/COORDINATOR state machine
// driven by health's coordinator_lost event, with a monotonic term
// counter so stale announcements are ignored. The highest-id live
// node always wins.
package election

import (
	"sync"
	"time"

	"ddbmw/configs"
	"ddbmw/internal/message"
)

type State string

const (
	Follower         State = configs.StateFollower
	Electing         State = configs.StateElecting
	WaitingForHigher State = configs.StateWaitingForHigher
	CoordinatorState State = configs.StateCoordinator
)

// electionPayload and coordinatorPayload are the wire payloads for
// ELECTION/ALIVE and COORDINATOR messages respectively.
type electionPayload struct {
	Term int `json:"term"`
}

type coordinatorPayload struct {
	NodeID int `json:"node_id"`
	Term   int `json:"term"`
}

// Sender abstracts the Framed Messenger for testability.
type Sender interface {
	Send(addr string, msg message.Message) error
}

// Engine runs the Bully protocol for one node. It owns the
// coordinator view exclusively; other components read it only through
// CurrentCoordinator/ElectionInProgress/Term.
type Engine struct {
	selfID int
	peers  map[int]string // node_id -> address, excludes self
	sender Sender

	isUp func(nodeID int) bool // delegates liveness to health.Monitor

	mu          sync.RWMutex
	state       State
	term        int
	coordinator int
	known       bool

	electTimer *time.Timer
	coordTimer *time.Timer
	timerMu    sync.Mutex

	becameCoordinator chan int // node_id announcements, for node glue to subscribe to
	stop              chan struct{}
	stopOnce          sync.Once
}

// New constructs an Engine. isUp reports whether peerID is currently
// UP per health's PeerState table — the Bully protocol only ever
// contacts live peers.
func New(selfID int, peers map[int]string, sender Sender, isUp func(int) bool) *Engine {
	return &Engine{
		selfID:            selfID,
		peers:             peers,
		sender:            sender,
		isUp:              isUp,
		state:             Follower,
		becameCoordinator: make(chan int, 4),
		stop:              make(chan struct{}),
	}
}

func (e *Engine) CurrentCoordinator() (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.coordinator, e.known
}

func (e *Engine) ElectionInProgress() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == Electing || e.state == WaitingForHigher
}

func (e *Engine) Term() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.term
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// BecameCoordinator announces, each time this node wins an election,
// its own node_id on a buffered channel; an announcement is dropped
// when the buffer is full.
func (e *Engine) BecameCoordinator() <-chan int { return e.becameCoordinator }

// OnCoordinatorLost starts an election, triggered by health's
// coordinator_lost(term) event.
func (e *Engine) OnCoordinatorLost(observedTerm int) {
	e.mu.Lock()
	if e.state == Electing || e.state == WaitingForHigher {
		e.mu.Unlock()
		return
	}
	if observedTerm < e.term {
		e.mu.Unlock()
		return
	}
	e.known = false
	e.mu.Unlock()
	e.startElection()
}

// Start begins an election if no coordinator is yet known, as at
// process startup.
func (e *Engine) Start() {
	e.mu.RLock()
	known := e.known
	e.mu.RUnlock()
	if !known {
		e.startElection()
	}
}

func (e *Engine) startElection() {
	e.mu.Lock()
	e.state = Electing
	e.term++
	term := e.term
	e.mu.Unlock()

	payload := electionPayload{Term: term}
	msg, err := message.New(e.selfID, message.Election, payload)
	if err != nil {
		configs.TPrintf("election: failed to build ELECTION: %v", err)
		return
	}

	anyHigherUp := false
	for id, addr := range e.peers {
		if id <= e.selfID {
			continue
		}
		if !e.isUp(id) {
			continue
		}
		anyHigherUp = true
		_ = e.sender.Send(addr, msg)
	}

	if !anyHigherUp {
		// no higher peer could possibly answer, so don't wait out T_elect
		e.becomeCoordinator(term)
		return
	}

	e.resetElectTimer(term)
}

func (e *Engine) resetElectTimer(term int) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.electTimer != nil {
		e.electTimer.Stop()
	}
	e.electTimer = time.AfterFunc(configs.ElectTimeout, func() {
		e.onElectTimeout(term)
	})
}

func (e *Engine) onElectTimeout(term int) {
	e.mu.Lock()
	if e.state != Electing || e.term != term {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	// no ALIVE arrived before T_elect expired
	e.becomeCoordinator(term)
}

func (e *Engine) resetCoordTimer(term int) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.coordTimer != nil {
		e.coordTimer.Stop()
	}
	e.coordTimer = time.AfterFunc(configs.CoordTimeout, func() {
		e.onCoordTimeout(term)
	})
}

func (e *Engine) onCoordTimeout(term int) {
	e.mu.Lock()
	if e.state != WaitingForHigher || e.term != term {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	// T_coord expired with no COORDINATOR announcement: run it again
	e.startElection()
}

func (e *Engine) becomeCoordinator(term int) {
	e.mu.Lock()
	if e.term != term {
		e.mu.Unlock()
		return
	}
	e.state = CoordinatorState
	e.coordinator = e.selfID
	e.known = true
	e.mu.Unlock()

	payload := coordinatorPayload{NodeID: e.selfID, Term: term}
	msg, err := message.New(e.selfID, message.Coordinator, payload)
	if err == nil {
		for _, addr := range e.peers {
			_ = e.sender.Send(addr, msg)
		}
	}

	select {
	case e.becameCoordinator <- e.selfID:
	default:
	}
}

// HandleElection responds to an inbound ELECTION message: reply ALIVE
// and start our own election if we're not already electing.
func (e *Engine) HandleElection(senderID int, msg message.Message) {
	var payload electionPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}

	e.mu.Lock()
	if payload.Term > e.term {
		e.term = payload.Term
	}
	addr, ok := e.peers[senderID]
	e.mu.Unlock()
	if !ok {
		return
	}

	reply, err := message.New(e.selfID, message.Alive, electionPayload{Term: e.Term()})
	if err == nil {
		_ = e.sender.Send(addr, reply)
	}

	e.mu.RLock()
	alreadyElecting := e.state == Electing || e.state == WaitingForHigher
	e.mu.RUnlock()
	if !alreadyElecting {
		e.startElection()
	}
}

// HandleAlive responds to an inbound ALIVE: a higher-id node is
// alive, so move to WAITING_FOR_HIGHER and wait for its COORDINATOR
// announcement.
func (e *Engine) HandleAlive(senderID int, msg message.Message) {
	e.mu.Lock()
	if e.state != Electing {
		e.mu.Unlock()
		return
	}
	e.state = WaitingForHigher
	term := e.term
	e.mu.Unlock()

	e.resetCoordTimer(term)
}

// HandleCoordinator adopts an announced coordinator if its term is at
// least our local term; a stale-term announcement is ignored.
func (e *Engine) HandleCoordinator(senderID int, msg message.Message) {
	var payload coordinatorPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}

	e.mu.Lock()
	if payload.Term < e.term {
		e.mu.Unlock()
		return
	}
	e.term = payload.Term
	e.state = Follower
	e.coordinator = payload.NodeID
	e.known = true
	e.mu.Unlock()
}

// Stop releases any pending timers. The Engine has no background
// ticker of its own — every wait is timer-driven from an event.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.timerMu.Lock()
		if e.electTimer != nil {
			e.electTimer.Stop()
		}
		if e.coordTimer != nil {
			e.coordTimer.Stop()
		}
		e.timerMu.Unlock()
	})
}
