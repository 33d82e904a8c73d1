// Package coordinator implements the transaction coordinator:
// statement classification, forwarding from non-coordinator nodes,
// read dispatch through a load balancer, and two-phase commit for
// writes and DDL across the current UP set. The same Manager also
// serves the participant side of each protocol round.
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"ddbmw/configs"
	"ddbmw/internal/backend"
	"ddbmw/internal/lockmgr"
	"ddbmw/internal/message"
	"ddbmw/internal/txnlog"
)

// Sender abstracts the Framed Messenger.
type Sender interface {
	Send(addr string, msg message.Message) error
}

// HealthView is the slice of health.Monitor the coordinator consumes.
type HealthView interface {
	UpSet() mapset.Set
	IsUp(nodeID int) bool
}

// ElectionView is the slice of election.Engine the coordinator
// consumes.
type ElectionView interface {
	CurrentCoordinator() (nodeID int, known bool)
}

// AddressBook resolves a node_id to the address the Messenger dials.
type AddressBook interface {
	Addr(nodeID int) (string, bool)
}

type pinnedSession struct {
	sess  backend.Session
	timer *time.Timer
}

// Manager is the Transaction Coordinator for one node.
type Manager struct {
	selfID  int
	addrs   AddressBook
	backend backend.Backend
	locks   *lockmgr.Manager
	txlog   *txnlog.Log
	sender  Sender
	health  HealthView
	elect   ElectionView
	lb      *LoadBalancer

	mu       sync.Mutex
	inFlight map[string]*Transaction // coordinator-side only

	sessions sync.Map // txn_id -> *pinnedSession, participant-side

	clientWaiters sync.Map // txn_id -> chan ClientReply
	readWaiters   sync.Map // txn_id -> chan readResultPayload
}

func New(selfID int, addrs AddressBook, be backend.Backend, locks *lockmgr.Manager, txlog *txnlog.Log, sender Sender, health HealthView, elect ElectionView) *Manager {
	return &Manager{
		selfID:   selfID,
		addrs:    addrs,
		backend:  be,
		locks:    locks,
		txlog:    txlog,
		sender:   sender,
		health:   health,
		elect:    elect,
		lb:       NewLoadBalancer(),
		inFlight: make(map[string]*Transaction),
	}
}

// ---- wire payloads ----

type clientRequestPayload struct {
	TxnID     string `json:"txn_id"`
	Statement string `json:"statement"`
}

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ClientReply struct {
	OK           bool       `json:"ok"`
	TxnID        string     `json:"txn_id"`
	AffectedRows *int64     `json:"affected_rows,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
	Columns      []string   `json:"columns,omitempty"`
	Error        *ErrorInfo `json:"error,omitempty"`
	NodeID       int        `json:"node_id"`
}

type preparePayload struct {
	TxnID     string `json:"txn_id"`
	Statement string `json:"statement"`
}

type votePayload struct {
	TxnID string `json:"txn_id"`
	Vote  string `json:"vote"`
}

type decidePayload struct {
	TxnID string `json:"txn_id"`
}

type ackPayload struct {
	TxnID string `json:"txn_id"`
}

type executeReadPayload struct {
	TxnID     string `json:"txn_id"`
	Statement string `json:"statement"`
}

type readResultPayload struct {
	TxnID   string     `json:"txn_id"`
	Rows    [][]string `json:"rows,omitempty"`
	Columns []string   `json:"columns,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

type txnStatusPayload struct {
	TxnID string `json:"txn_id"`
}

type txnStatusReplyPayload struct {
	TxnID  string `json:"txn_id"`
	Status string `json:"status"`
}

func codedErr(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: string(message.KindOf(err)), Message: err.Error()}
}

// ---- client-facing entry point ----

// Submit is called by internal/clientproto with a freshly-arrived
// statement from a directly-connected client. It classifies, forwards
// to the coordinator if this node is not it, or handles the statement
// directly if it is.
func (m *Manager) Submit(ctx context.Context, statement string) ClientReply {
	txnID := message.NewTxnID()

	kind, err := Classify(statement)
	if err != nil {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(err), NodeID: m.selfID}
	}

	coordID, known := m.elect.CurrentCoordinator()
	if !known {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "no coordinator known")), NodeID: m.selfID}
	}

	if coordID == m.selfID {
		return m.coordinate(txnID, m.selfID, statement, kind)
	}
	return m.forward(txnID, coordID, statement)
}

// forward sends CLIENT_REQUEST to the coordinator and awaits
// CLIENT_REPLY, watching for the coordinator dying mid-wait.
func (m *Manager) forward(txnID string, coordID int, statement string) ClientReply {
	addr, ok := m.addrs.Addr(coordID)
	if !ok {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "unknown coordinator address")), NodeID: m.selfID}
	}

	waiter := make(chan ClientReply, 1)
	m.clientWaiters.Store(txnID, waiter)
	defer m.clientWaiters.Delete(txnID)

	msg, err := message.New(m.selfID, message.ClientRequest, clientRequestPayload{TxnID: txnID, Statement: statement})
	if err != nil {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.BackendError, err.Error())), NodeID: m.selfID}
	}
	if err := m.sender.Send(addr, msg); err != nil {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "coordinator unreachable")), NodeID: m.selfID}
	}

	deadline := time.NewTimer(configs.ClientReplyTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case reply := <-waiter:
			return reply
		case <-deadline.C:
			return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "coordinator did not reply in time")), NodeID: m.selfID}
		case <-poll.C:
			if !m.health.IsUp(coordID) {
				return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "coordinator went down mid-request")), NodeID: m.selfID}
			}
		}
	}
}

// HandleClientRequest is the coordinator-side handler for an inbound
// CLIENT_REQUEST forwarded by another node. The forwarded txn_id is
// kept — the origin's reply waiter is keyed on it, so the CLIENT_REPLY
// must carry it back unchanged.
func (m *Manager) HandleClientRequest(senderID int, msg message.Message) {
	var payload clientRequestPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	txnID := payload.TxnID
	if txnID == "" {
		txnID = message.NewTxnID()
	}

	kind, err := Classify(payload.Statement)
	var reply ClientReply
	if err != nil {
		reply = ClientReply{OK: false, TxnID: txnID, Error: codedErr(err), NodeID: m.selfID}
	} else {
		reply = m.coordinate(txnID, senderID, payload.Statement, kind)
	}

	addr, ok := m.addrs.Addr(senderID)
	if !ok {
		return
	}
	out, err := message.New(m.selfID, message.ClientReply, reply)
	if err == nil {
		_ = m.sender.Send(addr, out)
	}
}

// HandleClientReply delivers a CLIENT_REPLY to whichever forward call
// is waiting on this txn_id.
func (m *Manager) HandleClientReply(msg message.Message) {
	var payload ClientReply
	if err := msg.Decode(&payload); err != nil {
		return
	}
	if v, ok := m.clientWaiters.Load(payload.TxnID); ok {
		select {
		case v.(chan ClientReply) <- payload:
		default:
		}
	}
}

// coordinate runs on the coordinator node only: dispatches a read or
// runs 2PC for a write/DDL.
func (m *Manager) coordinate(txnID string, originNodeID int, statement string, kind Kind) ClientReply {
	if kind == Read {
		return m.dispatchRead(txnID, statement)
	}
	return m.runTwoPC(txnID, originNodeID, statement, kind)
}

// ---- read dispatch ----

func (m *Manager) dispatchRead(txnID, statement string) ClientReply {
	up := setToInts(m.health.UpSet())
	if len(up) == 0 {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "no UP nodes to serve read")), NodeID: m.selfID}
	}
	target := m.lb.Pick(up, configs.ReadDispatchStrategy)
	m.lb.Begin(target)
	defer m.lb.End(target)

	if target == m.selfID {
		rows, cols, err := m.localRead(statement)
		if err != nil {
			return ClientReply{OK: false, TxnID: txnID, Error: codedErr(err), NodeID: m.selfID}
		}
		return ClientReply{OK: true, TxnID: txnID, Rows: rows, Columns: cols, NodeID: m.selfID}
	}

	addr, ok := m.addrs.Addr(target)
	if !ok {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "unknown target address")), NodeID: m.selfID}
	}

	waiter := make(chan readResultPayload, 1)
	m.readWaiters.Store(txnID, waiter)
	defer m.readWaiters.Delete(txnID)

	msg, err := message.New(m.selfID, message.ExecuteRead, executeReadPayload{TxnID: txnID, Statement: statement})
	if err != nil {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.BackendError, err.Error())), NodeID: m.selfID}
	}
	if err := m.sender.Send(addr, msg); err != nil {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.UnreachablePeer, "target unreachable")), NodeID: m.selfID}
	}

	select {
	case res := <-waiter:
		if res.Error != nil {
			return ClientReply{OK: false, TxnID: txnID, Error: res.Error, NodeID: m.selfID}
		}
		return ClientReply{OK: true, TxnID: txnID, Rows: res.Rows, Columns: res.Columns, NodeID: m.selfID}
	case <-time.After(configs.ClientReplyTimeout):
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "read target did not reply in time")), NodeID: m.selfID}
	}
}

func (m *Manager) localRead(statement string) ([][]string, []string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), configs.PoolAcquireTimeout+configs.ClientReplyTimeout)
	defer cancel()
	sess, err := m.backend.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer sess.Rollback(ctx)

	rows, cols, err := sess.Query(ctx, statement)
	if err != nil {
		return nil, nil, err
	}
	return rowsToStrings(rows), cols, nil
}

func rowsToStrings(rows []backend.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		cells := make([]string, len(r))
		for j, v := range r {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out
}

// HandleExecuteRead runs statement locally and replies READ_RESULT.
func (m *Manager) HandleExecuteRead(senderID int, msg message.Message) {
	var payload executeReadPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	rows, cols, err := m.localRead(payload.Statement)

	reply := readResultPayload{TxnID: payload.TxnID, Rows: rows, Columns: cols, Error: codedErr(err)}
	addr, ok := m.addrs.Addr(senderID)
	if !ok {
		return
	}
	out, merr := message.New(m.selfID, message.ReadResult, reply)
	if merr == nil {
		_ = m.sender.Send(addr, out)
	}
}

// HandleReadResult delivers a READ_RESULT to whichever read dispatch
// is waiting on this txn_id.
func (m *Manager) HandleReadResult(msg message.Message) {
	var payload readResultPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	if v, ok := m.readWaiters.Load(payload.TxnID); ok {
		select {
		case v.(chan readResultPayload) <- payload:
		default:
		}
	}
}

// ---- 2PC ----

var (
	insertTableRe = regexp.MustCompile(`(?i)INSERT\s+INTO\s+(\w+)`)
	updateTableRe = regexp.MustCompile(`(?i)UPDATE\s+(\w+)`)
	deleteTableRe = regexp.MustCompile(`(?i)DELETE\s+FROM\s+(\w+)`)
	ddlTableRe    = regexp.MustCompile(`(?i)(?:CREATE|ALTER|DROP|TRUNCATE)\s+TABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?(\w+)`)
)

func extractTable(statement string) string {
	for _, re := range []*regexp.Regexp{insertTableRe, updateTableRe, deleteTableRe, ddlTableRe} {
		if m := re.FindStringSubmatch(statement); m != nil {
			return m[1]
		}
	}
	return "_unknown"
}

// runTwoPC orchestrates PREPARE then DECIDE across all current UP
// nodes. The decision itself is the commit point; participant ACKs
// are not awaited.
func (m *Manager) runTwoPC(txnID string, originNodeID int, statement string, kind Kind) ClientReply {
	up := setToInts(m.health.UpSet())
	if len(up) == 0 {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Unavailable, "no participants available")), NodeID: m.selfID}
	}

	participants := make(map[int]bool, len(up))
	for _, id := range up {
		participants[id] = true
		m.lb.Begin(id)
	}
	defer func() {
		for id := range participants {
			m.lb.End(id)
		}
	}()
	txn := newTransaction(txnID, originNodeID, statement, kind, participants)

	m.mu.Lock()
	m.inFlight[txnID] = txn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, txnID)
		m.mu.Unlock()
	}()

	if _, err := m.txlog.Append(txnID, string(kind), statement); err != nil {
		configs.TPrintf("coordinator: failed to log PREPARING for %s: %v", txnID, err)
	}

	txn.setPhase(Preparing)
	m.broadcastPrepare(txn)

	select {
	case <-txn.finish:
	case <-time.After(configs.PrepareTimeout):
	}

	txn.fillMissingAsTimeout()

	commit := txn.allYes()
	if commit {
		txn.setPhase(Committing)
	} else {
		txn.setPhase(Aborting)
	}
	m.broadcastDecide(txn, commit)

	if commit {
		txn.setPhase(Committed)
		affected := txn.affectedRows()
		return ClientReply{OK: true, TxnID: txnID, AffectedRows: &affected, NodeID: m.selfID}
	}
	txn.setPhase(Aborted)
	if txn.anyTimeout() {
		return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.TxnTimeout, "2PC timed out gathering votes")), NodeID: m.selfID}
	}
	return ClientReply{OK: false, TxnID: txnID, Error: codedErr(message.NewError(message.Aborted, "2PC aborted")), NodeID: m.selfID}
}

func (m *Manager) broadcastPrepare(txn *Transaction) {
	for id := range txn.Participants {
		id := id
		if id == m.selfID {
			go func() {
				vote, n := m.participantPrepare(txn.TxnID, txn.Statement)
				if vote == VoteYes {
					txn.setAffected(n)
				}
				txn.recordVote(m.selfID, vote)
			}()
			continue
		}
		addr, ok := m.addrs.Addr(id)
		if !ok {
			txn.recordVote(id, VoteNo)
			continue
		}
		msg, err := message.New(m.selfID, message.Prepare, preparePayload{TxnID: txn.TxnID, Statement: txn.Statement})
		if err != nil {
			txn.recordVote(id, VoteNo)
			continue
		}
		if err := m.sender.Send(addr, msg); err != nil {
			// unreachable participant counts as NO
			txn.recordVote(id, VoteNo)
		}
	}
}

func (m *Manager) broadcastDecide(txn *Transaction, commit bool) {
	decideType := message.Abort
	if commit {
		decideType = message.Commit
	}
	for id := range txn.Participants {
		id := id
		if id == m.selfID {
			m.finalizeLocal(txn.TxnID, commit)
			continue
		}
		addr, ok := m.addrs.Addr(id)
		if !ok {
			continue
		}
		msg, err := message.New(m.selfID, decideType, decidePayload{TxnID: txn.TxnID})
		if err != nil {
			continue
		}
		go func() { _ = m.sender.Send(addr, msg) }()
	}
}

// HandlePrepare is the participant-side PREPARE handler: acquire
// locks, run the statement, validate, vote.
func (m *Manager) HandlePrepare(senderID int, msg message.Message) {
	var payload preparePayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	vote, _ := m.participantPrepare(payload.TxnID, payload.Statement)

	addr, ok := m.addrs.Addr(senderID)
	if !ok {
		return
	}
	reply, err := message.New(m.selfID, message.Vote, votePayload{TxnID: payload.TxnID, Vote: string(vote)})
	if err == nil {
		_ = m.sender.Send(addr, reply)
	}
}

// participantPrepare acquires the lock, executes the statement in an
// open transaction, and prepares it, pinning the session until a
// decision arrives. Used both for the local in-process participant and
// for this node's side of a remote PREPARE.
func (m *Manager) participantPrepare(txnID, statement string) (Vote, int64) {
	table := extractTable(statement)

	if err := m.locks.Acquire(txnID, table, lockmgr.Exclusive, configs.LockTimeout); err != nil {
		return VoteNo, 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), configs.PrepareTimeout)
	defer cancel()

	sess, err := m.backend.Begin(ctx)
	if err != nil {
		m.locks.ReleaseAll(txnID)
		return VoteNo, 0
	}
	affected, err := sess.Execute(ctx, statement)
	if err != nil {
		sess.Rollback(ctx)
		m.locks.ReleaseAll(txnID)
		return VoteNo, 0
	}
	if err := sess.Prepare(ctx); err != nil {
		sess.Rollback(ctx)
		m.locks.ReleaseAll(txnID)
		return VoteNo, 0
	}

	// the coordinator logs PREPARING before broadcasting, so only log
	// here when this node first learns of the transaction
	if _, known := m.txlog.Status(txnID); !known {
		kind, _ := Classify(statement)
		if _, err := m.txlog.Append(txnID, string(kind), statement); err != nil {
			configs.TPrintf("coordinator: failed to log PREPARING for %s: %v", txnID, err)
		}
	}

	timer := time.AfterFunc(configs.TxnPhaseTimeout, func() { m.unilateralAbort(txnID) })
	m.sessions.Store(txnID, &pinnedSession{sess: sess, timer: timer})
	return VoteYes, affected
}

// unilateralAbort covers a coordinator dying between PREPARE and the
// decision: a participant that voted YES but never heard back holds
// its locks for configs.TxnPhaseTimeout, then aborts on its own.
func (m *Manager) unilateralAbort(txnID string) {
	v, ok := m.sessions.LoadAndDelete(txnID)
	if !ok {
		return
	}
	ps := v.(*pinnedSession)
	ctx := context.Background()
	ps.sess.Rollback(ctx)
	if err := m.txlog.Transition(txnID, txnlog.Aborted); err != nil {
		configs.TPrintf("coordinator: failed to log unilateral ABORTED for %s: %v", txnID, err)
	}
	m.locks.ReleaseAll(txnID)
}

func (m *Manager) finalizeLocal(txnID string, commit bool) {
	v, ok := m.sessions.LoadAndDelete(txnID)
	if !ok {
		return
	}
	ps := v.(*pinnedSession)
	ps.timer.Stop()
	ctx := context.Background()

	if commit {
		if err := ps.sess.Commit(ctx); err != nil {
			configs.TPrintf("coordinator: commit failed for %s: %v", txnID, err)
		}
		m.txlog.Transition(txnID, txnlog.Committed)
	} else {
		ps.sess.Rollback(ctx)
		m.txlog.Transition(txnID, txnlog.Aborted)
	}
	m.locks.ReleaseAll(txnID)
}

// HandleCommit is the participant-side COMMIT handler.
func (m *Manager) HandleCommit(senderID int, msg message.Message) {
	var payload decidePayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	m.finalizeLocal(payload.TxnID, true)
	m.sendAck(senderID, payload.TxnID)
}

// HandleAbort is the participant-side ABORT handler.
func (m *Manager) HandleAbort(senderID int, msg message.Message) {
	var payload decidePayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	m.finalizeLocal(payload.TxnID, false)
	m.sendAck(senderID, payload.TxnID)
}

func (m *Manager) sendAck(coordinatorID int, txnID string) {
	addr, ok := m.addrs.Addr(coordinatorID)
	if !ok {
		return
	}
	msg, err := message.New(m.selfID, message.Ack, ackPayload{TxnID: txnID})
	if err == nil {
		_ = m.sender.Send(addr, msg)
	}
}

// HandleAck observes a participant's ACK. Nothing waits on it — the
// coordinator's decision, not ACK receipt, is the commit point — so
// this is logging only.
func (m *Manager) HandleAck(senderID int, msg message.Message) {
	var payload ackPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	configs.TPrintf("coordinator: ACK for %s from node %d", payload.TxnID, senderID)
}

// HandleVote records a remote participant's vote against the
// coordinator-side Transaction.
func (m *Manager) HandleVote(msg message.Message) {
	var payload votePayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	m.mu.Lock()
	txn := m.inFlight[payload.TxnID]
	m.mu.Unlock()
	if txn == nil {
		return
	}
	txn.recordVote(msg.SenderID, Vote(payload.Vote))
}

// ---- recovery ----

// HandleTxnStatus answers a TXN_STATUS query from a participant that
// missed a decision. Only meaningful when this node is currently the
// coordinator for that transaction.
func (m *Manager) HandleTxnStatus(senderID int, msg message.Message) {
	var payload txnStatusPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	status := "UNKNOWN"
	m.mu.Lock()
	if txn, ok := m.inFlight[payload.TxnID]; ok {
		status = string(txn.getPhase())
	}
	m.mu.Unlock()
	if status == "UNKNOWN" {
		// rounds that already finished live only in the log
		if st, ok := m.txlog.Status(payload.TxnID); ok {
			status = string(st)
		}
	}

	addr, ok := m.addrs.Addr(senderID)
	if !ok {
		return
	}
	reply, err := message.New(m.selfID, message.TxnStatusReply, txnStatusReplyPayload{TxnID: payload.TxnID, Status: status})
	if err == nil {
		_ = m.sender.Send(addr, reply)
	}
}

// HandleTxnStatusReply finalizes a still-pinned PREPARING session
// once its outcome is learned.
func (m *Manager) HandleTxnStatusReply(msg message.Message) {
	var payload txnStatusReplyPayload
	if err := msg.Decode(&payload); err != nil {
		return
	}
	switch Phase(payload.Status) {
	case Committed:
		m.finalizeLocal(payload.TxnID, true)
	case Aborted, Aborting:
		m.finalizeLocal(payload.TxnID, false)
	default:
		// still unresolved or unknown to the responder; caller may retry.
	}
}

// RequestStatus asks coordinatorID for the outcome of txnID. Used both
// by a participant whose decision is overdue and, at startup, for
// transactions_log rows left PREPARING by a crash.
func (m *Manager) RequestStatus(coordinatorID int, txnID string) {
	addr, ok := m.addrs.Addr(coordinatorID)
	if !ok {
		return
	}
	msg, err := message.New(m.selfID, message.TxnStatus, txnStatusPayload{TxnID: txnID})
	if err == nil {
		_ = m.sender.Send(addr, msg)
	}
}

// OnPeerUp re-requests the outcome of every transaction this node
// still holds pinned when the coordinator becomes reachable again. The
// decision broadcast is fire-and-forget with no retry, so a dropped
// COMMIT/ABORT would otherwise strand the session until the phase
// timeout aborts it unilaterally — possibly diverging from a
// coordinator that decided COMMIT.
func (m *Manager) OnPeerUp(peerID int) {
	coordID, known := m.elect.CurrentCoordinator()
	if !known || peerID != coordID {
		return
	}
	m.sessions.Range(func(k, _ interface{}) bool {
		m.RequestStatus(coordID, k.(string))
		return true
	})
}

// RecoverOnStartup sends TXN_STATUS to the current coordinator (if one
// is known yet) for every PREPARING transactions_log row left over from
// a previous run. HandleTxnStatusReply only finalizes transactions
// whose session is still pinned in this process; a row from a previous
// run has no pinned session, so the reply leaves it PREPARING and its
// write is not re-applied. In-flight rounds whose coordinator died are
// lost and the client retries.
func (m *Manager) RecoverOnStartup() {
	coordID, known := m.elect.CurrentCoordinator()
	if !known {
		return
	}
	for _, r := range m.txlog.PendingPreparing() {
		m.RequestStatus(coordID, r.TxnID)
	}
}

// Shutdown rolls back every still-pinned participant session and
// releases its locks. The log rows stay PREPARING; after a restart
// RecoverOnStartup queries the coordinator about them again.
func (m *Manager) Shutdown() {
	m.sessions.Range(func(k, v interface{}) bool {
		ps := v.(*pinnedSession)
		ps.timer.Stop()
		ps.sess.Rollback(context.Background())
		m.locks.ReleaseAll(k.(string))
		m.sessions.Delete(k)
		return true
	})
}

func setToInts(s mapset.Set) []int {
	out := make([]int, 0, s.Cardinality())
	for v := range s.Iter() {
		out = append(out, v.(int))
	}
	return out
}
