// Package node wires the messenger, backend adapter, lock manager,
// transaction log, health monitor, election engine and transaction
// coordinator into one running cluster member, and routes every
// inbound message to the component that owns its Type. There is no
// coordinator/participant process split — every node runs every
// component, and any node may become coordinator.
package node

import (
	"context"
	"fmt"

	"ddbmw/configs"
	"ddbmw/internal/backend"
	"ddbmw/internal/coordinator"
	"ddbmw/internal/election"
	"ddbmw/internal/health"
	"ddbmw/internal/lockmgr"
	"ddbmw/internal/message"
	"ddbmw/internal/transport"
	"ddbmw/internal/txnlog"
)

// topologyAddrs adapts configs.Topology to coordinator.AddressBook.
type topologyAddrs struct {
	topo configs.Topology
}

func (a topologyAddrs) Addr(nodeID int) (string, bool) {
	n, ok := a.topo.NodeByID(nodeID)
	if !ok {
		return "", false
	}
	return n.Addr(), true
}

// Node is one running cluster member.
type Node struct {
	selfID int
	topo   configs.Topology

	msn   *transport.Messenger
	be    *backend.Pool
	locks *lockmgr.Manager
	txlog *txnlog.Log
	hlth  *health.Monitor
	elect *election.Engine
	coord *coordinator.Manager

	stop chan struct{}
}

// Start loads no further configuration itself: topo must already carry
// every tunable (configs.LoadTopology applies them), and walDir is
// where this node's transactions_log lives.
func Start(ctx context.Context, topo configs.Topology, walDir string) (*Node, error) {
	self, ok := topo.NodeByID(topo.Self)
	if !ok {
		return nil, fmt.Errorf("node: self id %d not present in topology", topo.Self)
	}

	peerAddrs := make(map[int]string)
	for _, p := range topo.Peers() {
		peerAddrs[p.NodeID] = p.Addr()
	}

	be, err := backend.Open(ctx, self.BackendDSN)
	if err != nil {
		return nil, fmt.Errorf("node: opening backend: %w", err)
	}
	if !be.PoolHealth(ctx) {
		configs.TPrintf("node %d: backend not answering pings yet", self.NodeID)
	}

	txlog, err := txnlog.Open(walDir, self.NodeID, len(topo.Nodes))
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("node: opening transaction log: %w", err)
	}

	n := &Node{
		selfID: self.NodeID,
		topo:   topo,
		be:     be,
		locks:  lockmgr.NewManager(),
		txlog:  txlog,
		stop:   make(chan struct{}),
	}

	msn, err := transport.New(self.NodeID, self.Addr(), n.dispatch)
	if err != nil {
		be.Close()
		txlog.Close()
		return nil, fmt.Errorf("node: binding listener: %w", err)
	}
	n.msn = msn

	n.elect = election.New(self.NodeID, peerAddrs, msn, func(id int) bool { return n.hlth.IsUp(id) })
	n.hlth = health.New(self.NodeID, peerAddrs, msn, n.elect)
	n.coord = coordinator.New(self.NodeID, topologyAddrs{topo: topo}, be, n.locks, txlog, msn, n.hlth, n.elect)

	go msn.Run()
	go n.hlth.RunSend()
	go n.hlth.RunMonitor()
	go txlog.Run(n.stop)
	go n.watchHealthEvents()

	n.elect.Start()
	n.coord.RecoverOnStartup()

	return n, nil
}

// Submit runs a client-supplied statement to completion and returns
// the reply exactly as it should be marshaled back to the client.
func (n *Node) Submit(ctx context.Context, statement string) coordinator.ClientReply {
	return n.coord.Submit(ctx, statement)
}

// watchHealthEvents routes health's transitions to their consumers:
// coordinator_lost starts a new election round, and a peer coming back
// UP lets the transaction coordinator chase decisions it may have
// missed while the peer was unreachable.
func (n *Node) watchHealthEvents() {
	for {
		select {
		case term := <-n.hlth.CoordinatorLost():
			n.elect.OnCoordinatorLost(term)
		case id := <-n.hlth.PeerUp():
			n.coord.OnPeerUp(id)
		case id := <-n.hlth.PeerDown():
			configs.TPrintf("node %d: peer %d is DOWN", n.selfID, id)
		case <-n.stop:
			return
		}
	}
}

// dispatch routes one verified inbound message to the component that
// owns its Type.
func (n *Node) dispatch(msg message.Message) {
	switch msg.Type {
	case message.Heartbeat:
		n.hlth.HandleHeartbeat(msg.SenderID)
	case message.Election:
		n.elect.HandleElection(msg.SenderID, msg)
	case message.Alive:
		n.elect.HandleAlive(msg.SenderID, msg)
	case message.Coordinator:
		n.elect.HandleCoordinator(msg.SenderID, msg)
	case message.ClientRequest:
		n.coord.HandleClientRequest(msg.SenderID, msg)
	case message.ClientReply:
		n.coord.HandleClientReply(msg)
	case message.Prepare:
		n.coord.HandlePrepare(msg.SenderID, msg)
	case message.Vote:
		n.coord.HandleVote(msg)
	case message.Commit:
		n.coord.HandleCommit(msg.SenderID, msg)
	case message.Abort:
		n.coord.HandleAbort(msg.SenderID, msg)
	case message.Ack:
		n.coord.HandleAck(msg.SenderID, msg)
	case message.ExecuteRead:
		n.coord.HandleExecuteRead(msg.SenderID, msg)
	case message.ReadResult:
		n.coord.HandleReadResult(msg)
	case message.TxnStatus:
		n.coord.HandleTxnStatus(msg.SenderID, msg)
	case message.TxnStatusReply:
		n.coord.HandleTxnStatusReply(msg)
	default:
		configs.TPrintf("node: dropping message of unknown type %q from node %d", msg.Type, msg.SenderID)
	}
}

// Stop tears down every background goroutine, aborts still-pinned
// participant sessions, and releases resources.
func (n *Node) Stop() {
	close(n.stop)
	n.elect.Stop()
	n.hlth.Stop()
	n.msn.Close()
	n.coord.Shutdown()
	n.txlog.Close()
	n.be.Close()
}
