// Package txnlog persists the per-node transactions_log: one
// append-only row per transaction state transition, batched to disk
// on a ticker. Row ids follow the cluster's auto-increment
// convention — id = offset + n*stride with offset = node_id and
// stride = cluster size — so locally minted ids never collide across
// nodes.
package txnlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/wal"

	"ddbmw/configs"
)

// Status mirrors a transaction's lifecycle as recorded in the log.
type Status string

const (
	Preparing Status = "PREPARING"
	Committed Status = "COMMITTED"
	Aborted   Status = "ABORTED"
)

// Record is one transactions_log row.
type Record struct {
	ID        uint64    `json:"id"`
	TxnID     string    `json:"txn_id"`
	QueryType string    `json:"query_type"`
	QueryText string    `json:"query_text"`
	Status    Status    `json:"status"`
	NodeID    int       `json:"node_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is the per-node transactions_log, backed by a tidwall/wal
// append-only file. Ids are assigned with stride = clusterSize, offset
// = nodeID so two nodes never mint the same id for different rows.
type Log struct {
	mu          sync.Mutex
	nodeID      int
	clusterSize int
	nextSeq     uint64 // how many ids this node has minted so far
	wal         *wal.Log
	buffer      *wal.Batch
	walIdx      uint64
	pending     int

	byTxn map[string]*Record
}

// Open opens (or creates) the WAL file under dir for this node and
// replays it into memory; whatever this node knows about past
// transactions after a restart comes entirely from this replay.
func Open(dir string, nodeID, clusterSize int) (*Log, error) {
	if clusterSize <= 0 {
		clusterSize = 1
	}
	w, err := wal.Open(dir, nil)
	if err != nil {
		return nil, err
	}
	l := &Log{
		nodeID:      nodeID,
		clusterSize: clusterSize,
		wal:         w,
		buffer:      &wal.Batch{},
		byTxn:       make(map[string]*Record),
	}
	if err := l.replay(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) replay() error {
	last, err := l.wal.LastIndex()
	if err != nil {
		return err
	}
	l.walIdx = last
	first, err := l.wal.FirstIndex()
	if err != nil {
		return err
	}
	for idx := first; idx != 0 && idx <= last; idx++ {
		raw, err := l.wal.Read(idx)
		if err != nil {
			return err
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue // drop what doesn't parse rather than halt startup
		}
		l.byTxn[r.TxnID] = &r
		if r.ID >= l.nodeOffsetFloor() {
			minted := (r.ID-uint64(l.nodeID))/uint64(l.clusterSize) + 1
			if minted > l.nextSeq {
				l.nextSeq = minted
			}
		}
	}
	return nil
}

func (l *Log) nodeOffsetFloor() uint64 {
	return uint64(l.nodeID)
}

func (l *Log) nextID() uint64 {
	id := uint64(l.nodeID) + l.nextSeq*uint64(l.clusterSize)
	l.nextSeq++
	return id
}

// Append writes a new PREPARING row for txnID and returns its
// assigned id. Called once per transaction at PREPARE time.
func (l *Log) Append(txnID, queryType, queryText string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := &Record{
		ID:        l.nextID(),
		TxnID:     txnID,
		QueryType: queryType,
		QueryText: queryText,
		Status:    Preparing,
		NodeID:    l.nodeID,
		CreatedAt: time.Now(),
	}
	l.byTxn[txnID] = r
	return r, l.write(r)
}

// Transition updates txnID's status to status (COMMITTED or ABORTED)
// and appends the new row version to the WAL. Unknown txnID is a
// no-op: the transaction was never locally logged (e.g. a read-only
// statement), which is not an error.
func (l *Log) Transition(txnID string, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byTxn[txnID]
	if !ok {
		return nil
	}
	updated := *r
	updated.Status = status
	l.byTxn[txnID] = &updated
	return l.write(&updated)
}

// write stages r into the pending batch. Caller must hold l.mu.
func (l *Log) write(r *Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	l.walIdx++
	l.buffer.Write(l.walIdx, body)
	l.pending++
	return nil
}

// PendingPreparing returns every locally logged transaction still in
// the PREPARING state — the rows a restarting participant asks the
// coordinator about.
func (l *Log) PendingPreparing() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for _, r := range l.byTxn {
		if r.Status == Preparing {
			out = append(out, *r)
		}
	}
	return out
}

// Status returns the last known status for txnID and whether it is
// known at all.
func (l *Log) Status(txnID string) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.byTxn[txnID]
	if !ok {
		return "", false
	}
	return r.Status, true
}

// Get returns the full last-known record for txnID.
func (l *Log) Get(txnID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.byTxn[txnID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Run flushes the pending batch to disk every
// configs.LogBatchInterval until stop is closed.
func (l *Log) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(configs.LogBatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-stop:
			l.flush()
			return
		}
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == 0 {
		return
	}
	if err := l.wal.WriteBatch(l.buffer); err != nil {
		configs.TPrintf("txnlog: batch write failed: %v", err)
		return
	}
	l.buffer.Clear()
	l.pending = 0
}

func (l *Log) Close() error {
	l.flush()
	return l.wal.Close()
}

func (r Record) String() string {
	return fmt.Sprintf("txnlog(id=%d txn=%s status=%s)", r.ID, r.TxnID, r.Status)
}
