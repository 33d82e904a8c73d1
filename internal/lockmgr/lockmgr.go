// Package lockmgr implements the per-table lock manager:
// shared/exclusive locks with FIFO waiters and a per-waiter timeout.
// There is no deadlock detection; two writes racing over disjoint
// acquisition orders resolve via timeout.
package lockmgr

import (
	"time"

	"github.com/viney-shih/go-lock"

	"ddbmw/configs"
	"ddbmw/internal/message"
)

// Mode is a lock request's mode.
type Mode string

const (
	Shared    Mode = configs.LockShared
	Exclusive Mode = configs.LockExclusive
)

func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

// waiter is one queued or granted lock request for a table. gate is a
// one-shot CASMutex: the requesting goroutine locks it immediately on
// creation (uncontested, so this never blocks), then re-locks it with
// a timeout to wait for the grant; tryGrantHead signals a grant by
// unlocking it.
type waiter struct {
	txnID string
	mode  Mode
	gate  lock.Mutex
}

// tableLocks is the held-set and FIFO waiter queue for a single
// table, guarded by its own mutex.
type tableLocks struct {
	mu      lock.Mutex
	holders map[string]Mode // txn_id -> mode, currently granted
	queue   []*waiter
}

// Manager is local to each node: contention is only between
// concurrent write sessions initiated by the coordinator and local
// reads dispatched here.
type Manager struct {
	mu     lock.Mutex
	tables map[string]*tableLocks
	// heldBy tracks which tables each txn currently holds, for
	// ReleaseAll.
	heldBy map[string]map[string]bool
}

func NewManager() *Manager {
	return &Manager{
		mu:     lock.NewCASMutex(),
		tables: make(map[string]*tableLocks),
		heldBy: make(map[string]map[string]bool),
	}
}

func (m *Manager) tableFor(table string) *tableLocks {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = &tableLocks{mu: lock.NewCASMutex(), holders: make(map[string]Mode)}
		m.tables[table] = t
	}
	return t
}

// Acquire grants the lock in FIFO order — no barging ahead of an
// earlier waiter even if the requested mode would otherwise be
// immediately compatible. A waiter blocked longer than timeout
// (default configs.LockTimeout) is dequeued and reported as a
// LOCK_TIMEOUT.
func (m *Manager) Acquire(txnID, table string, mode Mode, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = configs.LockTimeout
	}
	t := m.tableFor(table)

	w := &waiter{txnID: txnID, mode: mode, gate: lock.NewCASMutex()}
	w.gate.Lock()

	t.mu.Lock()
	t.queue = append(t.queue, w)
	t.tryGrantHead()
	t.mu.Unlock()

	// gate may already be unlocked by tryGrantHead above, in which case
	// this succeeds immediately instead of actually waiting out timeout.
	if !w.gate.TryLockWithTimeout(timeout) {
		t.mu.Lock()
		t.removeWaiter(w)
		t.mu.Unlock()
		return message.NewError(message.LockTimeout, "timed out waiting for "+string(mode)+" lock on "+table)
	}

	m.mu.Lock()
	if m.heldBy[txnID] == nil {
		m.heldBy[txnID] = make(map[string]bool)
	}
	m.heldBy[txnID][table] = true
	m.mu.Unlock()
	return nil
}

// tryGrantHead grants the front of the queue while compatible with
// the current holders, strictly in order — it never skips ahead to
// grant a later, compatible waiter while an earlier one is blocked.
// Caller must hold t.mu.
func (t *tableLocks) tryGrantHead() {
	for len(t.queue) > 0 {
		head := t.queue[0]
		if !t.compatibleWithHolders(head.mode) {
			break
		}
		t.holders[head.txnID] = head.mode
		t.queue = t.queue[1:]
		head.gate.Unlock()
	}
}

func (t *tableLocks) compatibleWithHolders(mode Mode) bool {
	if len(t.holders) == 0 {
		return true
	}
	for _, held := range t.holders {
		if !compatible(held, mode) {
			return false
		}
	}
	return mode == Shared
}

func (t *tableLocks) removeWaiter(w *waiter) {
	for i, q := range t.queue {
		if q == w {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}

// ReleaseAll releases every lock held by txnID and advances each
// affected table's FIFO queue.
func (m *Manager) ReleaseAll(txnID string) {
	m.mu.Lock()
	tables := m.heldBy[txnID]
	delete(m.heldBy, txnID)
	m.mu.Unlock()

	for table := range tables {
		t := m.tableFor(table)
		t.mu.Lock()
		delete(t.holders, txnID)
		t.tryGrantHead()
		t.mu.Unlock()
	}
}
