package lockmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddbmw/internal/message"
)

func TestSharedLocksCoexist(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Acquire("txn1", "accounts", Shared, time.Second))
	require.NoError(t, m.Acquire("txn2", "accounts", Shared, time.Second))
}

func TestExclusiveExcludesEverything(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Acquire("txn1", "accounts", Exclusive, time.Second))

	done := make(chan error, 1)
	go func() {
		done <- m.Acquire("txn2", "accounts", Shared, 50*time.Millisecond)
	}()

	err := <-done
	require.Error(t, err)
	assert.Equal(t, message.LockTimeout, message.KindOf(err))
}

func TestFIFOOrderingNoBarging(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Acquire("txn1", "accounts", Exclusive, time.Second))

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	// txn2 asks for Exclusive first, txn3 asks for Shared second. Even
	// though Shared could in principle be granted to more waiters
	// later, txn3 must not jump ahead of txn2 once txn1 releases; it is
	// granted only after txn2 releases its exclusive lock in turn.
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := m.Acquire("txn2", "accounts", Exclusive, time.Second); err == nil {
			mu.Lock()
			order = append(order, "txn2")
			mu.Unlock()
			m.ReleaseAll("txn2")
		}
	}()
	time.Sleep(20 * time.Millisecond) // ensure txn2 enqueues before txn3
	go func() {
		defer wg.Done()
		if err := m.Acquire("txn3", "accounts", Shared, time.Second); err == nil {
			mu.Lock()
			order = append(order, "txn3")
			mu.Unlock()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	m.ReleaseAll("txn1")

	wg.Wait()
	require.Equal(t, []string{"txn2", "txn3"}, order)
}

func TestReleaseAllAdvancesQueue(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Acquire("txn1", "accounts", Exclusive, time.Second))

	acquired := make(chan struct{})
	go func() {
		if err := m.Acquire("txn2", "accounts", Exclusive, time.Second); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("txn2 should not acquire while txn1 holds the exclusive lock")
	case <-time.After(50 * time.Millisecond):
	}

	m.ReleaseAll("txn1")

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("txn2 should acquire once txn1 releases")
	}
}

func TestAcquireTimeoutReportsLockTimeout(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Acquire("txn1", "accounts", Exclusive, time.Second))

	err := m.Acquire("txn2", "accounts", Shared, 30*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, message.LockTimeout, message.KindOf(err))
}

func TestIndependentTablesDoNotContend(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Acquire("txn1", "accounts", Exclusive, time.Second))
	require.NoError(t, m.Acquire("txn2", "orders", Exclusive, time.Second))
}
