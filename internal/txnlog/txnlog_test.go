package txnlog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsStridedIDs(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 1, 3) // node 1 of a 3-node cluster
	require.NoError(t, err)
	defer l.Close()

	r1, err := l.Append("TXN-1", "WRITE", "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	r2, err := l.Append("TXN-2", "WRITE", "INSERT INTO t VALUES (2)")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), r1.ID)  // offset = node_id = 1
	assert.Equal(t, uint64(4), r2.ID)  // + stride = cluster size = 3
	assert.Equal(t, Preparing, r1.Status)
}

func TestDistinctNodesNeverCollide(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	l1, err := Open(dir1, 0, 3)
	require.NoError(t, err)
	defer l1.Close()
	l2, err := Open(dir2, 1, 3)
	require.NoError(t, err)
	defer l2.Close()

	seen := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		r1, err := l1.Append("a", "WRITE", "x")
		require.NoError(t, err)
		r2, err := l2.Append("b", "WRITE", "x")
		require.NoError(t, err)
		require.False(t, seen[r1.ID])
		require.False(t, seen[r2.ID])
		seen[r1.ID] = true
		seen[r2.ID] = true
	}
}

func TestTransitionUpdatesStatus(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 2, 3)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append("TXN-1", "WRITE", "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, l.Transition("TXN-1", Committed))

	status, ok := l.Status("TXN-1")
	require.True(t, ok)
	assert.Equal(t, Committed, status)
}

func TestTransitionUnknownTxnIsNoop(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 0, 1)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Transition("does-not-exist", Aborted))
	_, ok := l.Status("does-not-exist")
	assert.False(t, ok)
}

func TestReplayRecoversState(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 1, 2)
	require.NoError(t, err)

	_, err = l.Append("TXN-1", "WRITE", "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, l.Transition("TXN-1", Committed))
	require.NoError(t, l.Close())

	reopened, err := Open(dir, 1, 2)
	require.NoError(t, err)
	defer reopened.Close()

	status, ok := reopened.Status("TXN-1")
	require.True(t, ok)
	assert.Equal(t, Committed, status)

	r, err := reopened.Append("TXN-2", "WRITE", "INSERT INTO t VALUES (2)")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r.ID) // continues the strided sequence after replay
}

func TestReplayPreservesRecordFieldsExactly(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 1, 1)
	require.NoError(t, err)

	written, err := l.Append("TXN-1", "WRITE", "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(dir, 1, 1)
	require.NoError(t, err)
	defer reopened.Close()

	recovered, ok := reopened.Get("TXN-1")
	require.True(t, ok)

	if diff := cmp.Diff(*written, recovered); diff != "" {
		t.Errorf("replayed record diverged from the one originally appended (-want +got):\n%s", diff)
	}
}
