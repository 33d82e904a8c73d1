package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndVerifyRoundTrip(t *testing.T) {
	type payload struct {
		Statement string `json:"statement"`
	}
	m, err := New(1, Prepare, payload{Statement: "INSERT INTO t VALUES (1)"})
	assert.NoError(t, err)
	assert.True(t, m.Verify())

	var out payload
	assert.NoError(t, m.Decode(&out))
	assert.Equal(t, "INSERT INTO t VALUES (1)", out.Statement)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	m, err := New(1, Vote, map[string]bool{"commit": true})
	assert.NoError(t, err)
	assert.True(t, m.Verify())

	// flip one byte of the payload
	m.Payload[0] ^= 0xFF
	assert.False(t, m.Verify())
}

func TestNewTxnIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewTxnID()
		assert.False(t, seen[id], "txn id collision: %s", id)
		seen[id] = true
	}
}

func TestCodedErrorDefaultsKind(t *testing.T) {
	assert.Equal(t, BackendError, KindOf(assertErr{}))
	assert.Equal(t, LockTimeout, KindOf(NewError(LockTimeout, "waited too long")))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
