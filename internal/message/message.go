// Package message defines the wire-level Message envelope carried
// between nodes and the stable error codes exchanged with clients.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Type is the tagged discriminator for every inter-node message;
// receivers dispatch on it with a plain switch.
type Type string

const (
	Heartbeat      Type = "HEARTBEAT"
	Election       Type = "ELECTION"
	Alive          Type = "ALIVE"
	Coordinator    Type = "COORDINATOR"
	ClientRequest  Type = "CLIENT_REQUEST"
	ClientReply    Type = "CLIENT_REPLY"
	Prepare        Type = "PREPARE"
	Vote           Type = "VOTE"
	Commit         Type = "COMMIT"
	Abort          Type = "ABORT"
	Ack            Type = "ACK"
	ExecuteRead    Type = "EXECUTE_READ"
	ReadResult     Type = "READ_RESULT"
	TxnStatus      Type = "TXN_STATUS"
	TxnStatusReply Type = "TXN_STATUS_REPLY"
)

// Message is the on-the-wire envelope. Payload is opaque,
// JSON-encoded application data; Checksum covers exactly the bytes
// carried in Payload.
type Message struct {
	SenderID int    `json:"sender_id"`
	Type     Type   `json:"type"`
	Payload  []byte `json:"payload"`
	Checksum string `json:"checksum"`
}

// Checksum is SHA-256 (hex) over the canonical payload bytes.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// New packs v as JSON payload and stamps the checksum, ready to hand
// to the Messenger.
func New(senderID int, typ Type, v interface{}) (Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{
		SenderID: senderID,
		Type:     typ,
		Payload:  payload,
		Checksum: Checksum(payload),
	}, nil
}

// Verify reports whether the stated checksum matches the payload. A
// message must never reach application logic unless it does.
func (m Message) Verify() bool {
	return Checksum(m.Payload) == m.Checksum
}

// Decode unmarshals the payload into v. Callers should call Verify
// first; Decode does not re-check the checksum.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

var txnSeq uint64

// NewTxnID produces a globally-unique transaction id of shape
// TXN-{epoch_ms}-{seq}-{random}.
func NewTxnID() string {
	seq := atomic.AddUint64(&txnSeq, 1)
	epochMs := time.Now().UnixNano() / int64(time.Millisecond)
	return fmt.Sprintf("TXN-%d-%d-%d", epochMs, seq, rand.Intn(1_000_000))
}
