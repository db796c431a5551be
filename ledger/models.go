package ledger

import "time"

// SyncStream is the reserved stream id for external sync events (anchor
// submissions and confirmations) that are not tied to a single transaction.
const SyncStream = "00000000-0000-0000-0000-000000000000"

// Entry mirrors the audit_entries table. Entries are immutable once
// appended; each one extends the hash chain of its stream.
type Entry struct {
	GlobalSeq int64
	TxID      string
	Seq       int64
	PrevHash  string
	Hash      string
	Payload   Payload
}

// Payload is the business content of an audit entry. It is hashed through
// a canonical encoding, never through its in-memory representation.
type Payload struct {
	Event     string
	Actor     string
	FromState string
	ToState   string
	At        time.Time
	Metadata  map[string]string
}

// ChainStatus reports the outcome of a chain verification.
type ChainStatus string

const (
	ChainValid    ChainStatus = "valid"
	ChainTampered ChainStatus = "tampered"
)

// Report is the result of VerifyChain. TamperedSeq is only meaningful when
// Status is ChainTampered and names the first sequence whose hash no longer
// matches the recomputed chain.
type Report struct {
	Status      ChainStatus
	TamperedSeq int64
}
