package anchor

import "time"

// Status is the verification state of an anchor record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Record mirrors the anchor_records table: one checkpoint of a contiguous
// global-sequence range. Ranges never overlap, and a confirmed root is
// never shrunk or rewritten.
type Record struct {
	ID          string
	FromSeq     int64
	ToSeq       int64
	RootHash    string
	Receipt     string
	Status      Status
	Attempts    int
	SubmittedAt time.Time
	ConfirmedAt *time.Time
}
