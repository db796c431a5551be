package dispute

import "time"

// Outcome is a recorded dispute resolution. Values match the escrow event
// they authorize.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// ValidOutcome reports membership in the fixed outcome set.
func ValidOutcome(o Outcome) bool {
	return o == OutcomeRelease || o == OutcomeRefund
}

// Link mirrors the dispute_links table. A link with a nil Resolution is
// open; at most one open link exists per transaction.
type Link struct {
	ID         string
	TxID       string
	OpenedAt   time.Time
	Resolution *Outcome
	ResolvedAt *time.Time
}
