package notify

import "time"

const (
	// KindTransition is published after every committed escrow transition.
	KindTransition = "escrow.transitioned"
	// KindAnchor is published when a ledger checkpoint is confirmed on the
	// external ledger.
	KindAnchor = "ledger.anchored"
)

// Event is the fully-formed payload handed to notification transports.
type Event struct {
	TxID      string
	Kind      string
	Event     string
	From      string
	To        string
	Version   int64
	Actor     string
	AuditHash string
	At        time.Time
}
