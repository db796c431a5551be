package escrow

import "time"

// State is the lifecycle position of an escrow transaction.
type State string

const (
	StateInitiated State = "initiated"
	StateFunded    State = "funded"
	StateHeld      State = "held"
	StateReleased  State = "released"
	StateRefunded  State = "refunded"
	StateDisputed  State = "disputed"
)

// Event is one of the fixed transition triggers.
type Event string

const (
	EventFund           Event = "fund"
	EventHold           Event = "hold"
	EventDispute        Event = "dispute"
	EventRelease        Event = "release"
	EventRefund         Event = "refund"
	EventTimeoutRelease Event = "timeout_release"
)

// Actor identifies who requested a transition. The scheduler uses System.
type Actor struct {
	ID   string
	Role string
}

const (
	RoleBuyer   = "buyer"
	RoleSeller  = "seller"
	RoleArbiter = "arbiter"
	RoleSystem  = "system"
)

// System is the fixed actor for timer-driven transitions.
var System = Actor{ID: "system", Role: RoleSystem}

// Transaction mirrors the escrow_transactions table. Amounts are minor
// units (fixed-point integers), never floats. Version increases by exactly
// one per successful transition.
type Transaction struct {
	ID            string
	BuyerID       string
	SellerID      string
	AssetRef      string
	Amount        int64
	Currency      string
	State         State
	Deadline      *time.Time
	OpenDisputeID *string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateParams contains the inputs for a new transaction.
type CreateParams struct {
	BuyerID  string
	SellerID string
	AssetRef string
	Amount   int64
	Currency string
}

// ListFilters narrows List results.
type ListFilters struct {
	PartyID  string
	State    State
	Page     int
	PageSize int
}

// Result reports a committed transition.
type Result struct {
	TxID      string
	From      State
	State     State
	Version   int64
	AuditSeq  int64
	AuditHash string
}
