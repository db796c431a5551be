package account

import "time"

// Kind classifies a marketplace party.
type Kind string

const (
	KindBuyer   Kind = "buyer"
	KindSeller  Kind = "seller"
	KindArbiter Kind = "arbiter"
)

// Party mirrors the parties table.
type Party struct {
	ID        string
	Name      string
	Kind      Kind
	CreatedAt time.Time
}
