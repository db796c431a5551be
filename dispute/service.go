package dispute

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/escrow"
)

// Transitioner is the escrow state machine surface the linker drives.
type Transitioner interface {
	Transition(ctx context.Context, params escrow.TransitionParams) (escrow.Result, error)
}

// LinkStore is the persistence surface required by the service.
type LinkStore interface {
	InsertLink(ctx context.Context, tx pgx.Tx, id, txID string) (Link, error)
	Resolve(ctx context.Context, disputeID string, outcome Outcome) (Link, error)
	Get(ctx context.Context, disputeID string) (Link, error)
	ListByTx(ctx context.Context, txID string) ([]Link, error)
}

// Service associates external dispute records with escrow transactions and
// gates transitions while a dispute is open.
type Service struct {
	store   LinkStore
	machine Transitioner
}

func NewService(store LinkStore, machine Transitioner) *Service {
	return &Service{store: store, machine: machine}
}

// Open creates the link and fires the dispute transition in one atomic
// unit: the link insert rides inside the transition's database
// transaction, so a rejected transition leaves no link behind and a
// duplicate link fails before any state changes.
func (s *Service) Open(ctx context.Context, txID, disputeID string, actor escrow.Actor) (Link, escrow.Result, error) {
	if txID == "" || disputeID == "" {
		return Link{}, escrow.Result{}, fmt.Errorf("dispute: transaction and dispute ids required")
	}

	var link Link
	res, err := s.machine.Transition(ctx, escrow.TransitionParams{
		TxID:     txID,
		Event:    escrow.EventDispute,
		Actor:    actor,
		Metadata: map[string]string{"dispute_id": disputeID},
		Prepare: func(ctx context.Context, tx pgx.Tx) error {
			l, err := s.store.InsertLink(ctx, tx, disputeID, txID)
			if err != nil {
				return err
			}
			link = l
			return nil
		},
	})
	if err != nil {
		return Link{}, escrow.Result{}, err
	}
	return link, res, nil
}

// Resolve records the outcome. It does not transition the transaction;
// the resolution is the permission gate a later release or refund
// transition checks.
func (s *Service) Resolve(ctx context.Context, disputeID string, outcome Outcome) (Link, error) {
	if !ValidOutcome(outcome) {
		return Link{}, fmt.Errorf("dispute: invalid outcome %q", outcome)
	}
	return s.store.Resolve(ctx, disputeID, outcome)
}

// Get returns a link by dispute id.
func (s *Service) Get(ctx context.Context, disputeID string) (Link, error) {
	return s.store.Get(ctx, disputeID)
}

// ListByTx returns a transaction's dispute history, newest first.
func (s *Service) ListByTx(ctx context.Context, txID string) ([]Link, error) {
	return s.store.ListByTx(ctx, txID)
}
