package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/ledger"
	"escrowflow/notify"
)

var (
	// ErrInvalidTransition rejects an illegal state/event pair or a guard
	// failure; the transaction is left untouched.
	ErrInvalidTransition = errors.New("escrow: invalid transition")
	// ErrUnauthorized rejects an actor lacking permission for the event.
	ErrUnauthorized = errors.New("escrow: unauthorized")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger appends audit entries inside the transition's database transaction.
type Ledger interface {
	Append(ctx context.Context, tx pgx.Tx, txID string, p ledger.Payload) (ledger.Entry, error)
}

// Policy is the external authorization collaborator.
type Policy interface {
	Authorize(ctx context.Context, actor Actor, event Event, t Transaction) error
}

// DisputeGate exposes the dispute linker's state to transition guards.
type DisputeGate interface {
	OpenLink(ctx context.Context, tx pgx.Tx, txID string) (string, bool, error)
	Resolution(ctx context.Context, tx pgx.Tx, txID string) (string, bool, error)
}

// PartyDirectory validates buyer/seller references at creation time.
type PartyDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Publisher receives events after the transition commits; best-effort.
type Publisher interface {
	Publish(ev notify.Event)
}

// Timers maintains auto-release deadlines for held transactions.
type Timers interface {
	Schedule(txID string, deadline time.Time)
	Cancel(txID string)
}

// TransitionParams describes one requested transition.
type TransitionParams struct {
	TxID     string
	Event    Event
	Actor    Actor
	Deadline *time.Time
	Metadata map[string]string

	// Prepare, when set, runs inside the transition's database transaction
	// after the row lock is taken and before validation. The dispute linker
	// uses it to insert the link in the same atomic unit as the transition.
	Prepare func(ctx context.Context, tx pgx.Tx) error
}

// Service is the escrow state machine. Every successful transition updates
// state and version and appends exactly one audit entry, atomically.
type Service struct {
	pool      TxBeginner
	store     Store
	ledger    Ledger
	policy    Policy
	gate      DisputeGate
	parties   PartyDirectory
	publisher Publisher
	timers    Timers

	mu       sync.Mutex
	pubLocks map[string]*sync.Mutex
}

func NewService(pool TxBeginner, store Store, lg Ledger, policy Policy, gate DisputeGate) *Service {
	return &Service{
		pool:     pool,
		store:    store,
		ledger:   lg,
		policy:   policy,
		gate:     gate,
		pubLocks: make(map[string]*sync.Mutex),
	}
}

// WithParties installs the party directory used by Create.
func (s *Service) WithParties(d PartyDirectory) *Service {
	s.parties = d
	return s
}

// WithPublisher installs the post-commit event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithTimers installs the auto-release timer maintenance hook.
func (s *Service) WithTimers(t Timers) *Service {
	s.timers = t
	return s
}

// Create inserts a new transaction at INITIATED with version 0. Creation is
// not a transition; the audit chain begins with the first event.
func (s *Service) Create(ctx context.Context, params CreateParams) (Transaction, error) {
	if params.BuyerID == "" || params.SellerID == "" {
		return Transaction{}, fmt.Errorf("escrow: buyer and seller required")
	}
	if params.BuyerID == params.SellerID {
		return Transaction{}, fmt.Errorf("escrow: buyer and seller must differ")
	}
	if params.Amount <= 0 {
		return Transaction{}, fmt.Errorf("escrow: amount must be positive minor units")
	}
	if len(params.Currency) != 3 {
		return Transaction{}, fmt.Errorf("escrow: invalid currency %q", params.Currency)
	}

	if s.parties != nil {
		for _, id := range []string{params.BuyerID, params.SellerID} {
			ok, err := s.parties.Exists(ctx, id)
			if err != nil {
				return Transaction{}, err
			}
			if !ok {
				return Transaction{}, fmt.Errorf("escrow: unknown party %s", id)
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.Insert(ctx, tx, Transaction{
		ID:       uuid.NewString(),
		BuyerID:  params.BuyerID,
		SellerID: params.SellerID,
		AssetRef: params.AssetRef,
		Amount:   params.Amount,
		Currency: params.Currency,
		State:    StateInitiated,
	})
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return rec, nil
}

// Transition validates and applies one event. The state/version update and
// the audit append commit in the same database transaction; notification
// and timer maintenance happen only after commit. Transient ledger write
// conflicts are retried with bounded backoff.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Result, error) {
	var res Result
	op := func() error {
		r, err := s.transitionOnce(ctx, params)
		if err != nil {
			if errors.Is(err, ledger.ErrWriteConflict) || errors.Is(err, ErrStaleVersion) {
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return Result{}, err
	}
	return res, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

func (s *Service) transitionOnce(ctx context.Context, params TransitionParams) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("escrow: begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.TransitionTx(ctx, tx, params)
	if err != nil {
		return Result{}, err
	}

	// The lock spans commit and publish: a later transition on the same
	// transaction cannot commit, and therefore cannot publish, until this
	// event is out. Without it the committer could be descheduled between
	// Commit and Publish while a racing transition slips both in first,
	// delivering events to a subscriber out of commit order.
	lock := s.publishLock(params.TxID)
	lock.Lock()
	defer lock.Unlock()

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("escrow: commit transition: %w", err)
	}

	s.afterCommit(params, res)
	if res.State.Terminal() {
		s.dropPublishLock(params.TxID)
	}
	return res, nil
}

// publishLock returns the per-transaction mutex that keeps publish order
// aligned with commit order.
func (s *Service) publishLock(txID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.pubLocks[txID]
	if !ok {
		l = &sync.Mutex{}
		s.pubLocks[txID] = l
	}
	return l
}

// dropPublishLock forgets the mutex of a terminal transaction; no further
// transitions can commit for it.
func (s *Service) dropPublishLock(txID string) {
	s.mu.Lock()
	delete(s.pubLocks, txID)
	s.mu.Unlock()
}

// TransitionTx applies the transition inside a caller-owned transaction.
// The caller is responsible for committing and, if it bypasses Transition,
// for post-commit notification.
func (s *Service) TransitionTx(ctx context.Context, tx pgx.Tx, params TransitionParams) (Result, error) {
	cur, err := s.store.GetForUpdate(ctx, tx, params.TxID)
	if err != nil {
		return Result{}, err
	}

	if params.Prepare != nil {
		if err := params.Prepare(ctx, tx); err != nil {
			return Result{}, err
		}
	}

	if !ValidEvent(params.Event) {
		return Result{}, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, params.Event)
	}
	next, ok := NextState(cur.State, params.Event)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, params.Event, cur.State)
	}
	if err := s.policy.Authorize(ctx, params.Actor, params.Event, cur); err != nil {
		return Result{}, fmt.Errorf("%w: %s for %s: %v", ErrUnauthorized, params.Event, params.Actor.ID, err)
	}

	updated := cur
	updated.State = next

	switch {
	case params.Event == EventDispute:
		linkID, open, err := s.gate.OpenLink(ctx, tx, cur.ID)
		if err != nil {
			return Result{}, err
		}
		if !open {
			return Result{}, fmt.Errorf("%w: dispute without an open link", ErrInvalidTransition)
		}
		updated.OpenDisputeID = &linkID
		updated.Deadline = nil

	case cur.State == StateDisputed:
		outcome, resolved, err := s.gate.Resolution(ctx, tx, cur.ID)
		if err != nil {
			return Result{}, err
		}
		if !resolved {
			return Result{}, fmt.Errorf("%w: dispute unresolved", ErrInvalidTransition)
		}
		if outcome != string(params.Event) {
			return Result{}, fmt.Errorf("%w: resolution is %s, requested %s", ErrInvalidTransition, outcome, params.Event)
		}
		updated.OpenDisputeID = nil

	case params.Event == EventHold:
		updated.Deadline = params.Deadline

	case cur.State == StateHeld:
		updated.Deadline = nil
	}

	updated, err = s.store.ApplyTransition(ctx, tx, updated)
	if err != nil {
		return Result{}, err
	}

	entry, err := s.ledger.Append(ctx, tx, cur.ID, ledger.Payload{
		Event:     string(params.Event),
		Actor:     params.Actor.ID,
		FromState: string(cur.State),
		ToState:   string(next),
		At:        time.Now().UTC(),
		Metadata:  params.Metadata,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		TxID:      cur.ID,
		From:      cur.State,
		State:     updated.State,
		Version:   updated.Version,
		AuditSeq:  entry.Seq,
		AuditHash: entry.Hash,
	}, nil
}

// Announce runs the post-commit side effects for a transition committed by
// an external caller via TransitionTx.
func (s *Service) Announce(params TransitionParams, res Result) {
	s.afterCommit(params, res)
}

func (s *Service) afterCommit(params TransitionParams, res Result) {
	if s.publisher != nil {
		s.publisher.Publish(notify.Event{
			TxID:      res.TxID,
			Kind:      notify.KindTransition,
			Event:     string(params.Event),
			From:      string(res.From),
			To:        string(res.State),
			Version:   res.Version,
			Actor:     params.Actor.ID,
			AuditHash: res.AuditHash,
			At:        time.Now().UTC(),
		})
	}
	if s.timers == nil {
		return
	}
	switch {
	case res.State == StateHeld && params.Deadline != nil:
		s.timers.Schedule(res.TxID, *params.Deadline)
	case res.From == StateHeld && res.State != StateHeld:
		s.timers.Cancel(res.TxID)
	}
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	return s.store.Get(ctx, id)
}

// List returns transactions matching the filters with a total count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Transaction, int, error) {
	return s.store.List(ctx, filters)
}
