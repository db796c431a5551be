package anchor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"escrowflow/chain"
	"escrowflow/ledger"
	"escrowflow/notify"
)

// LedgerSource is the audit ledger surface the anchor reads and writes.
type LedgerSource interface {
	MaxGlobalSeq(ctx context.Context) (int64, error)
	HasBusinessEntries(ctx context.Context, fromSeq, toSeq int64) (bool, error)
	RootOverRange(ctx context.Context, seed string, fromSeq, toSeq int64) (string, error)
	AppendSync(ctx context.Context, p ledger.Payload) (ledger.Entry, error)
}

// Publisher receives anchor confirmation events; best-effort.
type Publisher interface {
	Publish(ev notify.Event)
}

// Service anchors contiguous ledger checkpoints to the external immutable
// ledger. Failed ranges are carried forward and resubmitted before any new
// range is cut, so anchoring coverage has no gaps.
type Service struct {
	store     Store
	ledger    LedgerSource
	client    chain.Client
	interval  time.Duration
	publisher Publisher
}

func NewService(store Store, lg LedgerSource, client chain.Client, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{store: store, ledger: lg, client: client, interval: interval}
}

// WithPublisher installs the confirmation event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// Run drives anchoring cycles and confirmation polls until the context is
// cancelled. Cycle errors are logged and retried on the next tick; the
// loop never crashes the process.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("anchor: cycle: %v", err)
			}
			if err := s.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("anchor: poll: %v", err)
			}
		}
	}
}

// Cycle resubmits the earliest failed range, then cuts and submits the
// next unanchored range if it contains business entries.
func (s *Service) Cycle(ctx context.Context) error {
	if err := s.resubmitFailed(ctx); err != nil {
		return err
	}
	return s.submitNext(ctx)
}

func (s *Service) resubmitFailed(ctx context.Context) error {
	rec, ok, err := s.store.EarliestFailed(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	receipt, err := s.submit(ctx, rec.RootHash)
	if err != nil {
		// carried forward again next cycle, never dropped
		return fmt.Errorf("anchor: resubmit %d-%d: %w", rec.FromSeq, rec.ToSeq, err)
	}
	if _, err := s.store.MarkSubmitted(ctx, rec.ID, receipt); err != nil {
		return err
	}
	s.logSync(ctx, "anchor.submitted", rec.FromSeq, rec.ToSeq, rec.RootHash, receipt)
	return nil
}

func (s *Service) submitNext(ctx context.Context) error {
	last, anchored, err := s.store.LastSubmitted(ctx)
	if err != nil {
		return err
	}
	seed := ledger.GenesisHash()
	var from int64 = 1
	if anchored {
		seed = last.RootHash
		from = last.ToSeq + 1
	}

	to, err := s.ledger.MaxGlobalSeq(ctx)
	if err != nil {
		return err
	}
	if to < from {
		return nil
	}
	busy, err := s.ledger.HasBusinessEntries(ctx, from, to)
	if err != nil {
		return err
	}
	if !busy {
		return nil
	}

	root, err := s.ledger.RootOverRange(ctx, seed, from, to)
	if err != nil {
		return err
	}

	rec := Record{
		ID:       uuid.NewString(),
		FromSeq:  from,
		ToSeq:    to,
		RootHash: root,
		Status:   StatusPending,
		Attempts: 1,
	}
	receipt, err := s.submit(ctx, root)
	if err != nil {
		// reserve the range as failed so the next cycle retries it and no
		// later range can overlap it
		rec.Status = StatusFailed
		if _, insErr := s.store.Insert(ctx, rec); insErr != nil {
			return insErr
		}
		return fmt.Errorf("anchor: submit %d-%d: %w", from, to, err)
	}

	rec.Receipt = receipt
	if _, err := s.store.Insert(ctx, rec); err != nil {
		return err
	}
	s.logSync(ctx, "anchor.submitted", from, to, root, receipt)
	return nil
}

func (s *Service) submit(ctx context.Context, root string) (string, error) {
	var receipt string
	op := func() error {
		r, err := s.client.Submit(ctx, root)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return receipt, nil
}

// Poll pulls settlement status for pending receipts, for external ledgers
// without push callbacks.
func (s *Service) Poll(ctx context.Context) error {
	pending, err := s.store.Pending(ctx)
	if err != nil {
		return err
	}
	for _, rec := range pending {
		status, err := s.client.Confirm(ctx, rec.Receipt)
		if err != nil {
			log.Printf("anchor: confirm %s: %v", rec.Receipt, err)
			continue
		}
		switch status {
		case chain.StatusConfirmed:
			if err := s.HandleReceipt(ctx, rec.Receipt, StatusConfirmed); err != nil {
				return err
			}
		case chain.StatusFailed:
			if err := s.HandleReceipt(ctx, rec.Receipt, StatusFailed); err != nil {
				return err
			}
		}
	}
	return nil
}

// HandleReceipt applies an asynchronous confirmation or failure callback.
// Callbacks may arrive out of order relative to later cycles; each one
// settles only its own record. A late callback for a receipt that already
// settled is ignored.
func (s *Service) HandleReceipt(ctx context.Context, receipt string, status Status) error {
	if status != StatusConfirmed && status != StatusFailed {
		return fmt.Errorf("anchor: invalid callback status %q", status)
	}
	rec, err := s.store.SetStatusByReceipt(ctx, receipt, status)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if status == StatusFailed {
		log.Printf("anchor: range %d-%d failed, retrying next cycle", rec.FromSeq, rec.ToSeq)
		return nil
	}

	s.logSync(ctx, "anchor.confirmed", rec.FromSeq, rec.ToSeq, rec.RootHash, receipt)
	if s.publisher != nil {
		s.publisher.Publish(notify.Event{
			Kind:      notify.KindAnchor,
			AuditHash: rec.RootHash,
			At:        time.Now().UTC(),
		})
	}
	return nil
}

// VerifyAnchor reports whether an audit sequence is covered by a confirmed
// anchor, giving callers tamper evidence independent of local storage.
func (s *Service) VerifyAnchor(ctx context.Context, seq int64) (Record, bool, error) {
	return s.store.Covering(ctx, seq)
}

func (s *Service) logSync(ctx context.Context, event string, from, to int64, root, receipt string) {
	_, err := s.ledger.AppendSync(ctx, ledger.Payload{
		Event: event,
		Actor: "anchor",
		At:    time.Now().UTC(),
		Metadata: map[string]string{
			"from_seq": strconv.FormatInt(from, 10),
			"to_seq":   strconv.FormatInt(to, 10),
			"root":     root,
			"receipt":  receipt,
		},
	})
	if err != nil {
		log.Printf("anchor: record sync event %s: %v", event, err)
	}
}
