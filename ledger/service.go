package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns the append-only audit ledger: hash-chained appends, chain
// verification, and range export.
type Service struct {
	pool  TxBeginner
	store Store
}

func NewService(pool TxBeginner, store Store) *Service {
	return &Service{pool: pool, store: store}
}

// Append writes the next entry of a stream inside the caller's transaction.
// The prior hash is read under lock so the chain extends exactly one entry;
// a raced duplicate sequence surfaces as ErrWriteConflict.
func (s *Service) Append(ctx context.Context, tx pgx.Tx, txID string, p Payload) (Entry, error) {
	if txID == "" {
		return Entry{}, fmt.Errorf("ledger: missing stream id")
	}
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	prevHash := GenesisHash()
	var seq int64 = 1
	last, ok, err := s.store.LastEntry(ctx, tx, txID)
	if err != nil {
		return Entry{}, err
	}
	if ok {
		prevHash = last.Hash
		seq = last.Seq + 1
	}

	hash, err := hashEntry(prevHash, p)
	if err != nil {
		return Entry{}, err
	}

	return s.store.InsertEntry(ctx, tx, Entry{
		TxID:     txID,
		Seq:      seq,
		PrevHash: prevHash,
		Hash:     hash,
		Payload:  p,
	})
}

// AppendSync records an external sync event (anchor submission or
// confirmation) on the reserved sync stream in its own transaction.
func (s *Service) AppendSync(ctx context.Context, p Payload) (Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: begin sync append: %w", err)
	}
	defer tx.Rollback(ctx)

	e, err := s.Append(ctx, tx, SyncStream, p)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("ledger: commit sync append: %w", err)
	}
	return e, nil
}

// VerifyChain replays a stream from genesis, recomputing every hash. Any
// gap, reordering, or payload change shows up as the first bad sequence.
// The check is read-only; a tampered chain is reported, never repaired.
func (s *Service) VerifyChain(ctx context.Context, txID string) (Report, error) {
	entries, err := s.store.EntriesByStream(ctx, txID)
	if err != nil {
		return Report{}, err
	}

	prevHash := GenesisHash()
	var wantSeq int64 = 1
	for _, e := range entries {
		if e.Seq != wantSeq || e.PrevHash != prevHash {
			return Report{Status: ChainTampered, TamperedSeq: e.Seq}, nil
		}
		hash, err := hashEntry(prevHash, e.Payload)
		if err != nil {
			return Report{}, err
		}
		if hash != e.Hash {
			return Report{Status: ChainTampered, TamperedSeq: e.Seq}, nil
		}
		prevHash = e.Hash
		wantSeq++
	}
	return Report{Status: ChainValid}, nil
}

// TrailFor returns the ordered audit trail of a transaction for read-only
// export (reporting collaborators).
func (s *Service) TrailFor(ctx context.Context, txID string) ([]Entry, error) {
	return s.store.EntriesByStream(ctx, txID)
}

// MaxGlobalSeq exposes the ledger's high-water mark for anchoring.
func (s *Service) MaxGlobalSeq(ctx context.Context) (int64, error) {
	return s.store.MaxGlobalSeq(ctx)
}

// HasBusinessEntries reports whether a global range holds entries outside
// the sync stream.
func (s *Service) HasBusinessEntries(ctx context.Context, fromSeq, toSeq int64) (bool, error) {
	return s.store.HasBusinessEntries(ctx, fromSeq, toSeq)
}

// RootOverRange folds the entry hashes of a global-sequence range into a
// single chained root, seeded by the previous checkpoint's root.
func (s *Service) RootOverRange(ctx context.Context, seed string, fromSeq, toSeq int64) (string, error) {
	root := seed
	cur := s.Export(RangeQuery{Global: true, FromSeq: fromSeq, ToSeq: toSeq}, 256)
	for {
		batch, err := cur.Next(ctx)
		if err != nil {
			return "", err
		}
		if len(batch) == 0 {
			return root, nil
		}
		for _, e := range batch {
			r, err := ComputeHash(root, []byte(e.Hash))
			if err != nil {
				return "", err
			}
			root = r
		}
	}
}

// RangeQuery selects either one stream's sequence window or a global
// sequence window of the whole ledger.
type RangeQuery struct {
	TxID    string
	Global  bool
	FromSeq int64
	ToSeq   int64
}

// Cursor is a lazy, restartable export over a range. Persist the last seen
// sequence and call Resume to pick up where a previous export stopped.
type Cursor struct {
	svc   *Service
	q     RangeQuery
	after int64
	batch int
}

// Export starts a cursor at the beginning of the range.
func (s *Service) Export(q RangeQuery, batchSize int) *Cursor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Cursor{svc: s, q: q, after: q.FromSeq - 1, batch: batchSize}
}

// Resume starts a cursor just after a previously exported sequence.
func (s *Service) Resume(q RangeQuery, afterSeq int64, batchSize int) *Cursor {
	c := s.Export(q, batchSize)
	if afterSeq > c.after {
		c.after = afterSeq
	}
	return c
}

// Next returns the next batch, empty when the range is exhausted.
func (c *Cursor) Next(ctx context.Context) ([]Entry, error) {
	var (
		batch []Entry
		err   error
	)
	if c.q.Global {
		batch, err = c.svc.store.GlobalRange(ctx, c.q.FromSeq, c.q.ToSeq, c.after, c.batch)
	} else {
		batch, err = c.svc.store.StreamRange(ctx, c.q.TxID, c.q.FromSeq, c.q.ToSeq, c.after, c.batch)
	}
	if err != nil {
		return nil, err
	}
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		if c.q.Global {
			c.after = last.GlobalSeq
		} else {
			c.after = last.Seq
		}
	}
	return batch, nil
}

// Pos reports the last sequence the cursor has yielded, for restart.
func (c *Cursor) Pos() int64 {
	return c.after
}
