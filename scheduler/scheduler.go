package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"escrowflow/escrow"
)

// Transitioner is the state machine surface the scheduler drives. The
// scheduler holds no special privilege; its transitions race with
// user-initiated ones and lose cleanly.
type Transitioner interface {
	Transition(ctx context.Context, params escrow.TransitionParams) (escrow.Result, error)
}

type item struct {
	txID     string
	deadline time.Time
	index    int
}

type queue []*item

func (q queue) Len() int            { return len(q) }
func (q queue) Less(i, j int) bool  { return q[i].deadline.Before(q[j].deadline) }
func (q queue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *queue) Push(x any)         { it := x.(*item); it.index = len(*q); *q = append(*q, it) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Scheduler owns the auto-release deadlines of held transactions in a
// single time-ordered queue with an explicit lifecycle: populated on
// process start, maintained by transition hooks, drained on shutdown.
type Scheduler struct {
	mu      sync.Mutex
	q       queue
	byTx    map[string]*item
	machine Transitioner
	poll    time.Duration
}

func New(machine Transitioner, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = time.Second
	}
	return &Scheduler{
		byTx:    make(map[string]*item),
		machine: machine,
		poll:    poll,
	}
}

// Schedule inserts or moves the transaction's deadline.
func (s *Scheduler) Schedule(txID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.byTx[txID]; ok {
		it.deadline = deadline
		heap.Fix(&s.q, it.index)
		return
	}
	it := &item{txID: txID, deadline: deadline}
	s.byTx[txID] = it
	heap.Push(&s.q, it)
}

// Cancel drops the transaction's entry, if present. Cancelling never
// touches an in-flight transition; it only removes the timer.
func (s *Scheduler) Cancel(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.byTx[txID]
	if !ok {
		return
	}
	delete(s.byTx, txID)
	heap.Remove(&s.q, it.index)
}

// Len reports the number of pending deadlines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.q)
}

// Run polls until the context is cancelled, firing timeout releases for
// elapsed deadlines. Always returns the context error.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.FireDue(ctx, time.Now())
		}
	}
}

// FireDue triggers timeout_release for every entry whose deadline has
// elapsed at now. A transaction that already left HELD (a dispute raced
// the timer) is discarded silently; that race is expected, not an error.
// Any other failure requeues the entry and ends the pass; popping again
// in the same pass would spin on the failing entry, so the retry waits
// for the next tick.
func (s *Scheduler) FireDue(ctx context.Context, now time.Time) {
	for {
		it, ok := s.popDue(now)
		if !ok {
			return
		}

		_, err := s.machine.Transition(ctx, escrow.TransitionParams{
			TxID:  it.txID,
			Event: escrow.EventTimeoutRelease,
			Actor: escrow.System,
		})
		switch {
		case err == nil:
		case errors.Is(err, escrow.ErrInvalidTransition), errors.Is(err, escrow.ErrNotFound):
			// already released, refunded, or disputed
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.Schedule(it.txID, it.deadline)
			return
		default:
			log.Printf("scheduler: timeout release %s: %v", it.txID, err)
			s.Schedule(it.txID, it.deadline)
			return
		}
	}
}

func (s *Scheduler) popDue(now time.Time) (*item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.q) == 0 || s.q[0].deadline.After(now) {
		return nil, false
	}
	it := heap.Pop(&s.q).(*item)
	delete(s.byTx, it.txID)
	return it, true
}
