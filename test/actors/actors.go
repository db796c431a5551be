package actors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/scheduler"
)

// pick returns a random transaction from the contention set.
func pick(txIDs []string) string {
	return txIDs[rand.Intn(len(txIDs))]
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

// expected reports errors that are normal under contention: the transition
// raced another actor, the actor lost an authorization check, or a dispute
// already exists. Anything else is logged and retried; chaos kills
// connections mid-flight, so transport errors are noise here, not failures.
func expected(err error) bool {
	return errors.Is(err, escrow.ErrInvalidTransition) ||
		errors.Is(err, escrow.ErrUnauthorized) ||
		errors.Is(err, escrow.ErrNotFound) ||
		errors.Is(err, dispute.ErrDuplicateDispute) ||
		errors.Is(err, dispute.ErrAlreadyResolved) ||
		errors.Is(err, dispute.ErrNotFound)
}

// Funder fires fund events; only the first per transaction can win.
func Funder(ctx context.Context, machine *escrow.Service, txIDs []string, buyer escrow.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := machine.Transition(ctx, escrow.TransitionParams{TxID: pick(txIDs), Event: escrow.EventFund, Actor: buyer})
		if err != nil && !expected(err) {
			log.Printf("actors: funder: %v", err)
		}
		pause(10, 20)
	}
}

// Holder moves funded transactions to held with short deadlines so the
// auto-release scheduler stays busy during the run.
func Holder(ctx context.Context, machine *escrow.Service, txIDs []string, seller escrow.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		deadline := time.Now().Add(time.Duration(100+rand.Intn(400)) * time.Millisecond).UTC()
		_, err := machine.Transition(ctx, escrow.TransitionParams{TxID: pick(txIDs), Event: escrow.EventHold, Actor: seller, Deadline: &deadline})
		if err != nil && !expected(err) {
			log.Printf("actors: holder: %v", err)
		}
		pause(20, 40)
	}
}

// Releaser races the scheduler and the disputer for held transactions.
func Releaser(ctx context.Context, machine *escrow.Service, txIDs []string, buyer escrow.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := machine.Transition(ctx, escrow.TransitionParams{TxID: pick(txIDs), Event: escrow.EventRelease, Actor: buyer})
		if err != nil && !expected(err) {
			log.Printf("actors: releaser: %v", err)
		}
		pause(30, 50)
	}
}

// Refunder fires refunds from the seller side.
func Refunder(ctx context.Context, machine *escrow.Service, txIDs []string, seller escrow.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := machine.Transition(ctx, escrow.TransitionParams{TxID: pick(txIDs), Event: escrow.EventRefund, Actor: seller})
		if err != nil && !expected(err) {
			log.Printf("actors: refunder: %v", err)
		}
		pause(30, 50)
	}
}

// Disputer opens disputes, resolves them, and executes the resolution,
// racing the timeout scheduler for the same held transactions.
func Disputer(ctx context.Context, disputes *dispute.Service, machine *escrow.Service, txIDs []string, buyer, arbiter escrow.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txID := pick(txIDs)
		disputeID := fmt.Sprintf("00000000-0000-4000-8000-%012d", rand.Int63n(1_000_000_000_000))

		_, _, err := disputes.Open(ctx, txID, disputeID, buyer)
		if err != nil {
			if !expected(err) {
				log.Printf("actors: disputer open: %v", err)
			}
			pause(50, 100)
			continue
		}

		outcome := dispute.OutcomeRelease
		event := escrow.EventRelease
		if rand.Intn(2) == 0 {
			outcome = dispute.OutcomeRefund
			event = escrow.EventRefund
		}
		if _, err := disputes.Resolve(ctx, disputeID, outcome); err != nil {
			if !expected(err) {
				log.Printf("actors: disputer resolve: %v", err)
			}
			pause(50, 100)
			continue
		}
		if _, err := machine.Transition(ctx, escrow.TransitionParams{TxID: txID, Event: event, Actor: arbiter}); err != nil && !expected(err) {
			log.Printf("actors: disputer execute: %v", err)
		}
		pause(100, 100)
	}
}

// TimerPump drives the scheduler aggressively instead of waiting for its
// poll tick, so timeout releases collide with manual transitions.
func TimerPump(ctx context.Context, timers *scheduler.Scheduler, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		timers.FireDue(ctx, time.Now())
		pause(20, 30)
	}
}

// Verifier replays audit chains while writers are appending. A tampered
// chain is a hard failure; everything the writers do must keep every
// stream valid at all times.
func Verifier(ctx context.Context, lg *ledger.Service, txIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		txID := pick(txIDs)
		rep, err := lg.VerifyChain(ctx, txID)
		if err != nil {
			log.Printf("actors: verifier: %v", err)
			pause(100, 100)
			continue
		}
		if rep.Status != ledger.ChainValid {
			return fmt.Errorf("actors: chain for %s tampered at seq %d", txID, rep.TamperedSeq)
		}
		pause(50, 100)
	}
}
