package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/account"
	"escrowflow/anchor"
	"escrowflow/authz"
	"escrowflow/chain"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/notify"
	"escrowflow/scheduler"
)

// app is the assembled service graph. The transport layer mounts routing
// and auth middleware on top of it; nothing in this process dispatches
// requests itself.
type app struct {
	machine    *escrow.Service
	disputes   *dispute.Service
	parties    *account.Service
	ledger     *ledger.Service
	tokens     *authz.Tokens
	timers     *scheduler.Scheduler
	dispatcher *notify.Dispatcher
}

func buildApp(pool *pgxpool.Pool, cfg config.Config) *app {
	dispatcher := notify.NewDispatcher(cfg.NotifyBufferSize)
	ledgerSvc := ledger.NewService(pool, ledger.NewRepository(pool))
	parties := account.NewService(account.NewRepository(pool))
	disputeRepo := dispute.NewRepository(pool)

	machine := escrow.NewService(pool, escrow.NewRepository(pool), ledgerSvc, authz.NewRolePolicy(), disputeRepo).
		WithParties(parties).
		WithPublisher(dispatcher)

	timers := scheduler.New(machine, cfg.SchedulerPoll)
	machine.WithTimers(timers)

	return &app{
		machine:    machine,
		disputes:   dispute.NewService(disputeRepo, machine),
		parties:    parties,
		ledger:     ledgerSvc,
		tokens:     authz.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		timers:     timers,
		dispatcher: dispatcher,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	a := buildApp(pool, cfg)
	defer a.dispatcher.Close()

	if err := restoreDeadlines(ctx, a.machine, a.timers); err != nil {
		log.Fatalf("restore auto-release deadlines: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.timers.Run(ctx) })

	if cfg.AnchorEndpoint != "" {
		client := chain.NewHTTPClient(cfg.AnchorEndpoint, cfg.AnchorTimeout)
		anchors := anchor.NewService(anchor.NewRepository(pool), a.ledger, client, cfg.AnchorInterval).
			WithPublisher(a.dispatcher)
		g.Go(func() error { return anchors.Run(ctx) })
	} else {
		log.Printf("anchoring disabled: ANCHOR_ENDPOINT not set")
	}

	log.Printf("escrowflow core running")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("background loops: %v", err)
	}
}

// restoreDeadlines re-seeds the scheduler with held transactions that
// still carry a deadline, so restarts do not lose auto-release timers.
func restoreDeadlines(ctx context.Context, machine *escrow.Service, timers *scheduler.Scheduler) error {
	page := 1
	for {
		records, total, err := machine.List(ctx, escrow.ListFilters{State: escrow.StateHeld, Page: page, PageSize: 100})
		if err != nil {
			return err
		}
		for _, t := range records {
			if t.Deadline != nil {
				timers.Schedule(t.ID, *t.Deadline)
			}
		}
		if page*100 >= total || len(records) == 0 {
			return nil
		}
		page++
	}
}
