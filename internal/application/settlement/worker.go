// Package settlement drains the queue of pending transfer intents through a
// TransferExecutor. Each intent is attempted once: success marks it CONFIRMED,
// failure marks it FAILED with the error text. Failed intents stay in the store
// for reconciliation and never roll back market state.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
	"github.com/alejandrodnm/lmsrmarket/internal/ports"
)

// Config holds the worker's pacing.
type Config struct {
	Interval   time.Duration // time between queue polls
	BatchSize  int           // max transfers per poll
	RatePerSec float64       // max executor calls per second (0 = unlimited)
}

// Summary counts one pass over the queue.
type Summary struct {
	Confirmed int
	Failed    int
}

// Worker executes pending transfers.
type Worker struct {
	cfg      Config
	store    ports.TransferStore
	executor ports.TransferExecutor
	limiter  *rate.Limiter
	now      func() time.Time
}

// New creates a Worker.
func New(cfg Config, store ports.TransferStore, executor ports.TransferExecutor) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		executor: executor,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("settlement worker starting",
		"interval", w.cfg.Interval,
		"batch", w.cfg.BatchSize,
		"rate", w.cfg.RatePerSec,
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("settlement pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("settlement worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce settles one batch of pending transfers.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	pending, err := w.store.PendingTransfers(ctx, w.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("settlement.RunOnce: %w", err)
	}

	for _, t := range pending {
		if err := w.limiter.Wait(ctx); err != nil {
			return sum, fmt.Errorf("settlement.RunOnce: rate limiter: %w", err)
		}

		execErr := w.executor.Execute(ctx, t)
		if execErr != nil && ctx.Err() != nil {
			// Shutdown interrupted the call; leave it pending for the next run.
			return sum, ctx.Err()
		}
		t.Settle(execErr, w.now())
		if err := w.store.UpdateTransfer(ctx, t); err != nil {
			// Still PENDING in the store, so the next pass sends it again. Only the
			// receiver's idempotency key stops a second payout.
			slog.Error("transfer executed but not recorded",
				"transfer_id", t.ID,
				"market_id", t.MarketID,
				"account", t.Account,
				"amount", t.Amount,
				"status", t.Status,
				"err", err,
			)
			return sum, fmt.Errorf("settlement.RunOnce: record %s: %w", t.ID, err)
		}

		if t.Status == domain.TransferFailed {
			sum.Failed++
			slog.Warn("transfer failed",
				"transfer_id", t.ID,
				"market_id", t.MarketID,
				"account", t.Account,
				"amount", t.Amount,
				"reason", t.Reason,
				"err", execErr,
			)
			continue
		}
		sum.Confirmed++
		slog.Debug("transfer confirmed", "transfer_id", t.ID, "account", t.Account, "amount", t.Amount)
	}

	if len(pending) > 0 {
		slog.Info("settlement pass done", "confirmed", sum.Confirmed, "failed", sum.Failed)
	}
	return sum, nil
}
