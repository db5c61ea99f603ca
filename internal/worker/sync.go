// Package worker runs background reconciliation of open sell orders.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/satlend/exit-engine/internal/metrics"
	"github.com/satlend/exit-engine/internal/order"
)

// UserLister finds the users that still have orders working on the exchange.
type UserLister interface {
	ListUsersWithOpenOrders(ctx context.Context) ([]string, error)
}

// Syncer reconciles one user's orders.
type Syncer interface {
	Sync(ctx context.Context, userID string) (order.SyncSummary, error)
}

// SyncWorker periodically syncs every user with open orders. Runs never
// overlap; a tick that fires while the previous run is still going is
// skipped.
type SyncWorker struct {
	cron    *cron.Cron
	users   UserLister
	syncer  Syncer
	baseCtx context.Context
	timeout time.Duration
}

// NewSyncWorker creates a worker. Each run is bounded by timeout.
func NewSyncWorker(baseCtx context.Context, users UserLister, syncer Syncer, timeout time.Duration) *SyncWorker {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo))
	return &SyncWorker{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		users:   users,
		syncer:  syncer,
		baseCtx: baseCtx,
		timeout: timeout,
	}
}

// Schedule registers the sync job on a cron spec (seconds field first, or
// a descriptor such as "@every 1m").
func (w *SyncWorker) Schedule(spec string) error {
	_, err := w.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(w.baseCtx, w.timeout)
		defer cancel()

		start := time.Now()
		sum, err := w.RunOnce(ctx)
		metrics.SyncDuration.WithLabelValues("cron").Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Error("scheduled sync finished with errors", "err", err)
			return
		}
		slog.Debug("scheduled sync finished",
			"updated", sum.Updated, "created", sum.Created, "skipped", sum.Skipped)
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return nil
}

// RunOnce syncs every user with open orders. A failing user does not stop
// the others; their errors are joined.
func (w *SyncWorker) RunOnce(ctx context.Context) (order.SyncSummary, error) {
	var total order.SyncSummary

	users, err := w.users.ListUsersWithOpenOrders(ctx)
	if err != nil {
		return total, fmt.Errorf("listing users with open orders: %w", err)
	}

	var errs []error
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sum, err := w.syncer.Sync(ctx, u)
		total.Updated += sum.Updated
		total.Created += sum.Created
		total.Skipped += sum.Skipped
		if err != nil {
			slog.Warn("sync failed", "user", u, "err", err)
			errs = append(errs, fmt.Errorf("user %s: %w", u, err))
		}
	}
	return total, errors.Join(errs...)
}

func (w *SyncWorker) Start() {
	slog.Info("sync worker started", "jobs", len(w.cron.Entries()))
	w.cron.Start()
}

// Stop waits for a running sync to finish.
func (w *SyncWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	slog.Info("sync worker stopped")
}
