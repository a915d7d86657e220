// Package main is the entry point for the stockflow background worker.
// It reconciles channel stock, reports low stock and prunes idempotency keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"

	"stockflow/internal/app"
	"stockflow/internal/infrastructure/storage/postgres"
	"stockflow/pkg/logger"
)

const reconcileLockKey = "stockflow:lock:reconcile"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := checkConfig(cfg); err != nil {
		log.Fatalw("worker cannot start", "error", err)
	}

	log.Info("starting stockflow worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	worker := NewWorker(a, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	<-done
	log.Info("worker stopped")
}

// checkConfig refuses the in-memory store: the worker would run its jobs
// against an empty store of its own instead of the server's data.
func checkConfig(cfg app.Config) error {
	if cfg.InMemory() {
		return errors.New("the worker needs DATABASE_URL; the in-memory store is private to one process")
	}
	return nil
}

// Worker runs the periodic jobs.
type Worker struct {
	app    *app.App
	locker *redislock.Client
	log    *logger.Logger
}

// NewWorker creates a worker. Without Redis, reconciliation runs unguarded,
// so only one worker instance may be deployed.
func NewWorker(a *app.App, log *logger.Logger) *Worker {
	w := &Worker{app: a, log: log.WithComponent("worker")}
	if a.Redis != nil {
		w.locker = redislock.New(a.Redis)
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	reconcile := time.NewTicker(w.app.Config.ReconcileInterval)
	defer reconcile.Stop()

	housekeeping := time.NewTicker(time.Hour)
	defer housekeeping.Stop()

	stats := time.NewTicker(5 * time.Minute)
	defer stats.Stop()

	w.reconcile(ctx)
	w.reportLowStock(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			w.reconcile(ctx)
		case <-housekeeping.C:
			w.reportLowStock(ctx)
			w.cleanupIdempotency(ctx)
		case <-stats.C:
			if w.app.Pool != nil {
				postgres.LogPoolStats(ctx, w.app.Pool.Unwrap())
			}
		}
	}
}

func (w *Worker) reconcile(ctx context.Context) {
	if w.app.Syncer == nil {
		return
	}

	if w.locker != nil {
		lock, err := w.locker.Obtain(ctx, reconcileLockKey, w.app.Config.ReconcileInterval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			w.log.Debugw("reconcile already running elsewhere")
			return
		}
		if err != nil {
			w.log.Errorw("failed to obtain reconcile lock", "error", err)
			return
		}
		defer func() {
			// the lock may have expired during a long run
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				w.log.Warnw("failed to release reconcile lock", "error", err)
			}
		}()
	}

	start := time.Now()
	report, err := w.app.Syncer.ReconcileAll(ctx, w.app.Inventory)
	if err != nil {
		w.log.Errorw("reconcile failed", "error", err, "pushed", report.Pushed)
		return
	}
	w.log.Infow("reconcile finished",
		"variants", report.Variants,
		"pushed", report.Pushed,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) reportLowStock(ctx context.Context) {
	levels, err := w.app.Inventory.LowStock(ctx)
	if err != nil {
		w.log.Errorw("low stock report failed", "error", err)
		return
	}
	for _, l := range levels {
		w.log.Warnw("low stock",
			"product_id", l.ProductID,
			"name", l.Name,
			"stock", l.Stock,
			"min_stock", l.MinStock,
			"severity", l.Severity,
		)
	}
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	if w.app.IdemRepo == nil {
		return
	}
	n, err := w.app.IdemRepo.CleanupExpired(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}
}
