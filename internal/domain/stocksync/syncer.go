package stocksync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockflow/internal/core/apperror"
	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/id"
	"stockflow/internal/domain/inventory"
	"stockflow/pkg/logger"
)

// Config tunes the push queue.
type Config struct {
	// QueueSize bounds pending pushes; when full, new pushes are dropped.
	QueueSize int
	// PushTimeout bounds one queued push, including time spent waiting on the rate gate.
	PushTimeout time.Duration
	// OnResult, if set, observes every queued push outcome.
	OnResult func(Result)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		PushTimeout: 30 * time.Second,
	}
}

type job struct {
	ctx   context.Context
	sku   string
	stock int64
}

// Syncer resolves SKUs and pushes stock to the channel.
type Syncer struct {
	client   Client
	mappings MappingStore
	cfg      Config
	log      *logger.Logger

	mu     sync.RWMutex
	jobs   chan job
	closed bool
	wg     sync.WaitGroup
}

// NewSyncer creates a syncer and starts its push worker.
func NewSyncer(client Client, mappings MappingStore, cfg Config, log *logger.Logger) *Syncer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultConfig().PushTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	s := &Syncer{
		client:   client,
		mappings: mappings,
		cfg:      cfg,
		log:      log.WithComponent("stocksync"),
		jobs:     make(chan job, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.work()
	return s
}

// PushVariantStock queues a push and returns immediately.
// It implements inventory.StockPublisher.
func (s *Syncer) PushVariantStock(ctx context.Context, sku string, stock int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warnw("stock push dropped: syncer closed", "sku", sku, "stock", stock)
		return
	}

	j := job{ctx: appctx.Detach(ctx), sku: sku, stock: stock}
	select {
	case s.jobs <- j:
	default:
		s.log.Warnw("stock push dropped: queue full", "sku", sku, "stock", stock, "queue_size", s.cfg.QueueSize)
		s.report(Result{SKU: sku, Stock: stock, Err: apperror.NewSync(sku, errors.New("push queue full")), Finished: time.Now()})
	}
}

// Close stops accepting pushes and waits for queued ones to finish.
func (s *Syncer) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Syncer) work() {
	defer s.wg.Done()
	for j := range s.jobs {
		ctx, cancel := context.WithTimeout(j.ctx, s.cfg.PushTimeout)
		m, err := s.push(ctx, j.sku, j.stock)
		cancel()

		if err != nil {
			s.log.WithContext(j.ctx).Warnw("stock push failed", "sku", j.sku, "stock", j.stock, "error", err)
		} else {
			s.log.WithContext(j.ctx).Debugw("stock pushed", "sku", j.sku, "stock", j.stock, "channel_variant_id", m.VariantID)
		}
		s.report(Result{SKU: j.sku, Stock: j.stock, Mapping: m, Err: err, Finished: time.Now()})
	}
}

func (s *Syncer) report(r Result) {
	if s.cfg.OnResult != nil {
		s.cfg.OnResult(r)
	}
}

// Push resolves sku and updates its channel stock synchronously.
// Every failure, including an unresolvable SKU, is an apperror SYNC_ERROR.
func (s *Syncer) Push(ctx context.Context, sku string, stock int64) error {
	_, err := s.push(ctx, sku, stock)
	return err
}

func (s *Syncer) push(ctx context.Context, sku string, stock int64) (Mapping, error) {
	m, ok, err := s.ResolveMapping(ctx, sku)
	if err != nil {
		return Mapping{}, apperror.NewSync(sku, err)
	}
	if !ok {
		return Mapping{}, apperror.NewSync(sku, ErrUnresolvedSKU)
	}
	if err := s.client.UpdateVariantStock(ctx, m, stock); err != nil {
		return m, apperror.NewSync(sku, fmt.Errorf("update variant stock: %w", err))
	}
	return m, nil
}

// ResolveMapping returns the channel identity of sku from the store, falling
// back to a channel lookup whose answer is stored for later calls.
func (s *Syncer) ResolveMapping(ctx context.Context, sku string) (Mapping, bool, error) {
	m, ok, err := s.mappings.GetSKUMapping(ctx, sku)
	if err != nil {
		// A broken cache entry must not block the lookup.
		s.log.WithContext(ctx).Warnw("sku mapping read failed", "sku", sku, "error", err)
	} else if ok && m.Valid() {
		return m, true, nil
	}

	m, ok, err = s.client.FindVariantBySKU(ctx, sku)
	if err != nil {
		return Mapping{}, false, fmt.Errorf("find variant by sku: %w", err)
	}
	if !ok || !m.Valid() {
		return Mapping{}, false, nil
	}
	if err := s.mappings.SetSKUMapping(ctx, sku, m); err != nil {
		s.log.WithContext(ctx).Warnw("sku mapping write failed", "sku", sku, "error", err)
	}
	return m, true, nil
}

// SetMapping stores a channel identity for sku by hand, replacing any cached one.
func (s *Syncer) SetMapping(ctx context.Context, sku string, m Mapping) error {
	if strings.TrimSpace(sku) == "" {
		return apperror.NewValidation("sku is required")
	}
	if !m.Valid() {
		return apperror.NewValidation("productId and variantId are required").
			WithDetail("sku", sku)
	}
	if err := s.mappings.SetSKUMapping(ctx, sku, m); err != nil {
		return fmt.Errorf("set sku mapping: %w", err)
	}
	s.log.WithContext(ctx).Infow("sku mapping set", "sku", sku, "product_id", m.ProductID, "variant_id", m.VariantID)
	return nil
}

// Invalidate drops the cached mapping of sku.
func (s *Syncer) Invalidate(ctx context.Context, sku string) error {
	return s.mappings.DeleteSKUMapping(ctx, sku)
}

// VariantSource lists variants and computes their live stock.
// *inventory.Service satisfies it.
type VariantSource interface {
	ListSyncableVariants(ctx context.Context) ([]inventory.Variant, error)
	ComputeVariantStock(ctx context.Context, variantID id.ID) (int64, error)
}

// ReconcileAll pushes the computed stock of every SKU-bearing variant,
// synchronously and one by one. Individual failures are counted, not returned.
func (s *Syncer) ReconcileAll(ctx context.Context, src VariantSource) (ReconcileReport, error) {
	variants, err := src.ListSyncableVariants(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list variants: %w", err)
	}

	report := ReconcileReport{Variants: len(variants)}
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		stock, err := src.ComputeVariantStock(ctx, v.ID)
		if err != nil {
			report.Failed++
			s.log.WithContext(ctx).Warnw("reconcile: compute stock failed", "variant_id", v.ID, "error", err)
			continue
		}
		if err := s.Push(ctx, v.SKU, stock); err != nil {
			report.Failed++
			s.log.WithContext(ctx).Warnw("reconcile: push failed", "sku", v.SKU, "error", err)
			continue
		}
		report.Pushed++
	}

	s.log.WithContext(ctx).Infow("reconciled channel stock",
		"variants", report.Variants,
		"pushed", report.Pushed,
		"failed", report.Failed,
	)
	return report, nil
}
