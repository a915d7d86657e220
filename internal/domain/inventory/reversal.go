package inventory

import (
	"context"
	"fmt"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/pkg/logger"
)

// Reverse restores allocated quantities to their originating batches and
// recomputes the stock of every touched product, in one transaction.
//
// A batch that no longer exists is skipped and reported in Reversal.Skipped;
// it is never recreated. Unit costs are not re-derived.
// Reverse does not notify the external channel, so it can run inside a caller's
// transaction; use RestoreAllocations for the standalone operation.
func (s *Service) Reverse(ctx context.Context, entries []ReversalEntry) (Reversal, error) {
	wanted := make(map[id.ID]int64, len(entries))
	order := make([]id.ID, 0, len(entries))
	for i, e := range entries {
		if e.Quantity < 0 {
			return Reversal{}, apperror.NewValidation(fmt.Sprintf("entry %d: quantity must not be negative", i))
		}
		if e.Quantity == 0 {
			continue
		}
		if _, ok := wanted[e.BatchID]; !ok {
			order = append(order, e.BatchID)
		}
		wanted[e.BatchID] += e.Quantity
	}

	result := Reversal{Restored: []ReversalEntry{}, Products: []id.ID{}}
	if len(order) == 0 {
		return result, nil
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		// a batch never changes product, so the unlocked read is enough to
		// find which products to lock before the batches
		known, err := s.repo.GetBatchesByIDs(ctx, order)
		if err != nil {
			return fmt.Errorf("load batches: %w", err)
		}
		owners := make([]id.ID, 0, len(known))
		for _, b := range known {
			owners = append(owners, b.ProductID)
		}
		if err := s.LockProducts(ctx, owners); err != nil {
			return err
		}

		batches, err := s.repo.LockBatches(ctx, order)
		if err != nil {
			return fmt.Errorf("lock batches: %w", err)
		}

		found := make(map[id.ID]struct{}, len(batches))
		var products, variants []id.ID
		updates := make([]QuantityUpdate, 0, len(batches))
		events := make([]StockEvent, 0, len(batches))
		for _, b := range batches {
			found[b.ID] = struct{}{}
			qty := wanted[b.ID]
			restored := b.Quantity + qty
			updates = append(updates, QuantityUpdate{BatchID: b.ID, Quantity: restored})
			result.Restored = append(result.Restored, ReversalEntry{BatchID: b.ID, Quantity: qty})
			events = append(events, eventFor(ActionReverse, b, qty, restored))
			products = append(products, b.ProductID)
			if b.VariantID != nil {
				variants = append(variants, *b.VariantID)
			}
		}
		for _, bid := range order {
			if _, ok := found[bid]; !ok {
				result.Skipped = append(result.Skipped, bid)
				logger.Warn(ctx, "reversal skipped missing batch",
					"batch_id", bid,
					"quantity", wanted[bid],
				)
			}
		}

		if err := s.repo.UpdateBatchQuantities(ctx, updates); err != nil {
			return fmt.Errorf("restore batches: %w", err)
		}
		if err := s.auditor.RecordStockEvents(ctx, events); err != nil {
			return fmt.Errorf("audit reversal: %w", err)
		}

		result.Products = id.Unique(products)
		result.Variants = id.Unique(variants)
		for _, pid := range result.Products {
			if _, err := s.projector.RecomputeProductStock(ctx, pid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Reversal{}, err
	}

	logger.Info(ctx, "reversed batch allocations",
		"restored", len(result.Restored),
		"skipped", len(result.Skipped),
		"products", len(result.Products),
	)
	return result, nil
}

// RestoreAllocations reverses entries and then pushes the new stock of every
// touched variant to the external channel.
func (s *Service) RestoreAllocations(ctx context.Context, entries []ReversalEntry) (Reversal, error) {
	r, err := s.Reverse(ctx, entries)
	if err != nil {
		return Reversal{}, err
	}
	s.SyncVariants(ctx, r.Variants)
	return r, nil
}

// SyncVariantStocksForAllocations pushes the current stock of every variant
// touched by allocations. Call it after the sale or reversal has committed.
// Failures are logged and never returned.
func (s *Service) SyncVariantStocksForAllocations(ctx context.Context, allocations []Allocation) {
	if s.publisher == nil || len(allocations) == 0 {
		return
	}
	batchIDs := make([]id.ID, 0, len(allocations))
	for _, a := range allocations {
		batchIDs = append(batchIDs, a.BatchID)
	}
	batches, err := s.repo.GetBatchesByIDs(ctx, id.Unique(batchIDs))
	if err != nil {
		logger.Warn(ctx, "stock sync: load batches failed", "error", err)
		return
	}
	var variants []id.ID
	for _, b := range batches {
		if b.VariantID != nil {
			variants = append(variants, *b.VariantID)
		}
	}
	s.SyncVariants(ctx, id.Unique(variants))
}

// SyncVariants recomputes and publishes the stock of each variant that has a SKU.
func (s *Service) SyncVariants(ctx context.Context, variantIDs []id.ID) {
	if s.publisher == nil {
		return
	}
	for _, vid := range variantIDs {
		v, err := s.repo.GetVariant(ctx, vid)
		if err != nil {
			logger.Warn(ctx, "stock sync: load variant failed", "variant_id", vid, "error", err)
			continue
		}
		s.pushVariant(ctx, v)
	}
}

func (s *Service) pushVariant(ctx context.Context, v Variant) {
	if s.publisher == nil || v.SKU == "" {
		return
	}
	stock, err := s.projector.RecomputeVariantStock(ctx, v.ID)
	if err != nil {
		logger.Warn(ctx, "stock sync: compute variant stock failed", "variant_id", v.ID, "error", err)
		return
	}
	s.publisher.PushVariantStock(ctx, v.SKU, stock)
}
