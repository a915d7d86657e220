package inventory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/tx"
	"stockflow/internal/core/types"
	"stockflow/pkg/logger"
)

var tracer = otel.Tracer("stockflow/inventory")

// Service is the inventory engine: stock receipt, allocation, reversal and
// the stock projection. It is safe for concurrent use; isolation between
// concurrent sales comes from the row locks taken by the repository.
type Service struct {
	repo      Repository
	txm       tx.Manager
	projector *Projector
	publisher StockPublisher
	auditor   Auditor
	now       func() time.Time
}

// NewService creates the inventory service.
// publisher and auditor may be nil.
func NewService(repo Repository, txm tx.Manager, publisher StockPublisher, auditor Auditor) *Service {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &Service{
		repo:      repo,
		txm:       txm,
		projector: NewProjector(repo),
		publisher: publisher,
		auditor:   auditor,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Projector exposes the stock projector used by the service.
func (s *Service) Projector() *Projector {
	return s.projector
}

// AddBatch records a stock receipt. A nil unitCost means zero cost.
func (s *Service) AddBatch(ctx context.Context, productID id.ID, quantity int64, expiresAt *time.Time, unitCost *types.Money, opts BatchOptions) (Batch, error) {
	if quantity <= 0 {
		return Batch{}, apperror.NewValidation("batch quantity must be positive").
			WithDetail("quantity", quantity)
	}
	cost := types.Zero()
	if unitCost != nil {
		cost = *unitCost
	}
	if cost.IsNegative() {
		return Batch{}, apperror.NewValidation("batch unit cost must not be negative").
			WithDetail("unitCost", cost.String())
	}
	if !types.FitsCostScale(cost) {
		return Batch{}, apperror.NewValidation(fmt.Sprintf("batch unit cost must have at most %d decimal places", types.CostScale)).
			WithDetail("unitCost", cost.String())
	}

	var (
		batch   Batch
		variant *Variant
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.LockProducts(ctx, []id.ID{productID}); err != nil {
			return err
		}
		if opts.VariantID != nil {
			v, err := s.repo.GetVariant(ctx, *opts.VariantID)
			if err != nil {
				return err
			}
			if v.ProductID != productID {
				return apperror.NewValidation("variant does not belong to product").
					WithDetail("variantId", v.ID).
					WithDetail("productId", productID)
			}
			variant = &v
		}

		batch = Batch{
			ID:        id.New(),
			ProductID: productID,
			VariantID: opts.VariantID,
			Quantity:  quantity,
			UnitCost:  cost,
			ExpiresAt: expiresAt,
			LotNumber: opts.LotNumber,
			Location:  opts.Location,
			CreatedAt: s.now(),
		}
		if err := s.repo.CreateBatch(ctx, &batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		if err := s.auditor.RecordStockEvents(ctx, []StockEvent{eventFor(ActionReceipt, batch, quantity, quantity)}); err != nil {
			return fmt.Errorf("audit receipt: %w", err)
		}
		if _, err := s.projector.RecomputeProductStock(ctx, productID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}

	logger.Info(ctx, "batch received",
		"batch_id", batch.ID,
		"product_id", productID,
		"quantity", quantity,
		"unit_cost", batch.UnitCost.String(),
	)

	if variant != nil {
		s.pushVariant(ctx, *variant)
	}
	return batch, nil
}

// LockProducts row-locks products in id order inside the caller's transaction.
// A caller that changes several products in one transaction locks all of them
// up front; the engine then re-locks each one, which is a no-op.
func (s *Service) LockProducts(ctx context.Context, productIDs []id.ID) error {
	ids := id.Sorted(productIDs)
	if len(ids) == 0 {
		return nil
	}
	if err := s.repo.LockProducts(ctx, ids); err != nil {
		return fmt.Errorf("lock products: %w", err)
	}
	return nil
}

// ListBatches returns every batch of the product in canonical allocation order.
func (s *Service) ListBatches(ctx context.Context, productID id.ID) ([]Batch, error) {
	return s.repo.ListBatches(ctx, productID)
}

// GetComputedStock returns the authoritative stock: the live batch sum.
func (s *Service) GetComputedStock(ctx context.Context, productID id.ID) (int64, error) {
	return s.repo.SumQuantityByProduct(ctx, productID)
}

// ComputeVariantStock returns the live batch sum of a variant.
func (s *Service) ComputeVariantStock(ctx context.Context, variantID id.ID) (int64, error) {
	return s.projector.RecomputeVariantStock(ctx, variantID)
}

// ListSyncableVariants returns every variant that carries a channel SKU.
func (s *Service) ListSyncableVariants(ctx context.Context) ([]Variant, error) {
	return s.repo.ListVariantsWithSKU(ctx)
}

// DeductFromBatches allocates quantity units of a product (optionally of one
// variant) from its lots in canonical order and returns the per-lot breakdown
// with the weighted average unit cost. Either every lot decrement commits or none does.
func (s *Service) DeductFromBatches(ctx context.Context, productID id.ID, quantity int64, variantID *id.ID) (Deduction, error) {
	if quantity < 0 {
		return Deduction{}, apperror.NewValidation("quantity must not be negative").
			WithDetail("quantity", quantity)
	}
	if quantity == 0 {
		return Deduction{AverageCost: types.Zero(), TotalCost: types.Zero(), Allocations: []Allocation{}}, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("product.id", productID.String()),
		attribute.Int64("quantity", quantity),
	}
	if variantID != nil {
		attrs = append(attrs, attribute.String("variant.id", variantID.String()))
	}
	ctx, span := tracer.Start(ctx, "inventory.deduct", trace.WithAttributes(attrs...))
	defer span.End()

	var result Deduction
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.LockProducts(ctx, []id.ID{productID}); err != nil {
			return err
		}
		candidates, err := s.repo.LockAvailableBatches(ctx, productID, variantID)
		if err != nil {
			return fmt.Errorf("lock candidate batches: %w", err)
		}

		allocations, remaining := Plan(candidates, quantity)
		if remaining > 0 {
			return s.insufficient(ctx, productID, variantID, quantity, quantity-remaining)
		}

		byID := make(map[id.ID]Batch, len(candidates))
		for _, b := range candidates {
			byID[b.ID] = b
		}
		updates := make([]QuantityUpdate, 0, len(allocations))
		events := make([]StockEvent, 0, len(allocations))
		for _, a := range allocations {
			b := byID[a.BatchID]
			left := b.Quantity - a.Quantity
			updates = append(updates, QuantityUpdate{BatchID: a.BatchID, Quantity: left})
			events = append(events, eventFor(ActionAllocate, b, -a.Quantity, left))
		}
		if err := s.repo.UpdateBatchQuantities(ctx, updates); err != nil {
			return fmt.Errorf("decrement batches: %w", err)
		}
		if err := s.auditor.RecordStockEvents(ctx, events); err != nil {
			return fmt.Errorf("audit allocation: %w", err)
		}
		if _, err := s.projector.RecomputeProductStock(ctx, productID); err != nil {
			return err
		}

		result = Deduction{
			AverageCost: AverageCost(allocations, quantity),
			TotalCost:   TotalCost(allocations),
			Allocations: allocations,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Deduction{}, err
	}

	logger.Debug(ctx, "allocated from batches",
		"product_id", productID,
		"quantity", quantity,
		"lots", len(result.Allocations),
		"average_cost", result.AverageCost.String(),
	)
	return result, nil
}

func (s *Service) insufficient(ctx context.Context, productID id.ID, variantID *id.ID, requested, available int64) error {
	if variantID != nil {
		label := variantID.String()
		if v, err := s.repo.GetVariant(ctx, *variantID); err == nil {
			label = v.Label()
		}
		return apperror.NewInsufficientStock("variant "+label, requested, available)
	}
	label := productID.String()
	if p, err := s.repo.GetProduct(ctx, productID); err == nil && p.Name != "" {
		label = p.Name
	}
	return apperror.NewInsufficientStock("product "+label, requested, available)
}

// LowStock lists products at or below their minimum stock threshold.
func (s *Service) LowStock(ctx context.Context) ([]StockLevel, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	levels := make([]StockLevel, 0)
	for _, p := range products {
		sev, low := Classify(p)
		if !low {
			continue
		}
		levels = append(levels, StockLevel{
			ProductID: p.ID,
			Name:      p.Name,
			Stock:     p.Stock,
			MinStock:  p.MinStock,
			Severity:  sev,
		})
	}
	return levels, nil
}

func eventFor(action EventAction, b Batch, delta, quantity int64) StockEvent {
	return StockEvent{
		Action:    action,
		BatchID:   b.ID,
		ProductID: b.ProductID,
		VariantID: b.VariantID,
		Delta:     delta,
		Quantity:  quantity,
		UnitCost:  b.UnitCost.String(),
	}
}
