package inventory

import (
	"context"
	"fmt"

	"stockflow/internal/core/id"
)

// Projector keeps Product.Stock equal to the live sum of batch quantities.
// It is the single writer of that field.
type Projector struct {
	repo Repository
}

// NewProjector creates a stock projector over the lot store.
func NewProjector(repo Repository) *Projector {
	return &Projector{repo: repo}
}

// RecomputeProductStock sets Product.Stock to the batch sum and returns it.
func (p *Projector) RecomputeProductStock(ctx context.Context, productID id.ID) (int64, error) {
	sum, err := p.repo.SumQuantityByProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("sum product batches: %w", err)
	}
	if err := p.repo.SetProductStock(ctx, productID, sum); err != nil {
		return 0, fmt.Errorf("set product stock: %w", err)
	}
	return sum, nil
}

// RecomputeVariantStock returns the batch sum of a variant. It writes nothing.
func (p *Projector) RecomputeVariantStock(ctx context.Context, variantID id.ID) (int64, error) {
	sum, err := p.repo.SumQuantityByVariant(ctx, variantID)
	if err != nil {
		return 0, fmt.Errorf("sum variant batches: %w", err)
	}
	return sum, nil
}
