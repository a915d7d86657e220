package inventory

import (
	"context"

	"stockflow/internal/core/id"
)

// Repository is the lot store. Mutations are expected to run inside a
// transaction obtained from tx.Manager; Lock* methods must be called inside one.
type Repository interface {
	// Batches

	// CreateBatch inserts a new lot.
	CreateBatch(ctx context.Context, batch *Batch) error

	// GetBatchesByIDs returns the batches that still exist, in canonical order.
	GetBatchesByIDs(ctx context.Context, ids []id.ID) ([]Batch, error)

	// ListBatches returns every batch of a product (including empty ones) in canonical order.
	ListBatches(ctx context.Context, productID id.ID) ([]Batch, error)

	// LockAvailableBatches returns batches with quantity > 0 for the product,
	// restricted to variantID when given, in canonical order, row-locked.
	LockAvailableBatches(ctx context.Context, productID id.ID, variantID *id.ID) ([]Batch, error)

	// LockBatches row-locks the given batches in canonical order. Missing ids are omitted.
	LockBatches(ctx context.Context, ids []id.ID) ([]Batch, error)

	// UpdateBatchQuantities sets the remaining quantity of each batch in one
	// round-trip. NotFound when a batch does not exist.
	UpdateBatchQuantities(ctx context.Context, updates []QuantityUpdate) error

	// Aggregates

	SumQuantityByProduct(ctx context.Context, productID id.ID) (int64, error)
	SumQuantityByVariant(ctx context.Context, variantID id.ID) (int64, error)

	// Catalog

	// LockProducts row-locks the given products in id order. Every transaction
	// that changes batch quantities locks the owning products first, so the
	// stock written by SetProductStock is summed over committed rows only.
	// NotFound when a product does not exist.
	LockProducts(ctx context.Context, productIDs []id.ID) error

	GetProduct(ctx context.Context, productID id.ID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetVariant(ctx context.Context, variantID id.ID) (Variant, error)
	ListVariantsWithSKU(ctx context.Context) ([]Variant, error)

	// SetProductStock writes the denormalized stock. Only the Projector calls it.
	SetProductStock(ctx context.Context, productID id.ID, stock int64) error
}

// StockPublisher receives a variant's recomputed stock for the external channel.
// Implementations must not block the caller on network I/O.
type StockPublisher interface {
	PushVariantStock(ctx context.Context, sku string, stock int64)
}

// EventAction names a batch mutation recorded in the audit trail.
type EventAction string

const (
	ActionReceipt  EventAction = "receipt"
	ActionAllocate EventAction = "allocate"
	ActionReverse  EventAction = "reverse"
)

// StockEvent describes one batch mutation.
type StockEvent struct {
	Action    EventAction `json:"action"`
	BatchID   id.ID       `json:"batchId"`
	ProductID id.ID       `json:"productId"`
	VariantID *id.ID      `json:"variantId,omitempty"`
	Delta     int64       `json:"delta"`
	Quantity  int64       `json:"quantity"`
	UnitCost  string      `json:"unitCost"`
}

// Auditor records batch mutations inside the caller's transaction.
type Auditor interface {
	RecordStockEvents(ctx context.Context, events []StockEvent) error
}

type nopAuditor struct{}

func (nopAuditor) RecordStockEvents(context.Context, []StockEvent) error { return nil }
