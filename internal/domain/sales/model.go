// Package sales is the allocation ledger: it records which lots satisfied each
// sold line of a document (invoice) and undoes that when the document is cancelled.
package sales

import (
	"context"
	"time"

	"stockflow/internal/core/id"
	"stockflow/internal/core/types"
)

// LineItem is one sold line of a document.
type LineItem struct {
	ID        id.ID  `json:"id"`
	ProductID id.ID  `json:"productId"`
	VariantID *id.ID `json:"variantId,omitempty"`
	Quantity  int64  `json:"quantity"`
}

// LineAllocation is a persisted slice of a batch taken by a line item.
// UnitCost is copied from the batch at allocation time and never changes.
type LineAllocation struct {
	ID         id.ID       `db:"id" json:"id"`
	DocumentID id.ID       `db:"document_id" json:"documentId"`
	LineItemID id.ID       `db:"line_item_id" json:"lineItemId"`
	BatchID    id.ID       `db:"batch_id" json:"batchId"`
	Quantity   int64       `db:"quantity" json:"quantity"`
	UnitCost   types.Money `db:"unit_cost" json:"unitCost"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
	ReversedAt *time.Time  `db:"reversed_at" json:"reversedAt,omitempty"`
}

// LineResult is the costing outcome of one line.
type LineResult struct {
	LineItemID  id.ID            `json:"lineItemId"`
	Quantity    int64            `json:"quantity"`
	AverageCost types.Money      `json:"averageCost"`
	TotalCost   types.Money      `json:"totalCost"`
	Allocations []LineAllocation `json:"allocations"`
}

// PickingLine tells a picker which lot and shelf to take goods from.
type PickingLine struct {
	LineItemID  id.ID  `json:"lineItemId"`
	BatchID     id.ID  `json:"batchId"`
	Quantity    int64  `json:"quantity"`
	ProductName string `json:"productName"`
	Flavor      string `json:"flavor,omitempty"`
	Size        string `json:"size,omitempty"`
	LotNumber   string `json:"lotNumber,omitempty"`
	Location    string `json:"shelfLocation,omitempty"`
}

// Repository persists line allocations.
type Repository interface {
	// CreateAllocations inserts allocation rows.
	CreateAllocations(ctx context.Context, rows []LineAllocation) error

	// ListActiveAllocations returns the non-reversed rows of a document, oldest first.
	ListActiveAllocations(ctx context.Context, documentID id.ID) ([]LineAllocation, error)

	// MarkReversed stamps rows as reversed so they drop out of stock and cost figures.
	MarkReversed(ctx context.Context, ids []id.ID, at time.Time) error
}
