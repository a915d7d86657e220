// Package inventory implements lot-based stock: receipt, FEFO allocation with
// weighted-average costing, reversal and the denormalized stock projection.
package inventory

import (
	"bytes"
	"time"

	"stockflow/internal/core/id"
	"stockflow/internal/core/types"
)

// Product is a sellable item. Stock is a cache of the live batch sum and is
// written only by the Projector.
type Product struct {
	ID        id.ID       `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Price     types.Money `db:"price" json:"price"`
	Stock     int64       `db:"stock" json:"stock"`
	MinStock  int64       `db:"min_stock" json:"minStock"`
	UpdatedAt time.Time   `db:"updated_at" json:"updatedAt"`
}

// Variant is a sellable sub-form of a product with its own channel SKU.
type Variant struct {
	ID        id.ID  `db:"id" json:"id"`
	ProductID id.ID  `db:"product_id" json:"productId"`
	SKU       string `db:"sku" json:"sku,omitempty"`
	Name      string `db:"name" json:"name,omitempty"`
	Flavor    string `db:"flavor" json:"flavor,omitempty"`
	Size      string `db:"size" json:"size,omitempty"`
}

// Label returns the most human-friendly identifier of the variant.
func (v Variant) Label() string {
	switch {
	case v.SKU != "":
		return v.SKU
	case v.Name != "":
		return v.Name
	default:
		return v.ID.String()
	}
}

// Batch is a lot: a discrete, dated, costed quantity received at one time.
// UnitCost is fixed at creation; Quantity only moves through allocation and reversal.
type Batch struct {
	ID        id.ID       `db:"id" json:"id"`
	ProductID id.ID       `db:"product_id" json:"productId"`
	VariantID *id.ID      `db:"variant_id" json:"variantId,omitempty"`
	Quantity  int64       `db:"quantity" json:"quantity"`
	UnitCost  types.Money `db:"unit_cost" json:"unitCost"`
	ExpiresAt *time.Time  `db:"expires_at" json:"expiresAt,omitempty"`
	LotNumber string      `db:"lot_number" json:"lotNumber,omitempty"`
	Location  string      `db:"shelf_location" json:"shelfLocation,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// BatchOptions carries the optional attributes of a stock receipt.
type BatchOptions struct {
	VariantID *id.ID
	LotNumber string
	Location  string
}

// Allocation is the portion of one batch taken by a sale, at the batch's cost.
type Allocation struct {
	BatchID  id.ID       `json:"batchId"`
	Quantity int64       `json:"quantity"`
	UnitCost types.Money `json:"unitCost"`
}

// Deduction is the result of allocating one sale line. TotalCost is the exact
// Σ(quantity × unit cost); AverageCost is TotalCost / quantity rounded to
// types.CostScale, so AverageCost × quantity may differ from TotalCost in the
// last digit.
type Deduction struct {
	AverageCost types.Money  `json:"averageCost"`
	TotalCost   types.Money  `json:"totalCost"`
	Allocations []Allocation `json:"allocations"`
}

// QuantityUpdate sets the remaining quantity of one batch.
type QuantityUpdate struct {
	BatchID  id.ID
	Quantity int64
}

// ReversalEntry restores Quantity units to a batch.
type ReversalEntry struct {
	BatchID  id.ID `json:"batchId"`
	Quantity int64 `json:"quantity"`
}

// Reversal reports what a reversal touched.
type Reversal struct {
	Restored []ReversalEntry `json:"restored"`
	Skipped  []id.ID         `json:"skipped,omitempty"`
	Products []id.ID         `json:"products"`
	Variants []id.ID         `json:"variants,omitempty"`
}

// Severity classifies a product's stock against its minimum threshold.
type Severity string

const (
	SeverityOutOfStock Severity = "out_of_stock"
	SeverityCritical   Severity = "critical"
	SeverityLow        Severity = "low"
)

// StockLevel is one row of the low-stock report.
type StockLevel struct {
	ProductID id.ID    `json:"productId"`
	Name      string   `json:"name"`
	Stock     int64    `json:"stock"`
	MinStock  int64    `json:"minStock"`
	Severity  Severity `json:"severity"`
}

// Classify returns the severity for p, or false when stock is healthy.
func Classify(p Product) (Severity, bool) {
	switch {
	case p.Stock <= 0:
		return SeverityOutOfStock, true
	case 2*p.Stock <= p.MinStock:
		return SeverityCritical, true
	case p.Stock <= p.MinStock:
		return SeverityLow, true
	default:
		return "", false
	}
}

// BatchLess reports whether a sorts before b in the canonical allocation order:
// expiry ascending with undated lots last, then creation time, then id.
func BatchLess(a, b Batch) bool {
	switch {
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
