// Package stocksync pushes variant stock to the external sales channel.
//
// Pushes are fire-and-forget from the sale's point of view: they are queued on
// a bounded channel and executed by a single worker, and their failures are
// reported through Result, never to the code path that committed the sale.
package stocksync

import (
	"context"
	"errors"
	"time"
)

// ErrUnresolvedSKU means the channel has no variant for the SKU.
var ErrUnresolvedSKU = errors.New("sku not found on sales channel")

// Mapping identifies a variant on the external channel.
type Mapping struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
}

// Valid reports whether both channel identifiers are set.
func (m Mapping) Valid() bool {
	return m.ProductID != "" && m.VariantID != ""
}

// Client talks to the external channel. Implementations route every call
// through the shared rate gate.
type Client interface {
	// FindVariantBySKU looks the SKU up on the channel. ok is false when no variant matches.
	FindVariantBySKU(ctx context.Context, sku string) (m Mapping, ok bool, err error)

	// UpdateVariantStock sets the displayed stock of a channel variant.
	UpdateVariantStock(ctx context.Context, m Mapping, stock int64) error
}

// MappingStore persists the SKU → channel identity cache.
// Entries never expire; DeleteSKUMapping is the only invalidation.
type MappingStore interface {
	GetSKUMapping(ctx context.Context, sku string) (Mapping, bool, error)
	SetSKUMapping(ctx context.Context, sku string, m Mapping) error
	DeleteSKUMapping(ctx context.Context, sku string) error
}

// Result reports the outcome of one push.
type Result struct {
	SKU      string
	Stock    int64
	Mapping  Mapping
	Err      error
	Finished time.Time
}

// ReconcileReport summarizes a full resync.
type ReconcileReport struct {
	Variants int `json:"variants"`
	Pushed   int `json:"pushed"`
	Failed   int `json:"failed"`
}
