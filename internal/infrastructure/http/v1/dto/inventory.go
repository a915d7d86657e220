package dto

import (
	"time"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/types"
	"stockflow/internal/domain/inventory"
)

// AddBatchRequest is the body of a stock receipt.
type AddBatchRequest struct {
	Quantity  int64        `json:"quantity"`
	ExpiresAt *time.Time   `json:"expiresAt"`
	UnitCost  *types.Money `json:"unitCost"`
	VariantID *string      `json:"variantId"`
	LotNumber string       `json:"lotNumber"`
	Location  string       `json:"shelfLocation"`
}

// Options converts the optional receipt attributes.
func (r AddBatchRequest) Options() (inventory.BatchOptions, error) {
	opts := inventory.BatchOptions{LotNumber: r.LotNumber, Location: r.Location}
	if r.VariantID != nil && *r.VariantID != "" {
		vid, err := id.Parse(*r.VariantID)
		if err != nil {
			return opts, apperror.NewValidation("invalid variantId format")
		}
		opts.VariantID = &vid
	}
	return opts, nil
}

// StockResponse reports a computed stock figure.
type StockResponse struct {
	ProductID *id.ID `json:"productId,omitempty"`
	VariantID *id.ID `json:"variantId,omitempty"`
	Stock     int64  `json:"stock"`
}

// DeductRequest asks the engine for a direct allocation outside a sale document.
type DeductRequest struct {
	Quantity  int64   `json:"quantity"`
	VariantID *string `json:"variantId"`
}
