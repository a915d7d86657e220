package dto

import "stockflow/internal/domain/stocksync"

// MappingResponse reports the channel identity of a SKU.
type MappingResponse struct {
	SKU string `json:"sku"`
	stocksync.Mapping
}

// PushStockRequest pushes an explicit stock figure for a SKU.
type PushStockRequest struct {
	Stock int64 `json:"stock"`
}

// SetMappingRequest sets the channel identity of a SKU by hand.
type SetMappingRequest struct {
	ProductID string `json:"productId" binding:"required"`
	VariantID string `json:"variantId" binding:"required"`
}

// ToMapping converts the request.
func (r SetMappingRequest) ToMapping() stocksync.Mapping {
	return stocksync.Mapping{ProductID: r.ProductID, VariantID: r.VariantID}
}
