package dto

import (
	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/types"
	"stockflow/internal/domain/sales"
)

// SaleLineRequest is one line of a sale document.
type SaleLineRequest struct {
	ID        string  `json:"id"`
	ProductID string  `json:"productId" binding:"required"`
	VariantID *string `json:"variantId"`
	Quantity  int64   `json:"quantity"`
}

// RecordSaleRequest is the body of a sale recording.
type RecordSaleRequest struct {
	Lines []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ToLineItems parses identifiers. Lines without an id get a generated one.
func (r RecordSaleRequest) ToLineItems() ([]sales.LineItem, error) {
	items := make([]sales.LineItem, 0, len(r.Lines))
	for i, l := range r.Lines {
		item := sales.LineItem{Quantity: l.Quantity}

		pid, err := id.Parse(l.ProductID)
		if err != nil {
			return nil, apperror.NewValidation("invalid productId format").WithDetail("line", i)
		}
		item.ProductID = pid

		if l.ID == "" {
			item.ID = id.New()
		} else if item.ID, err = id.Parse(l.ID); err != nil {
			return nil, apperror.NewValidation("invalid line id format").WithDetail("line", i)
		}

		if l.VariantID != nil && *l.VariantID != "" {
			vid, err := id.Parse(*l.VariantID)
			if err != nil {
				return nil, apperror.NewValidation("invalid variantId format").WithDetail("line", i)
			}
			item.VariantID = &vid
		}
		items = append(items, item)
	}
	return items, nil
}

// RecordSaleResponse reports the allocations of a recorded sale.
type RecordSaleResponse struct {
	DocumentID id.ID              `json:"documentId"`
	Lines      []sales.LineResult `json:"lines"`
}

// CostResponse reports the cost of goods sold of a document.
type CostResponse struct {
	DocumentID id.ID       `json:"documentId"`
	Cost       types.Money `json:"costOfGoodsSold"`
}
