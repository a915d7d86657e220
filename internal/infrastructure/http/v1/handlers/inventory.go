package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/infrastructure/http/v1/dto"
	"stockflow/internal/infrastructure/storage/postgres"
)

// BatchHistory reads the audit trail of a batch.
type BatchHistory interface {
	BatchHistory(ctx context.Context, batchID id.ID, limit int) ([]postgres.AuditEntry, error)
}

// InventoryHandler exposes lots, stock figures and direct allocation.
type InventoryHandler struct {
	*BaseHandler
	service *inventory.Service
	history BatchHistory
}

// NewInventoryHandler creates the handler. history may be nil when no audit trail is kept.
func NewInventoryHandler(base *BaseHandler, service *inventory.Service, history BatchHistory) *InventoryHandler {
	return &InventoryHandler{BaseHandler: base, service: service, history: history}
}

// RegisterRoutes mounts the inventory endpoints.
func (h *InventoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	products := rg.Group("/products/:productId")
	products.POST("/batches", h.AddBatch)
	products.GET("/batches", h.ListBatches)
	products.GET("/stock", h.ProductStock)
	products.POST("/deduct", h.Deduct)

	rg.GET("/variants/:variantId/stock", h.VariantStock)
	rg.GET("/stock/low", h.LowStock)
	rg.POST("/allocations/restore", h.Restore)
	rg.GET("/batches/:batchId/history", h.History)
}

// AddBatch handles POST /products/:productId/batches
func (h *InventoryHandler) AddBatch(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var req dto.AddBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}
	opts, err := req.Options()
	if err != nil {
		h.Error(c, err)
		return
	}

	batch, err := h.service.AddBatch(c.Request.Context(), productID, req.Quantity, req.ExpiresAt, req.UnitCost, opts)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, batch)
}

// ListBatches handles GET /products/:productId/batches
func (h *InventoryHandler) ListBatches(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	batches, err := h.service.ListBatches(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(batches))
}

// ProductStock handles GET /products/:productId/stock
func (h *InventoryHandler) ProductStock(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	stock, err := h.service.GetComputedStock(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StockResponse{ProductID: &productID, Stock: stock})
}

// VariantStock handles GET /variants/:variantId/stock
func (h *InventoryHandler) VariantStock(c *gin.Context) {
	variantID, ok := h.ParamID(c, "variantId")
	if !ok {
		return
	}
	stock, err := h.service.ComputeVariantStock(c.Request.Context(), variantID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StockResponse{VariantID: &variantID, Stock: stock})
}

// LowStock handles GET /stock/low
func (h *InventoryHandler) LowStock(c *gin.Context) {
	levels, err := h.service.LowStock(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(levels))
}

// Deduct handles POST /products/:productId/deduct
func (h *InventoryHandler) Deduct(c *gin.Context) {
	productID, ok := h.ParamID(c, "productId")
	if !ok {
		return
	}
	var req dto.DeductRequest
	if !h.BindJSON(c, &req) {
		return
	}
	var variantID *id.ID
	if req.VariantID != nil && *req.VariantID != "" {
		parsed, err := id.Parse(*req.VariantID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid variantId format"))
			return
		}
		variantID = &parsed
	}

	ctx := c.Request.Context()
	deduction, err := h.service.DeductFromBatches(ctx, productID, req.Quantity, variantID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.service.SyncVariantStocksForAllocations(ctx, deduction.Allocations)
	h.OK(c, deduction)
}

// Restore handles POST /allocations/restore
func (h *InventoryHandler) Restore(c *gin.Context) {
	var entries []inventory.ReversalEntry
	if !h.BindJSON(c, &entries) {
		return
	}
	reversal, err := h.service.RestoreAllocations(c.Request.Context(), entries)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, reversal)
}

// History handles GET /batches/:batchId/history
func (h *InventoryHandler) History(c *gin.Context) {
	if h.history == nil {
		h.Error(c, apperror.NewNotFound("audit trail", "batch"))
		return
	}
	batchID, ok := h.ParamID(c, "batchId")
	if !ok {
		return
	}
	entries, err := h.history.BatchHistory(c.Request.Context(), batchID, h.ParseIntQuery(c, "limit", 100))
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(entries))
}
