package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/sales"
	"stockflow/internal/infrastructure/export"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// SalesHandler records and cancels sale documents.
type SalesHandler struct {
	*BaseHandler
	ledger *sales.Ledger
}

// NewSalesHandler creates the handler.
func NewSalesHandler(base *BaseHandler, ledger *sales.Ledger) *SalesHandler {
	return &SalesHandler{BaseHandler: base, ledger: ledger}
}

// RegisterRoutes mounts the sale document endpoints.
func (h *SalesHandler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/sales/:documentId")
	docs.POST("", h.Record)
	docs.POST("/cancel", h.Cancel)
	docs.GET("/allocations", h.Allocations)
	docs.GET("/cogs", h.CostOfGoodsSold)
	docs.GET("/picking-list", h.PickingList)
}

// Record handles POST /sales/:documentId
func (h *SalesHandler) Record(c *gin.Context) {
	docID, ok := h.ParamID(c, "documentId")
	if !ok {
		return
	}
	var req dto.RecordSaleRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToLineItems()
	if err != nil {
		h.Error(c, err)
		return
	}

	results, err := h.ledger.RecordSale(c.Request.Context(), docID, lines)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.RecordSaleResponse{DocumentID: docID, Lines: results})
}

// Cancel handles POST /sales/:documentId/cancel
func (h *SalesHandler) Cancel(c *gin.Context) {
	docID, ok := h.ParamID(c, "documentId")
	if !ok {
		return
	}
	reversal, err := h.ledger.Cancel(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, reversal)
}

// Allocations handles GET /sales/:documentId/allocations
func (h *SalesHandler) Allocations(c *gin.Context) {
	docID, ok := h.ParamID(c, "documentId")
	if !ok {
		return
	}
	rows, err := h.ledger.Allocations(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(rows))
}

// CostOfGoodsSold handles GET /sales/:documentId/cogs
func (h *SalesHandler) CostOfGoodsSold(c *gin.Context) {
	docID, ok := h.ParamID(c, "documentId")
	if !ok {
		return
	}
	cost, err := h.ledger.CostOfGoodsSold(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CostResponse{DocumentID: docID, Cost: cost})
}

// PickingList handles GET /sales/:documentId/picking-list[?format=xlsx]
func (h *SalesHandler) PickingList(c *gin.Context) {
	docID, ok := h.ParamID(c, "documentId")
	if !ok {
		return
	}
	lines, err := h.ledger.PickingList(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "json":
		c.JSON(http.StatusOK, dto.NewList(lines))
	case "xlsx":
		var buf bytes.Buffer
		if err := export.WritePickingList(&buf, docID.String(), lines); err != nil {
			h.Error(c, apperror.NewInternal(err))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=picking-%s.xlsx", docID))
		c.Data(http.StatusOK, export.XLSXContentType, buf.Bytes())
	default:
		h.Error(c, apperror.NewValidation("format must be json or xlsx"))
	}
}
