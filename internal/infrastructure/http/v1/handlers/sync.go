package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/domain/stocksync"
	"stockflow/internal/infrastructure/http/v1/dto"
)

// SyncHandler operates the external channel synchronization by hand.
type SyncHandler struct {
	*BaseHandler
	syncer    *stocksync.Syncer
	inventory *inventory.Service
}

// NewSyncHandler creates the handler.
func NewSyncHandler(base *BaseHandler, syncer *stocksync.Syncer, inv *inventory.Service) *SyncHandler {
	return &SyncHandler{BaseHandler: base, syncer: syncer, inventory: inv}
}

// RegisterRoutes mounts the sync endpoints.
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/sync")
	g.POST("/reconcile", h.Reconcile)
	g.GET("/mappings/:sku", h.Mapping)
	g.PUT("/mappings/:sku", h.SetMapping)
	g.DELETE("/mappings/:sku", h.Invalidate)
	g.POST("/skus/:sku/push", h.Push)
}

func (h *SyncHandler) sku(c *gin.Context) (string, bool) {
	sku := strings.TrimSpace(c.Param("sku"))
	if sku == "" {
		h.Error(c, apperror.NewValidation("sku is required"))
		return "", false
	}
	return sku, true
}

// Reconcile handles POST /sync/reconcile
func (h *SyncHandler) Reconcile(c *gin.Context) {
	report, err := h.syncer.ReconcileAll(c.Request.Context(), h.inventory)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

// Mapping handles GET /sync/mappings/:sku
func (h *SyncHandler) Mapping(c *gin.Context) {
	sku, ok := h.sku(c)
	if !ok {
		return
	}
	m, found, err := h.syncer.ResolveMapping(c.Request.Context(), sku)
	if err != nil {
		h.Error(c, apperror.NewSync(sku, err))
		return
	}
	if !found {
		h.Error(c, apperror.NewNotFound("channel variant", sku))
		return
	}
	c.JSON(http.StatusOK, dto.MappingResponse{SKU: sku, Mapping: m})
}

// SetMapping handles PUT /sync/mappings/:sku
func (h *SyncHandler) SetMapping(c *gin.Context) {
	sku, ok := h.sku(c)
	if !ok {
		return
	}
	var req dto.SetMappingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	m := req.ToMapping()
	if err := h.syncer.SetMapping(c.Request.Context(), sku, m); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.MappingResponse{SKU: sku, Mapping: m})
}

// Invalidate handles DELETE /sync/mappings/:sku
func (h *SyncHandler) Invalidate(c *gin.Context) {
	sku, ok := h.sku(c)
	if !ok {
		return
	}
	if err := h.syncer.Invalidate(c.Request.Context(), sku); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Push handles POST /sync/skus/:sku/push. It pushes synchronously and
// reports the channel error to the caller.
func (h *SyncHandler) Push(c *gin.Context) {
	sku, ok := h.sku(c)
	if !ok {
		return
	}
	var req dto.PushStockRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if req.Stock < 0 {
		h.Error(c, apperror.NewValidation("stock must not be negative"))
		return
	}
	if err := h.syncer.Push(c.Request.Context(), sku, req.Stock); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "stock pushed")
}
