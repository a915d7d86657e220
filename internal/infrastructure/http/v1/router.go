// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"stockflow/internal/core/idempotency"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/domain/sales"
	"stockflow/internal/domain/stocksync"
	"stockflow/internal/infrastructure/http/v1/handlers"
	"stockflow/internal/infrastructure/http/v1/middleware"
	"stockflow/internal/infrastructure/storage/postgres"
	"stockflow/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	Inventory *inventory.Service
	Ledger    *sales.Ledger

	// Syncer is nil when no sales channel is configured; the sync routes are then omitted.
	Syncer *stocksync.Syncer

	// History is nil when no audit trail is kept.
	History handlers.BatchHistory

	// Idempotency guards mutating routes; nil disables the protection.
	Idempotency idempotency.Store

	// Pool is nil in in-memory mode.
	Pool         *postgres.Pool
	HealthChecks map[string]handlers.Check
	Version      string

	// CORSOrigins lists allowed origins; empty allows any origin.
	CORSOrigins []string

	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.HealthChecks, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	v1 := router.Group("/api/v1")
	if cfg.Idempotency != nil {
		v1.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	handlers.NewInventoryHandler(base, cfg.Inventory, cfg.History).RegisterRoutes(v1)
	handlers.NewSalesHandler(base, cfg.Ledger).RegisterRoutes(v1)
	if cfg.Syncer != nil {
		handlers.NewSyncHandler(base, cfg.Syncer, cfg.Inventory).RegisterRoutes(v1)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AddAllowHeaders(
		middleware.HeaderIdempotencyKey,
		middleware.HeaderIdempotencyKeyLegacy,
		middleware.HeaderRequestID,
		middleware.HeaderTraceID,
	)
	c.AddExposeHeaders(middleware.HeaderRequestID, middleware.HeaderTraceID, "Content-Disposition")
	return c
}
