package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	appctx "stockflow/internal/core/context"
	"stockflow/internal/core/idempotency"
	"stockflow/internal/core/tx"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/domain/sales"
	"stockflow/internal/domain/stocksync"
	"stockflow/internal/infrastructure/cache"
	"stockflow/internal/infrastructure/channel/tiendanube"
	"stockflow/internal/infrastructure/http/v1/handlers"
	"stockflow/internal/infrastructure/storage/memory"
	"stockflow/internal/infrastructure/storage/postgres"
	"stockflow/internal/infrastructure/storage/postgres/config_repo"
	"stockflow/internal/infrastructure/storage/postgres/inventory_repo"
	"stockflow/internal/infrastructure/storage/postgres/sales_repo"
	"stockflow/pkg/logger"
	"stockflow/pkg/ratelimit"
)

// App holds the wired components. Optional parts are nil when not configured.
type App struct {
	Config Config

	Inventory   *inventory.Service
	Ledger      *sales.Ledger
	Syncer      *stocksync.Syncer
	Idempotency idempotency.Store

	Pool     *postgres.Pool
	Redis    *redis.Client
	Audit    *postgres.AuditService
	IdemRepo *postgres.IdempotencyStore

	closers []func()
}

type stores struct {
	lots     inventory.Repository
	txm      tx.Manager
	auditor  inventory.Auditor
	ledger   sales.Repository
	catalog  sales.Catalog
	mappings stocksync.MappingStore
}

// New connects to the configured backends and wires the engine.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg}

	s, err := a.openStores(ctx, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisAddress != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.mappings = cache.NewSKUMappingCache(a.Redis, s.mappings, cfg.SKUCacheTTL, log)
		log.Infow("redis connected", "address", cfg.RedisAddress)
	}

	var publisher inventory.StockPublisher
	if cfg.ChannelEnabled() {
		gate := ratelimit.NewGate(cfg.ChannelRPS, cfg.SyncQueueSize)
		client, err := tiendanube.NewClient(cfg.Tiendanube, gate)
		if err != nil {
			gate.Close()
			a.Close()
			return nil, fmt.Errorf("create channel client: %w", err)
		}
		syncCfg := stocksync.DefaultConfig()
		syncCfg.QueueSize = cfg.SyncQueueSize
		a.Syncer = stocksync.NewSyncer(client, s.mappings, syncCfg, log)
		// the syncer drains through the gate, so it closes first
		a.closers = append(a.closers, gate.Close, a.Syncer.Close)
		publisher = a.Syncer
		log.Infow("sales channel sync enabled",
			"store_id", cfg.Tiendanube.StoreID,
			"rps", cfg.ChannelRPS,
			"queue_size", cfg.SyncQueueSize,
		)
	} else {
		log.Warn("sales channel credentials not set, stock sync disabled")
	}

	a.Inventory = inventory.NewService(s.lots, s.txm, publisher, s.auditor)
	a.Ledger = sales.NewLedger(s.ledger, a.Inventory, s.catalog, s.txm)
	return a, nil
}

func (a *App) openStores(ctx context.Context, log *logger.Logger) (stores, error) {
	if a.Config.InMemory() {
		log.Warn("DATABASE_URL not set, using in-memory store")
		mem := memory.New()
		a.Idempotency = memory.NewIdempotencyStore(a.Config.IdempotencyTTL)
		return stores{lots: mem, txm: mem, auditor: mem, ledger: mem, catalog: mem, mappings: mem}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(a.Config.DatabaseURL))
	if err != nil {
		return stores{}, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	if a.Config.AutoMigrate {
		if err := postgres.ApplySchema(ctx, pool); err != nil {
			return stores{}, err
		}
		log.Info("database schema applied")
	}

	txm := postgres.NewTxManager(pool)
	a.Audit, err = postgres.NewAuditService(txm, appctx.GetRequestID)
	if err != nil {
		return stores{}, err
	}
	a.IdemRepo = postgres.NewIdempotencyStore(txm, a.Config.IdempotencyTTL)
	a.Idempotency = a.IdemRepo

	lots := inventory_repo.NewLotRepo(txm)
	return stores{
		lots:     lots,
		txm:      txm,
		auditor:  a.Audit,
		ledger:   sales_repo.NewAllocationRepo(txm),
		catalog:  lots,
		mappings: config_repo.NewSKUMappingRepo(txm),
	}, nil
}

// HealthChecks returns the readiness checks of the configured backends.
func (a *App) HealthChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if a.Pool != nil {
		checks["database"] = func(ctx context.Context) error { return a.Pool.Ping(ctx) }
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

// History returns the audit trail reader, or nil without one.
func (a *App) History() handlers.BatchHistory {
	if a.Audit == nil {
		return nil
	}
	return a.Audit
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
