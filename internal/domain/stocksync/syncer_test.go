package stocksync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/domain/stocksync"
	"stockflow/internal/infrastructure/storage/memory"
	"stockflow/pkg/logger"
)

type fakeClient struct {
	mu        sync.Mutex
	catalog   map[string]stocksync.Mapping
	lookups   int
	updates   map[string]int64
	findErr   error
	updateErr error
	block     chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{catalog: map[string]stocksync.Mapping{}, updates: map[string]int64{}}
}

func (c *fakeClient) FindVariantBySKU(_ context.Context, sku string) (stocksync.Mapping, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if c.findErr != nil {
		return stocksync.Mapping{}, false, c.findErr
	}
	m, ok := c.catalog[sku]
	return m, ok, nil
}

func (c *fakeClient) UpdateVariantStock(ctx context.Context, m stocksync.Mapping, stock int64) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updates[m.VariantID] = stock
	return nil
}

func (c *fakeClient) stats() (int, map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.updates))
	for k, v := range c.updates {
		out[k] = v
	}
	return c.lookups, out
}

func newSyncer(t *testing.T, client stocksync.Client, store stocksync.MappingStore, cfg stocksync.Config) *stocksync.Syncer {
	t.Helper()
	s := stocksync.NewSyncer(client, store, cfg, logger.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestPush_ResolvesAndCachesMapping(t *testing.T) {
	client := newFakeClient()
	client.catalog["WHEY-VAN"] = stocksync.Mapping{ProductID: "100", VariantID: "200"}
	store := memory.New()
	s := newSyncer(t, client, store, stocksync.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, "WHEY-VAN", 7))
	require.NoError(t, s.Push(ctx, "WHEY-VAN", 6))

	lookups, updates := client.stats()
	assert.Equal(t, 1, lookups, "second push must hit the mapping cache")
	assert.Equal(t, int64(6), updates["200"])

	m, ok, err := store.GetSKUMapping(ctx, "WHEY-VAN")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", m.ProductID)
}

func TestPush_InvalidateForcesLookup(t *testing.T) {
	client := newFakeClient()
	client.catalog["SKU"] = stocksync.Mapping{ProductID: "1", VariantID: "2"}
	store := memory.New()
	s := newSyncer(t, client, store, stocksync.DefaultConfig())
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, "SKU", 1))
	require.NoError(t, s.Invalidate(ctx, "SKU"))
	require.NoError(t, s.Push(ctx, "SKU", 1))

	lookups, _ := client.stats()
	assert.Equal(t, 2, lookups)
}

func TestPush_IgnoresIncompleteCachedMapping(t *testing.T) {
	client := newFakeClient()
	client.catalog["SKU"] = stocksync.Mapping{ProductID: "1", VariantID: "2"}
	store := memory.New()
	require.NoError(t, store.SetSKUMapping(context.Background(), "SKU", stocksync.Mapping{ProductID: "1"}))
	s := newSyncer(t, client, store, stocksync.DefaultConfig())

	require.NoError(t, s.Push(context.Background(), "SKU", 3))
	lookups, updates := client.stats()
	assert.Equal(t, 1, lookups)
	assert.Equal(t, int64(3), updates["2"])
}

func TestPush_UnresolvedSKU(t *testing.T) {
	client := newFakeClient()
	s := newSyncer(t, client, memory.New(), stocksync.DefaultConfig())

	err := s.Push(context.Background(), "MISSING", 1)
	require.Error(t, err)
	assert.True(t, apperror.IsSync(err))
	assert.ErrorIs(t, err, stocksync.ErrUnresolvedSKU)
}

func TestPush_ChannelErrors(t *testing.T) {
	boom := errors.New("channel down")

	client := newFakeClient()
	client.findErr = boom
	s := newSyncer(t, client, memory.New(), stocksync.DefaultConfig())
	err := s.Push(context.Background(), "SKU", 1)
	assert.True(t, apperror.IsSync(err))
	assert.ErrorIs(t, err, boom)

	client = newFakeClient()
	client.catalog["SKU"] = stocksync.Mapping{ProductID: "1", VariantID: "2"}
	client.updateErr = boom
	s = newSyncer(t, client, memory.New(), stocksync.DefaultConfig())
	err = s.Push(context.Background(), "SKU", 1)
	assert.True(t, apperror.IsSync(err))
	assert.ErrorIs(t, err, boom)
}

func TestPushVariantStock_ReportsAsynchronously(t *testing.T) {
	client := newFakeClient()
	client.catalog["SKU"] = stocksync.Mapping{ProductID: "1", VariantID: "2"}
	results := make(chan stocksync.Result, 4)
	cfg := stocksync.DefaultConfig()
	cfg.OnResult = func(r stocksync.Result) { results <- r }
	s := newSyncer(t, client, memory.New(), cfg)

	s.PushVariantStock(context.Background(), "SKU", 9)
	s.PushVariantStock(context.Background(), "NOPE", 1)

	var got []stocksync.Result
	for len(got) < 2 {
		select {
		case r := <-results:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for push results")
		}
	}
	assert.Equal(t, "SKU", got[0].SKU)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, "2", got[0].Mapping.VariantID)
	assert.Equal(t, "NOPE", got[1].SKU)
	assert.ErrorIs(t, got[1].Err, stocksync.ErrUnresolvedSKU)
}

func TestPushVariantStock_SurvivesCallerCancel(t *testing.T) {
	client := newFakeClient()
	client.catalog["SKU"] = stocksync.Mapping{ProductID: "1", VariantID: "2"}
	results := make(chan stocksync.Result, 1)
	cfg := stocksync.DefaultConfig()
	cfg.OnResult = func(r stocksync.Result) { results <- r }
	s := newSyncer(t, client, memory.New(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.PushVariantStock(ctx, "SKU", 4)
	cancel()

	select {
	case r := <-results:
		assert.NoError(t, r.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push result")
	}
}

func TestPushVariantStock_DropsWhenQueueFull(t *testing.T) {
	client := newFakeClient()
	client.catalog["SKU"] = stocksync.Mapping{ProductID: "1", VariantID: "2"}
	client.block = make(chan struct{})

	var (
		mu      sync.Mutex
		dropped int
	)
	cfg := stocksync.Config{QueueSize: 1, PushTimeout: 5 * time.Second}
	cfg.OnResult = func(r stocksync.Result) {
		if r.Err != nil && apperror.IsSync(r.Err) && r.Mapping == (stocksync.Mapping{}) {
			mu.Lock()
			dropped++
			mu.Unlock()
		}
	}
	s := stocksync.NewSyncer(client, memory.New(), cfg, logger.Nop())

	// First push occupies the worker, second fills the queue, the rest are dropped.
	s.PushVariantStock(context.Background(), "SKU", 1)
	require.Eventually(t, func() bool {
		lookups, _ := client.stats()
		return lookups == 1
	}, time.Second, time.Millisecond)
	s.PushVariantStock(context.Background(), "SKU", 2)
	s.PushVariantStock(context.Background(), "SKU", 3)
	s.PushVariantStock(context.Background(), "SKU", 4)

	mu.Lock()
	assert.Equal(t, 2, dropped)
	mu.Unlock()

	close(client.block)
	s.Close()
	_, updates := client.stats()
	assert.Equal(t, int64(2), updates["2"])
}

func TestReconcileAll(t *testing.T) {
	store := memory.New()
	p := inventory.Product{ID: id.New(), Name: "Creatine"}
	store.PutProduct(p)
	known := inventory.Variant{ID: id.New(), ProductID: p.ID, SKU: "CRE-300"}
	unknown := inventory.Variant{ID: id.New(), ProductID: p.ID, SKU: "CRE-600"}
	store.PutVariant(known)
	store.PutVariant(unknown)
	store.PutVariant(inventory.Variant{ID: id.New(), ProductID: p.ID})

	inv := inventory.NewService(store, store, nil, nil)
	_, err := inv.AddBatch(context.Background(), p.ID, 8, nil, nil, inventory.BatchOptions{VariantID: &known.ID})
	require.NoError(t, err)

	client := newFakeClient()
	client.catalog["CRE-300"] = stocksync.Mapping{ProductID: "10", VariantID: "11"}
	s := newSyncer(t, client, store, stocksync.DefaultConfig())

	report, err := s.ReconcileAll(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, stocksync.ReconcileReport{Variants: 2, Pushed: 1, Failed: 1}, report)

	_, updates := client.stats()
	assert.Equal(t, int64(8), updates["11"])
}

func TestClose_DropsLatePushes(t *testing.T) {
	client := newFakeClient()
	s := stocksync.NewSyncer(client, memory.New(), stocksync.DefaultConfig(), logger.Nop())
	s.Close()
	s.Close()

	assert.NotPanics(t, func() { s.PushVariantStock(context.Background(), "SKU", 1) })
}

func TestSetMapping_ManualMappingSkipsLookup(t *testing.T) {
	client := newFakeClient()
	store := memory.New()
	s := newSyncer(t, client, store, stocksync.DefaultConfig())
	ctx := context.Background()

	assert.True(t, apperror.IsValidation(s.SetMapping(ctx, "SKU", stocksync.Mapping{ProductID: "1"})))
	assert.True(t, apperror.IsValidation(s.SetMapping(ctx, " ", stocksync.Mapping{ProductID: "1", VariantID: "2"})))

	require.NoError(t, s.SetMapping(ctx, "SKU", stocksync.Mapping{ProductID: "1", VariantID: "2"}))
	require.NoError(t, s.Push(ctx, "SKU", 4))

	lookups, updates := client.stats()
	assert.Equal(t, 0, lookups)
	assert.Equal(t, int64(4), updates["2"])

	m, ok, err := s.ResolveMapping(ctx, "SKU")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, stocksync.Mapping{ProductID: "1", VariantID: "2"}, m)
}
