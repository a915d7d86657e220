package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/types"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/infrastructure/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	pushes map[string]int64
}

func (p *recordingPublisher) PushVariantStock(_ context.Context, sku string, stock int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushes == nil {
		p.pushes = map[string]int64{}
	}
	p.pushes[sku] = stock
}

func (p *recordingPublisher) last(sku string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.pushes[sku]
	return v, ok
}

type fixture struct {
	store   *memory.Store
	svc     *inventory.Service
	pub     *recordingPublisher
	product inventory.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{}
	p := inventory.Product{ID: id.New(), Name: "Whey Protein", MinStock: 5}
	store.PutProduct(p)
	return &fixture{
		store:   store,
		svc:     inventory.NewService(store, store, pub, store),
		pub:     pub,
		product: p,
	}
}

func (f *fixture) addBatch(t *testing.T, qty int64, expires *time.Time, cost string, opts inventory.BatchOptions) inventory.Batch {
	t.Helper()
	c := types.MustMoney(cost)
	b, err := f.svc.AddBatch(context.Background(), f.product.ID, qty, expires, &c, opts)
	require.NoError(t, err)
	return b
}

func (f *fixture) productStock(t *testing.T) int64 {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), f.product.ID)
	require.NoError(t, err)
	return p.Stock
}

func day(n int) *time.Time {
	d := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
	return &d
}

func TestAddBatch_UpdatesProjection(t *testing.T) {
	f := newFixture(t)

	b := f.addBatch(t, 10, day(30), "12.5", inventory.BatchOptions{LotNumber: "L-1", Location: "A3"})

	assert.Equal(t, int64(10), b.Quantity)
	assert.Equal(t, "L-1", b.LotNumber)
	assert.True(t, b.UnitCost.Equal(types.MustMoney("12.5")))
	assert.Equal(t, int64(10), f.productStock(t))

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, inventory.ActionReceipt, events[0].Action)
}

func TestAddBatch_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddBatch(ctx, f.product.ID, 0, nil, nil, inventory.BatchOptions{})
	assert.True(t, apperror.IsValidation(err))

	neg := types.MustMoney("-1")
	_, err = f.svc.AddBatch(ctx, f.product.ID, 3, nil, &neg, inventory.BatchOptions{})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.AddBatch(ctx, id.New(), 3, nil, nil, inventory.BatchOptions{})
	assert.True(t, apperror.IsNotFound(err))

	other := inventory.Variant{ID: id.New(), ProductID: id.New(), SKU: "X"}
	f.store.PutVariant(other)
	_, err = f.svc.AddBatch(ctx, f.product.ID, 3, nil, nil, inventory.BatchOptions{VariantID: &other.ID})
	assert.True(t, apperror.IsValidation(err))

	assert.Equal(t, int64(0), f.productStock(t))
}

func TestAddBatch_UnitCostKeptAsGiven(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fine := types.MustMoney("1.2345")
	b, err := f.svc.AddBatch(ctx, f.product.ID, 1, nil, &fine, inventory.BatchOptions{})
	require.NoError(t, err)
	assert.True(t, b.UnitCost.Equal(fine), b.UnitCost.String())

	padded := types.MustMoney("1.50000")
	_, err = f.svc.AddBatch(ctx, f.product.ID, 1, nil, &padded, inventory.BatchOptions{})
	require.NoError(t, err)

	tooFine := types.MustMoney("1.23456")
	_, err = f.svc.AddBatch(ctx, f.product.ID, 1, nil, &tooFine, inventory.BatchOptions{})
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, int64(2), f.productStock(t))
}

func TestAddBatch_NilCostIsZero(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.AddBatch(context.Background(), f.product.ID, 2, nil, nil, inventory.BatchOptions{})
	require.NoError(t, err)
	assert.True(t, b.UnitCost.IsZero())
}

func TestDeduct_WeightedAverageCost(t *testing.T) {
	f := newFixture(t)
	a := f.addBatch(t, 3, day(1), "10", inventory.BatchOptions{})
	b := f.addBatch(t, 5, day(2), "20", inventory.BatchOptions{})

	d, err := f.svc.DeductFromBatches(context.Background(), f.product.ID, 6, nil)
	require.NoError(t, err)

	require.Len(t, d.Allocations, 2)
	assert.Equal(t, a.ID, d.Allocations[0].BatchID)
	assert.Equal(t, int64(3), d.Allocations[0].Quantity)
	assert.True(t, d.Allocations[0].UnitCost.Equal(types.MustMoney("10")))
	assert.Equal(t, b.ID, d.Allocations[1].BatchID)
	assert.Equal(t, int64(3), d.Allocations[1].Quantity)
	assert.True(t, d.Allocations[1].UnitCost.Equal(types.MustMoney("20")))
	assert.True(t, d.AverageCost.Equal(types.MustMoney("15")), d.AverageCost.String())
	assert.True(t, d.TotalCost.Equal(types.MustMoney("90")), d.TotalCost.String())

	left, _ := f.store.Batch(b.ID)
	assert.Equal(t, int64(2), left.Quantity)
	assert.Equal(t, int64(2), f.productStock(t))
}

func TestDeduct_ExpiryOrderUndatedLast(t *testing.T) {
	f := newFixture(t)
	undated := f.addBatch(t, 5, nil, "1", inventory.BatchOptions{})
	late := f.addBatch(t, 5, day(20), "1", inventory.BatchOptions{})
	early := f.addBatch(t, 5, day(10), "1", inventory.BatchOptions{})

	d, err := f.svc.DeductFromBatches(context.Background(), f.product.ID, 12, nil)
	require.NoError(t, err)

	got := make([]id.ID, 0, len(d.Allocations))
	for _, a := range d.Allocations {
		got = append(got, a.BatchID)
	}
	assert.Equal(t, []id.ID{early.ID, late.ID, undated.ID}, got)
	assert.Equal(t, int64(2), d.Allocations[2].Quantity)
}

func TestDeduct_SameExpiryOldestFirst(t *testing.T) {
	f := newFixture(t)
	first := f.addBatch(t, 4, day(5), "1", inventory.BatchOptions{})
	time.Sleep(2 * time.Millisecond)
	second := f.addBatch(t, 4, day(5), "2", inventory.BatchOptions{})

	d, err := f.svc.DeductFromBatches(context.Background(), f.product.ID, 5, nil)
	require.NoError(t, err)
	require.Len(t, d.Allocations, 2)
	assert.Equal(t, first.ID, d.Allocations[0].BatchID)
	assert.Equal(t, second.ID, d.Allocations[1].BatchID)
}

func TestDeduct_InsufficientLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	b1 := f.addBatch(t, 3, day(1), "10", inventory.BatchOptions{})
	b2 := f.addBatch(t, 2, day(2), "10", inventory.BatchOptions{})
	eventsBefore := len(f.store.Events())

	_, err := f.svc.DeductFromBatches(context.Background(), f.product.ID, 6, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.Contains(t, err.Error(), "Whey Protein")

	got1, _ := f.store.Batch(b1.ID)
	got2, _ := f.store.Batch(b2.ID)
	assert.Equal(t, int64(3), got1.Quantity)
	assert.Equal(t, int64(2), got2.Quantity)
	assert.Equal(t, int64(5), f.productStock(t))
	assert.Len(t, f.store.Events(), eventsBefore)
}

func TestDeduct_ZeroAndNegative(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, 3, nil, "1", inventory.BatchOptions{})

	d, err := f.svc.DeductFromBatches(context.Background(), f.product.ID, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Allocations)
	assert.True(t, d.AverageCost.IsZero())
	assert.Equal(t, int64(3), f.productStock(t))

	_, err = f.svc.DeductFromBatches(context.Background(), f.product.ID, -1, nil)
	assert.True(t, apperror.IsValidation(err))
}

func TestDeduct_VariantScoping(t *testing.T) {
	f := newFixture(t)
	vanilla := inventory.Variant{ID: id.New(), ProductID: f.product.ID, SKU: "WHEY-VAN", Flavor: "vanilla"}
	choco := inventory.Variant{ID: id.New(), ProductID: f.product.ID, SKU: "WHEY-CHO", Flavor: "chocolate"}
	f.store.PutVariant(vanilla)
	f.store.PutVariant(choco)

	f.addBatch(t, 10, day(1), "5", inventory.BatchOptions{VariantID: &choco.ID})
	van := f.addBatch(t, 2, day(9), "7", inventory.BatchOptions{VariantID: &vanilla.ID})

	d, err := f.svc.DeductFromBatches(context.Background(), f.product.ID, 2, &vanilla.ID)
	require.NoError(t, err)
	require.Len(t, d.Allocations, 1)
	assert.Equal(t, van.ID, d.Allocations[0].BatchID)

	_, err = f.svc.DeductFromBatches(context.Background(), f.product.ID, 1, &vanilla.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.Contains(t, err.Error(), "WHEY-VAN")

	stock, err := f.svc.ComputeVariantStock(context.Background(), choco.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stock)
}

func TestDeduct_ConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, 5, nil, "3", inventory.BatchOptions{})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.DeductFromBatches(context.Background(), f.product.ID, 3, nil)
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.IsInsufficientStock(err):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, int64(2), f.productStock(t))
}

func TestDeduct_ConservesStock(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, 7, day(3), "2", inventory.BatchOptions{})
	f.addBatch(t, 4, nil, "3", inventory.BatchOptions{})
	ctx := context.Background()

	before, err := f.svc.GetComputedStock(ctx, f.product.ID)
	require.NoError(t, err)

	d, err := f.svc.DeductFromBatches(ctx, f.product.ID, 9, nil)
	require.NoError(t, err)

	var allocated int64
	for _, a := range d.Allocations {
		allocated += a.Quantity
	}
	after, err := f.svc.GetComputedStock(ctx, f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9), allocated)
	assert.Equal(t, before-allocated, after)
	assert.Equal(t, after, f.productStock(t))
}

func TestReverse_RestoresDeduction(t *testing.T) {
	f := newFixture(t)
	a := f.addBatch(t, 3, day(1), "10", inventory.BatchOptions{})
	b := f.addBatch(t, 5, day(2), "20", inventory.BatchOptions{})
	ctx := context.Background()

	d, err := f.svc.DeductFromBatches(ctx, f.product.ID, 6, nil)
	require.NoError(t, err)

	entries := make([]inventory.ReversalEntry, 0, len(d.Allocations))
	for _, al := range d.Allocations {
		entries = append(entries, inventory.ReversalEntry{BatchID: al.BatchID, Quantity: al.Quantity})
	}
	r, err := f.svc.RestoreAllocations(ctx, entries)
	require.NoError(t, err)

	assert.Len(t, r.Restored, 2)
	assert.Empty(t, r.Skipped)
	assert.Equal(t, []id.ID{f.product.ID}, r.Products)

	gotA, _ := f.store.Batch(a.ID)
	gotB, _ := f.store.Batch(b.ID)
	assert.Equal(t, int64(3), gotA.Quantity)
	assert.Equal(t, int64(5), gotB.Quantity)
	assert.True(t, gotB.UnitCost.Equal(types.MustMoney("20")))
	assert.Equal(t, int64(8), f.productStock(t))
}

func TestReverse_MergesEntriesAndSkipsMissing(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, 1, nil, "1", inventory.BatchOptions{})
	gone := f.addBatch(t, 1, nil, "1", inventory.BatchOptions{})
	f.store.DeleteBatch(gone.ID)

	r, err := f.svc.Reverse(context.Background(), []inventory.ReversalEntry{
		{BatchID: b.ID, Quantity: 2},
		{BatchID: gone.ID, Quantity: 4},
		{BatchID: b.ID, Quantity: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []inventory.ReversalEntry{{BatchID: b.ID, Quantity: 5}}, r.Restored)
	assert.Equal(t, []id.ID{gone.ID}, r.Skipped)
	_, exists := f.store.Batch(gone.ID)
	assert.False(t, exists)

	got, _ := f.store.Batch(b.ID)
	assert.Equal(t, int64(6), got.Quantity)
	assert.Equal(t, int64(6), f.productStock(t))
}

func TestReverse_EmptyAndInvalid(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, 1, nil, "1", inventory.BatchOptions{})

	r, err := f.svc.Reverse(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, r.Restored)

	r, err = f.svc.Reverse(context.Background(), []inventory.ReversalEntry{{BatchID: b.ID, Quantity: 0}})
	require.NoError(t, err)
	assert.Empty(t, r.Restored)

	_, err = f.svc.Reverse(context.Background(), []inventory.ReversalEntry{{BatchID: b.ID, Quantity: -2}})
	assert.True(t, apperror.IsValidation(err))

	got, _ := f.store.Batch(b.ID)
	assert.Equal(t, int64(1), got.Quantity)
}

func TestSync_PublishesVariantStockAfterCommit(t *testing.T) {
	f := newFixture(t)
	v := inventory.Variant{ID: id.New(), ProductID: f.product.ID, SKU: "WHEY-VAN"}
	noSKU := inventory.Variant{ID: id.New(), ProductID: f.product.ID}
	f.store.PutVariant(v)
	f.store.PutVariant(noSKU)
	ctx := context.Background()

	f.addBatch(t, 6, nil, "1", inventory.BatchOptions{VariantID: &v.ID})
	f.addBatch(t, 6, nil, "1", inventory.BatchOptions{VariantID: &noSKU.ID})
	stock, ok := f.pub.last("WHEY-VAN")
	require.True(t, ok)
	assert.Equal(t, int64(6), stock)

	d, err := f.svc.DeductFromBatches(ctx, f.product.ID, 4, &v.ID)
	require.NoError(t, err)
	f.svc.SyncVariantStocksForAllocations(ctx, d.Allocations)

	stock, _ = f.pub.last("WHEY-VAN")
	assert.Equal(t, int64(2), stock)
	assert.Len(t, f.pub.pushes, 1)
}

func TestLowStock_Severity(t *testing.T) {
	store := memory.New()
	svc := inventory.NewService(store, store, nil, nil)
	store.PutProduct(inventory.Product{ID: id.New(), Name: "A", Stock: 0, MinStock: 5})
	store.PutProduct(inventory.Product{ID: id.New(), Name: "B", Stock: 2, MinStock: 5})
	store.PutProduct(inventory.Product{ID: id.New(), Name: "C", Stock: 4, MinStock: 5})
	store.PutProduct(inventory.Product{ID: id.New(), Name: "D", Stock: 9, MinStock: 5})

	levels, err := svc.LowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, inventory.SeverityOutOfStock, levels[0].Severity)
	assert.Equal(t, inventory.SeverityCritical, levels[1].Severity)
	assert.Equal(t, inventory.SeverityLow, levels[2].Severity)
}
