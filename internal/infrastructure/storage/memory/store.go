// Package memory provides an in-process implementation of every store the
// engine consumes: the lot store, the allocation ledger, the SKU mapping
// cache, the audit trail and a transaction manager.
//
// Transactions are serialized by one mutex and rolled back by restoring a
// snapshot, which gives serializable isolation. Used by tests and by the
// server when no DATABASE_URL is configured.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/tx"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/domain/sales"
	"stockflow/internal/domain/stocksync"
)

var (
	_ tx.Manager             = (*Store)(nil)
	_ inventory.Repository   = (*Store)(nil)
	_ inventory.Auditor      = (*Store)(nil)
	_ sales.Repository       = (*Store)(nil)
	_ stocksync.MappingStore = (*Store)(nil)
)

type state struct {
	products    map[id.ID]inventory.Product
	variants    map[id.ID]inventory.Variant
	batches     map[id.ID]inventory.Batch
	allocations []sales.LineAllocation
	mappings    map[string]stocksync.Mapping
	events      []inventory.StockEvent
}

func newState() *state {
	return &state{
		products: map[id.ID]inventory.Product{},
		variants: map[id.ID]inventory.Variant{},
		batches:  map[id.ID]inventory.Batch{},
		mappings: map[string]stocksync.Mapping{},
	}
}

func (s *state) clone() *state {
	return &state{
		products:    maps.Clone(s.products),
		variants:    maps.Clone(s.variants),
		batches:     maps.Clone(s.batches),
		allocations: slices.Clone(s.allocations),
		mappings:    maps.Clone(s.mappings),
		events:      slices.Clone(s.events),
	}
}

// Store is the in-memory store.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

// RunInTransaction runs fn holding the store lock. On error every change made
// through ctx is discarded. Nested calls join the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, struct{}{})); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// ReadOnly runs fn under the store lock.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.RunInTransaction(ctx, fn)
}

func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// --- seeding helpers (catalog management is external to the engine) ---

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p inventory.Product) {
	_ = s.with(context.Background(), func(st *state) error {
		st.products[p.ID] = p
		return nil
	})
}

// PutVariant inserts or replaces a variant.
func (s *Store) PutVariant(v inventory.Variant) {
	_ = s.with(context.Background(), func(st *state) error {
		st.variants[v.ID] = v
		return nil
	})
}

// DeleteBatch removes a batch, as a data-cleanup job would.
func (s *Store) DeleteBatch(batchID id.ID) {
	_ = s.with(context.Background(), func(st *state) error {
		delete(st.batches, batchID)
		return nil
	})
}

// Batch returns a batch by id.
func (s *Store) Batch(batchID id.ID) (inventory.Batch, bool) {
	var (
		b  inventory.Batch
		ok bool
	)
	_ = s.with(context.Background(), func(st *state) error {
		b, ok = st.batches[batchID]
		return nil
	})
	return b, ok
}

// Events returns the recorded audit events.
func (s *Store) Events() []inventory.StockEvent {
	var out []inventory.StockEvent
	_ = s.with(context.Background(), func(st *state) error {
		out = slices.Clone(st.events)
		return nil
	})
	return out
}

// --- inventory.Repository ---

func (s *Store) CreateBatch(ctx context.Context, batch *inventory.Batch) error {
	return s.with(ctx, func(st *state) error {
		if _, exists := st.batches[batch.ID]; exists {
			return apperror.NewDuplicate("batch", "id", batch.ID.String())
		}
		st.batches[batch.ID] = *batch
		return nil
	})
}

func (s *Store) GetBatchesByIDs(ctx context.Context, ids []id.ID) ([]inventory.Batch, error) {
	var out []inventory.Batch
	err := s.with(ctx, func(st *state) error {
		out = collect(st, ids)
		return nil
	})
	return out, err
}

func (s *Store) ListBatches(ctx context.Context, productID id.ID) ([]inventory.Batch, error) {
	return s.filterBatches(ctx, func(b inventory.Batch) bool { return b.ProductID == productID })
}

func (s *Store) LockAvailableBatches(ctx context.Context, productID id.ID, variantID *id.ID) ([]inventory.Batch, error) {
	return s.filterBatches(ctx, func(b inventory.Batch) bool {
		if b.ProductID != productID || b.Quantity <= 0 {
			return false
		}
		if variantID != nil {
			return b.VariantID != nil && *b.VariantID == *variantID
		}
		return true
	})
}

func (s *Store) LockBatches(ctx context.Context, ids []id.ID) ([]inventory.Batch, error) {
	return s.GetBatchesByIDs(ctx, ids)
}

func (s *Store) UpdateBatchQuantities(ctx context.Context, updates []inventory.QuantityUpdate) error {
	return s.with(ctx, func(st *state) error {
		for _, u := range updates {
			b, ok := st.batches[u.BatchID]
			if !ok {
				return apperror.NewNotFound("batch", u.BatchID)
			}
			if u.Quantity < 0 {
				return apperror.NewValidation("batch quantity must not be negative")
			}
			b.Quantity = u.Quantity
			st.batches[u.BatchID] = b
		}
		return nil
	})
}

func (s *Store) SumQuantityByProduct(ctx context.Context, productID id.ID) (int64, error) {
	return s.sum(ctx, func(b inventory.Batch) bool { return b.ProductID == productID })
}

func (s *Store) SumQuantityByVariant(ctx context.Context, variantID id.ID) (int64, error) {
	return s.sum(ctx, func(b inventory.Batch) bool { return b.VariantID != nil && *b.VariantID == variantID })
}

func (s *Store) GetProduct(ctx context.Context, productID id.ID) (inventory.Product, error) {
	var p inventory.Product
	err := s.with(ctx, func(st *state) error {
		var ok bool
		if p, ok = st.products[productID]; !ok {
			return apperror.NewNotFound("product", productID)
		}
		return nil
	})
	return p, err
}

// LockProducts only checks existence: the store lock already serializes transactions.
func (s *Store) LockProducts(ctx context.Context, productIDs []id.ID) error {
	return s.with(ctx, func(st *state) error {
		for _, pid := range productIDs {
			if _, ok := st.products[pid]; !ok {
				return apperror.NewNotFound("product", pid)
			}
		}
		return nil
	})
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	var out []inventory.Product
	err := s.with(ctx, func(st *state) error {
		out = nil
		for _, p := range st.products {
			out = append(out, p)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b inventory.Product) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, err
}

func (s *Store) GetVariant(ctx context.Context, variantID id.ID) (inventory.Variant, error) {
	var v inventory.Variant
	err := s.with(ctx, func(st *state) error {
		var ok bool
		if v, ok = st.variants[variantID]; !ok {
			return apperror.NewNotFound("variant", variantID)
		}
		return nil
	})
	return v, err
}

func (s *Store) ListVariantsWithSKU(ctx context.Context) ([]inventory.Variant, error) {
	var out []inventory.Variant
	err := s.with(ctx, func(st *state) error {
		for _, v := range st.variants {
			if v.SKU != "" {
				out = append(out, v)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b inventory.Variant) int {
		return cmp.Compare(a.SKU, b.SKU)
	})
	return out, err
}

func (s *Store) SetProductStock(ctx context.Context, productID id.ID, stock int64) error {
	return s.with(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return apperror.NewNotFound("product", productID)
		}
		p.Stock = stock
		p.UpdatedAt = time.Now().UTC()
		st.products[productID] = p
		return nil
	})
}

// --- inventory.Auditor ---

func (s *Store) RecordStockEvents(ctx context.Context, events []inventory.StockEvent) error {
	return s.with(ctx, func(st *state) error {
		st.events = append(st.events, events...)
		return nil
	})
}

// --- sales.Repository ---

func (s *Store) CreateAllocations(ctx context.Context, rows []sales.LineAllocation) error {
	return s.with(ctx, func(st *state) error {
		st.allocations = append(st.allocations, rows...)
		return nil
	})
}

func (s *Store) ListActiveAllocations(ctx context.Context, documentID id.ID) ([]sales.LineAllocation, error) {
	var out []sales.LineAllocation
	err := s.with(ctx, func(st *state) error {
		for _, a := range st.allocations {
			if a.DocumentID == documentID && a.ReversedAt == nil {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) MarkReversed(ctx context.Context, ids []id.ID, at time.Time) error {
	want := make(map[id.ID]struct{}, len(ids))
	for _, v := range ids {
		want[v] = struct{}{}
	}
	return s.with(ctx, func(st *state) error {
		for i := range st.allocations {
			if _, ok := want[st.allocations[i].ID]; ok && st.allocations[i].ReversedAt == nil {
				ts := at
				st.allocations[i].ReversedAt = &ts
			}
		}
		return nil
	})
}

// --- stocksync.MappingStore ---

func (s *Store) GetSKUMapping(ctx context.Context, sku string) (stocksync.Mapping, bool, error) {
	var (
		m  stocksync.Mapping
		ok bool
	)
	err := s.with(ctx, func(st *state) error {
		m, ok = st.mappings[sku]
		return nil
	})
	return m, ok, err
}

func (s *Store) SetSKUMapping(ctx context.Context, sku string, m stocksync.Mapping) error {
	return s.with(ctx, func(st *state) error {
		st.mappings[sku] = m
		return nil
	})
}

func (s *Store) DeleteSKUMapping(ctx context.Context, sku string) error {
	return s.with(ctx, func(st *state) error {
		delete(st.mappings, sku)
		return nil
	})
}

// --- helpers ---

func (s *Store) filterBatches(ctx context.Context, keep func(inventory.Batch) bool) ([]inventory.Batch, error) {
	var out []inventory.Batch
	err := s.with(ctx, func(st *state) error {
		for _, b := range st.batches {
			if keep(b) {
				out = append(out, b)
			}
		}
		return nil
	})
	sortCanonical(out)
	return out, err
}

func (s *Store) sum(ctx context.Context, keep func(inventory.Batch) bool) (int64, error) {
	var total int64
	err := s.with(ctx, func(st *state) error {
		for _, b := range st.batches {
			if keep(b) {
				total += b.Quantity
			}
		}
		return nil
	})
	return total, err
}

func collect(st *state, ids []id.ID) []inventory.Batch {
	out := make([]inventory.Batch, 0, len(ids))
	for _, bid := range id.Unique(ids) {
		if b, ok := st.batches[bid]; ok {
			out = append(out, b)
		}
	}
	sortCanonical(out)
	return out
}

func sortCanonical(batches []inventory.Batch) {
	slices.SortStableFunc(batches, func(a, b inventory.Batch) int {
		switch {
		case inventory.BatchLess(a, b):
			return -1
		case inventory.BatchLess(b, a):
			return 1
		}
		return 0
	})
}
