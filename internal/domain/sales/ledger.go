package sales

import (
	"context"
	"fmt"
	"time"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/core/tx"
	"stockflow/internal/core/types"
	"stockflow/internal/domain/inventory"
	"stockflow/pkg/logger"
)

// Inventory is the part of the inventory engine the ledger drives.
type Inventory interface {
	LockProducts(ctx context.Context, productIDs []id.ID) error
	DeductFromBatches(ctx context.Context, productID id.ID, quantity int64, variantID *id.ID) (inventory.Deduction, error)
	Reverse(ctx context.Context, entries []inventory.ReversalEntry) (inventory.Reversal, error)
	SyncVariantStocksForAllocations(ctx context.Context, allocations []inventory.Allocation)
	SyncVariants(ctx context.Context, variantIDs []id.ID)
}

// Catalog resolves batch, product and variant details for picking lists.
type Catalog interface {
	GetBatchesByIDs(ctx context.Context, ids []id.ID) ([]inventory.Batch, error)
	GetProduct(ctx context.Context, productID id.ID) (inventory.Product, error)
	GetVariant(ctx context.Context, variantID id.ID) (inventory.Variant, error)
}

// Ledger records sales against lots and cancels them.
type Ledger struct {
	repo    Repository
	inv     Inventory
	catalog Catalog
	txm     tx.Manager
	now     func() time.Time
}

// NewLedger creates the allocation ledger.
func NewLedger(repo Repository, inv Inventory, catalog Catalog, txm tx.Manager) *Ledger {
	return &Ledger{
		repo:    repo,
		inv:     inv,
		catalog: catalog,
		txm:     txm,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordSale allocates every line of a document from lots and persists the
// allocation rows, all in one transaction: if any line cannot be stocked,
// nothing is committed. Channel stock is pushed after commit.
func (l *Ledger) RecordSale(ctx context.Context, documentID id.ID, lines []LineItem) ([]LineResult, error) {
	if id.IsNil(documentID) {
		return nil, apperror.NewValidation("document id is required")
	}
	if len(lines) == 0 {
		return nil, apperror.NewValidation("a sale must contain at least one line")
	}
	for i, line := range lines {
		if id.IsNil(line.ID) || id.IsNil(line.ProductID) {
			return nil, apperror.NewValidation(fmt.Sprintf("line %d: id and productId are required", i))
		}
	}

	var (
		results []LineResult
		touched []inventory.Allocation
	)
	err := l.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := l.repo.ListActiveAllocations(ctx, documentID)
		if err != nil {
			return fmt.Errorf("check existing allocations: %w", err)
		}
		if len(existing) > 0 {
			return apperror.NewConflict("sale already recorded for document").
				WithDetail("documentId", documentID)
		}

		// every product of the document is locked up front, in id order
		productIDs := make([]id.ID, 0, len(lines))
		for _, line := range lines {
			productIDs = append(productIDs, line.ProductID)
		}
		if err := l.inv.LockProducts(ctx, productIDs); err != nil {
			return err
		}

		results = make([]LineResult, 0, len(lines))
		var rows []LineAllocation
		now := l.now()
		for _, line := range lines {
			d, err := l.inv.DeductFromBatches(ctx, line.ProductID, line.Quantity, line.VariantID)
			if err != nil {
				return err
			}
			res := LineResult{
				LineItemID:  line.ID,
				Quantity:    line.Quantity,
				AverageCost: d.AverageCost,
				TotalCost:   d.TotalCost,
				Allocations: make([]LineAllocation, 0, len(d.Allocations)),
			}
			for _, a := range d.Allocations {
				row := LineAllocation{
					ID:         id.New(),
					DocumentID: documentID,
					LineItemID: line.ID,
					BatchID:    a.BatchID,
					Quantity:   a.Quantity,
					UnitCost:   a.UnitCost,
					CreatedAt:  now,
				}
				rows = append(rows, row)
				res.Allocations = append(res.Allocations, row)
			}
			touched = append(touched, d.Allocations...)
			results = append(results, res)
		}

		if len(rows) == 0 {
			return nil
		}
		if err := l.repo.CreateAllocations(ctx, rows); err != nil {
			return fmt.Errorf("persist allocations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "sale recorded",
		"document_id", documentID,
		"lines", len(lines),
		"allocations", len(touched),
	)
	l.inv.SyncVariantStocksForAllocations(ctx, touched)
	return results, nil
}

// Cancel restores the stock of every active allocation of the document and
// marks those rows reversed. Cancelling an already cancelled document is a no-op.
func (l *Ledger) Cancel(ctx context.Context, documentID id.ID) (inventory.Reversal, error) {
	var reversal inventory.Reversal
	err := l.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		rows, err := l.repo.ListActiveAllocations(ctx, documentID)
		if err != nil {
			return fmt.Errorf("load allocations: %w", err)
		}
		if len(rows) == 0 {
			reversal = inventory.Reversal{Restored: []inventory.ReversalEntry{}, Products: []id.ID{}}
			return nil
		}

		entries := make([]inventory.ReversalEntry, 0, len(rows))
		ids := make([]id.ID, 0, len(rows))
		for _, r := range rows {
			entries = append(entries, inventory.ReversalEntry{BatchID: r.BatchID, Quantity: r.Quantity})
			ids = append(ids, r.ID)
		}

		reversal, err = l.inv.Reverse(ctx, entries)
		if err != nil {
			return err
		}
		if err := l.repo.MarkReversed(ctx, ids, l.now()); err != nil {
			return fmt.Errorf("mark allocations reversed: %w", err)
		}
		return nil
	})
	if err != nil {
		return inventory.Reversal{}, err
	}

	logger.Info(ctx, "sale cancelled",
		"document_id", documentID,
		"restored", len(reversal.Restored),
		"skipped", len(reversal.Skipped),
	)
	l.inv.SyncVariants(ctx, reversal.Variants)
	return reversal, nil
}

// Allocations returns the active allocation rows of a document.
func (l *Ledger) Allocations(ctx context.Context, documentID id.ID) ([]LineAllocation, error) {
	return l.repo.ListActiveAllocations(ctx, documentID)
}

// CostOfGoodsSold sums quantity × unit cost over the document's active allocations.
func (l *Ledger) CostOfGoodsSold(ctx context.Context, documentID id.ID) (types.Money, error) {
	rows, err := l.repo.ListActiveAllocations(ctx, documentID)
	if err != nil {
		return types.Zero(), err
	}
	total := types.Zero()
	for _, r := range rows {
		total = total.Add(types.LineCost(r.Quantity, r.UnitCost))
	}
	return total, nil
}

// PickingList lists, per active allocation, where the goods are and how many to take.
func (l *Ledger) PickingList(ctx context.Context, documentID id.ID) ([]PickingLine, error) {
	rows, err := l.repo.ListActiveAllocations(ctx, documentID)
	if err != nil {
		return nil, err
	}
	batchIDs := make([]id.ID, 0, len(rows))
	for _, r := range rows {
		batchIDs = append(batchIDs, r.BatchID)
	}
	batches, err := l.catalog.GetBatchesByIDs(ctx, id.Unique(batchIDs))
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	byID := make(map[id.ID]inventory.Batch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}

	products := map[id.ID]inventory.Product{}
	variants := map[id.ID]inventory.Variant{}
	lines := make([]PickingLine, 0, len(rows))
	for _, r := range rows {
		line := PickingLine{LineItemID: r.LineItemID, BatchID: r.BatchID, Quantity: r.Quantity}
		b, ok := byID[r.BatchID]
		if ok {
			line.LotNumber = b.LotNumber
			line.Location = b.Location
			p, err := l.product(ctx, products, b.ProductID)
			if err != nil {
				return nil, err
			}
			line.ProductName = p.Name
			if b.VariantID != nil {
				v, err := l.variant(ctx, variants, *b.VariantID)
				if err != nil {
					return nil, err
				}
				line.Flavor = v.Flavor
				line.Size = v.Size
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (l *Ledger) product(ctx context.Context, cache map[id.ID]inventory.Product, pid id.ID) (inventory.Product, error) {
	if p, ok := cache[pid]; ok {
		return p, nil
	}
	p, err := l.catalog.GetProduct(ctx, pid)
	if err != nil && !apperror.IsNotFound(err) {
		return inventory.Product{}, err
	}
	cache[pid] = p
	return p, nil
}

func (l *Ledger) variant(ctx context.Context, cache map[id.ID]inventory.Variant, vid id.ID) (inventory.Variant, error) {
	if v, ok := cache[vid]; ok {
		return v, nil
	}
	v, err := l.catalog.GetVariant(ctx, vid)
	if err != nil && !apperror.IsNotFound(err) {
		return inventory.Variant{}, err
	}
	cache[vid] = v
	return v, nil
}
