// Package sales_repo provides the PostgreSQL allocation ledger.
package sales_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockflow/internal/core/id"
	"stockflow/internal/domain/sales"
	"stockflow/internal/infrastructure/storage/postgres"
)

const allocationsTable = "doc_line_allocations"

var _ sales.Repository = (*AllocationRepo)(nil)

// AllocationRepo implements sales.Repository.
type AllocationRepo struct {
	txm      *postgres.TxManager
	inserter *postgres.BatchInserter
	builder  squirrel.StatementBuilderType
	cols     []string
}

// NewAllocationRepo creates the allocation ledger store.
func NewAllocationRepo(txm *postgres.TxManager) *AllocationRepo {
	return &AllocationRepo{
		txm:      txm,
		inserter: postgres.NewBatchInserter(txm),
		builder:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		cols:     postgres.ExtractDBColumns[sales.LineAllocation](),
	}
}

// CreateAllocations copies rows in bulk. It must run inside a transaction.
func (r *AllocationRepo) CreateAllocations(ctx context.Context, rows []sales.LineAllocation) error {
	values := make([][]any, 0, len(rows))
	for i := range rows {
		m := postgres.StructToMap(&rows[i])
		row := make([]any, len(r.cols))
		for j, col := range r.cols {
			row[j] = m[col]
		}
		values = append(values, row)
	}
	if _, err := r.inserter.CopyFromSlice(ctx, allocationsTable, r.cols, values); err != nil {
		return fmt.Errorf("insert allocations: %w", err)
	}
	return nil
}

func (r *AllocationRepo) activeQuery(documentID id.ID) squirrel.SelectBuilder {
	return r.builder.Select(r.cols...).
		From(allocationsTable).
		Where(squirrel.Eq{"document_id": documentID}).
		Where(squirrel.Eq{"reversed_at": nil}).
		OrderBy("created_at", "id")
}

func (r *AllocationRepo) ListActiveAllocations(ctx context.Context, documentID id.ID) ([]sales.LineAllocation, error) {
	sql, args, err := r.activeQuery(documentID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows := make([]sales.LineAllocation, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return rows, nil
}

func (r *AllocationRepo) MarkReversed(ctx context.Context, ids []id.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	sql, args, err := r.builder.Update(allocationsTable).
		Set("reversed_at", at).
		Where(squirrel.Eq{"id": ids}).
		Where(squirrel.Eq{"reversed_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("mark allocations reversed: %w", err)
	}
	return nil
}
