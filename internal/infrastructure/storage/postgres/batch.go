package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoTransaction is returned by bulk operations called outside a transaction.
var ErrNoTransaction = errors.New("bulk operation requires a transaction in context")

// BatchInserter writes many rows with the COPY protocol and pipelines
// statement batches.
type BatchInserter struct {
	txManager *TxManager
}

// NewBatchInserter creates a bulk inserter.
func NewBatchInserter(txManager *TxManager) *BatchInserter {
	return &BatchInserter{txManager: txManager}
}

// CopyFromSlice copies rows into table. Each row matches columns positionally.
func (b *BatchInserter) CopyFromSlice(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx := b.txManager.GetTx(ctx)
	if tx == nil {
		return 0, ErrNoTransaction
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// BatchQuery is one statement of a pipelined batch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// ExecuteBatch sends queries in one round-trip inside the current transaction
// and returns the rows affected by each. It fails on the first statement that errors.
func (b *BatchInserter) ExecuteBatch(ctx context.Context, queries []BatchQuery) ([]int64, error) {
	tx := b.txManager.GetTx(ctx)
	if tx == nil {
		return nil, ErrNoTransaction
	}
	if len(queries) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q.SQL, q.Args...)
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	affected := make([]int64, len(queries))
	for i := range queries {
		tag, err := results.Exec()
		if err != nil {
			return nil, fmt.Errorf("batch statement %d: %w", i, err)
		}
		affected[i] = tag.RowsAffected()
	}
	return affected, nil
}
