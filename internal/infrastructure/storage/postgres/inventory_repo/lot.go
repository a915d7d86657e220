// Package inventory_repo provides the PostgreSQL lot store.
package inventory_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/id"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/infrastructure/storage/postgres"
)

const (
	batchesTable  = "inv_batches"
	productsTable = "cat_products"
	variantsTable = "cat_product_variants"
)

// canonicalOrder is the allocation order of lots. Locks are always taken in
// this order so two sales touching the same lots cannot deadlock.
var canonicalOrder = []string{"expires_at ASC NULLS LAST", "created_at ASC", "id ASC"}

var _ inventory.Repository = (*LotRepo)(nil)

// LotRepo implements inventory.Repository.
type LotRepo struct {
	txm         *postgres.TxManager
	pipeline    *postgres.BatchInserter
	builder     squirrel.StatementBuilderType
	batchCols   []string
	productCols []string
	variantCols []string
}

// NewLotRepo creates the lot store.
func NewLotRepo(txm *postgres.TxManager) *LotRepo {
	return &LotRepo{
		txm:         txm,
		pipeline:    postgres.NewBatchInserter(txm),
		builder:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		batchCols:   postgres.ExtractDBColumns[inventory.Batch](),
		productCols: postgres.ExtractDBColumns[inventory.Product](),
		variantCols: postgres.ExtractDBColumns[inventory.Variant](),
	}
}

func (r *LotRepo) selectBatches() squirrel.SelectBuilder {
	return r.builder.Select(r.batchCols...).From(batchesTable).OrderBy(canonicalOrder...)
}

func (r *LotRepo) listBatches(ctx context.Context, q squirrel.Sqlizer, op string) ([]inventory.Batch, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}
	batches := make([]inventory.Batch, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return batches, nil
}

func (r *LotRepo) CreateBatch(ctx context.Context, batch *inventory.Batch) error {
	q := r.builder.Insert(batchesTable).SetMap(postgres.StructToMap(batch))
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return apperror.NewDuplicate("batch", "id", batch.ID.String()).WithCause(err)
			case "23503":
				return apperror.NewNotFound("product", batch.ProductID).WithCause(err)
			case "23514":
				return apperror.NewValidation("batch violates a stock constraint").WithCause(err)
			}
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *LotRepo) GetBatchesByIDs(ctx context.Context, ids []id.ID) ([]inventory.Batch, error) {
	if len(ids) == 0 {
		return []inventory.Batch{}, nil
	}
	return r.listBatches(ctx, r.selectBatches().Where(squirrel.Eq{"id": ids}), "get batches")
}

func (r *LotRepo) ListBatches(ctx context.Context, productID id.ID) ([]inventory.Batch, error) {
	return r.listBatches(ctx, r.selectBatches().Where(squirrel.Eq{"product_id": productID}), "list batches")
}

// LockAvailableBatches row-locks the candidate lots. It must run inside a transaction.
func (r *LotRepo) LockAvailableBatches(ctx context.Context, productID id.ID, variantID *id.ID) ([]inventory.Batch, error) {
	return r.listBatches(ctx, availableBatchesQuery(r.selectBatches(), productID, variantID), "lock available batches")
}

func availableBatchesQuery(base squirrel.SelectBuilder, productID id.ID, variantID *id.ID) squirrel.SelectBuilder {
	q := base.
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Gt{"quantity": 0})
	if variantID != nil {
		q = q.Where(squirrel.Eq{"variant_id": *variantID})
	}
	return q.Suffix("FOR UPDATE")
}

// LockBatches row-locks existing batches among ids. It must run inside a transaction.
func (r *LotRepo) LockBatches(ctx context.Context, ids []id.ID) ([]inventory.Batch, error) {
	if len(ids) == 0 {
		return []inventory.Batch{}, nil
	}
	q := r.selectBatches().Where(squirrel.Eq{"id": ids}).Suffix("FOR UPDATE")
	return r.listBatches(ctx, q, "lock batches")
}

const updateQuantitySQL = `UPDATE ` + batchesTable + ` SET quantity = $1 WHERE id = $2`

// UpdateBatchQuantities pipelines one UPDATE per batch. It must run inside a transaction.
func (r *LotRepo) UpdateBatchQuantities(ctx context.Context, updates []inventory.QuantityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	queries := make([]postgres.BatchQuery, 0, len(updates))
	for _, u := range updates {
		if u.Quantity < 0 {
			return apperror.NewValidation("batch quantity must not be negative").WithDetail("batchId", u.BatchID)
		}
		queries = append(queries, postgres.BatchQuery{SQL: updateQuantitySQL, Args: []any{u.Quantity, u.BatchID}})
	}
	affected, err := r.pipeline.ExecuteBatch(ctx, queries)
	if err != nil {
		return fmt.Errorf("update batch quantities: %w", err)
	}
	for i, n := range affected {
		if n == 0 {
			return apperror.NewNotFound("batch", updates[i].BatchID)
		}
	}
	return nil
}

func (r *LotRepo) sum(ctx context.Context, column string, value id.ID) (int64, error) {
	q := r.builder.Select("COALESCE(SUM(quantity), 0)").From(batchesTable).Where(squirrel.Eq{column: value})
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build sum: %w", err)
	}
	var total int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum batches by %s: %w", column, err)
	}
	return total, nil
}

func (r *LotRepo) SumQuantityByProduct(ctx context.Context, productID id.ID) (int64, error) {
	return r.sum(ctx, "product_id", productID)
}

func (r *LotRepo) SumQuantityByVariant(ctx context.Context, variantID id.ID) (int64, error) {
	return r.sum(ctx, "variant_id", variantID)
}

func (r *LotRepo) GetProduct(ctx context.Context, productID id.ID) (inventory.Product, error) {
	var p inventory.Product
	sql, args, err := r.builder.Select(r.productCols...).From(productsTable).
		Where(squirrel.Eq{"id": productID}).Limit(1).ToSql()
	if err != nil {
		return p, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return p, apperror.NewNotFound("product", productID)
		}
		return p, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// LockProducts takes FOR UPDATE locks on the product rows in id order.
func (r *LotRepo) LockProducts(ctx context.Context, productIDs []id.ID) error {
	if len(productIDs) == 0 {
		return nil
	}
	sql, args, err := lockProductsQuery(r.builder, productIDs).ToSql()
	if err != nil {
		return fmt.Errorf("build lock products: %w", err)
	}
	locked := make([]id.ID, 0, len(productIDs))
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &locked, sql, args...); err != nil {
		return fmt.Errorf("lock products: %w", err)
	}
	if len(locked) == len(productIDs) {
		return nil
	}
	seen := make(map[id.ID]struct{}, len(locked))
	for _, pid := range locked {
		seen[pid] = struct{}{}
	}
	for _, pid := range productIDs {
		if _, ok := seen[pid]; !ok {
			return apperror.NewNotFound("product", pid)
		}
	}
	return nil
}

func lockProductsQuery(b squirrel.StatementBuilderType, productIDs []id.ID) squirrel.SelectBuilder {
	return b.Select("id").From(productsTable).
		Where(squirrel.Eq{"id": productIDs}).
		OrderBy("id").
		Suffix("FOR UPDATE")
}

func (r *LotRepo) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	sql, args, err := r.builder.Select(r.productCols...).From(productsTable).OrderBy("name", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	products := make([]inventory.Product, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &products, sql, args...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (r *LotRepo) GetVariant(ctx context.Context, variantID id.ID) (inventory.Variant, error) {
	var v inventory.Variant
	sql, args, err := r.builder.Select(r.variantCols...).From(variantsTable).
		Where(squirrel.Eq{"id": variantID}).Limit(1).ToSql()
	if err != nil {
		return v, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &v, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return v, apperror.NewNotFound("variant", variantID)
		}
		return v, fmt.Errorf("get variant: %w", err)
	}
	return v, nil
}

func (r *LotRepo) ListVariantsWithSKU(ctx context.Context) ([]inventory.Variant, error) {
	sql, args, err := r.builder.Select(r.variantCols...).From(variantsTable).
		Where(squirrel.NotEq{"sku": ""}).OrderBy("sku").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	variants := make([]inventory.Variant, 0)
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &variants, sql, args...); err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	return variants, nil
}

func (r *LotRepo) SetProductStock(ctx context.Context, productID id.ID, stock int64) error {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`UPDATE `+productsTable+` SET stock = $1, updated_at = now() WHERE id = $2`, stock, productID)
	if err != nil {
		return fmt.Errorf("set product stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("product", productID)
	}
	return nil
}
