// Package config_repo stores engine settings in sys_configuration.
package config_repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockflow/internal/domain/stocksync"
	"stockflow/internal/infrastructure/storage/postgres"
)

const skuMappingPrefix = "tn_sku_map_"

// SKUMappingKey is the configuration key holding the channel identity of sku.
func SKUMappingKey(sku string) string {
	return skuMappingPrefix + sku
}

var _ stocksync.MappingStore = (*SKUMappingRepo)(nil)

// SKUMappingRepo keeps SKU → channel variant mappings as JSON configuration values.
type SKUMappingRepo struct {
	txm *postgres.TxManager
}

// NewSKUMappingRepo creates the mapping store.
func NewSKUMappingRepo(txm *postgres.TxManager) *SKUMappingRepo {
	return &SKUMappingRepo{txm: txm}
}

func (r *SKUMappingRepo) GetSKUMapping(ctx context.Context, sku string) (stocksync.Mapping, bool, error) {
	var raw []byte
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT value FROM sys_configuration WHERE key = $1`, SKUMappingKey(sku)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return stocksync.Mapping{}, false, nil
	}
	if err != nil {
		return stocksync.Mapping{}, false, fmt.Errorf("read sku mapping: %w", err)
	}

	var m stocksync.Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return stocksync.Mapping{}, false, fmt.Errorf("decode sku mapping %q: %w", sku, err)
	}
	return m, true, nil
}

func (r *SKUMappingRepo) SetSKUMapping(ctx context.Context, sku string, m stocksync.Mapping) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode sku mapping: %w", err)
	}
	_, err = r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_configuration (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, SKUMappingKey(sku), string(raw))
	if err != nil {
		return fmt.Errorf("write sku mapping: %w", err)
	}
	return nil
}

func (r *SKUMappingRepo) DeleteSKUMapping(ctx context.Context, sku string) error {
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_configuration WHERE key = $1`, SKUMappingKey(sku)); err != nil {
		return fmt.Errorf("delete sku mapping: %w", err)
	}
	return nil
}
