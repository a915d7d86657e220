// Package postgres provides PostgreSQL infrastructure components.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"stockflow/internal/core/id"
	"stockflow/internal/domain/inventory"
)

// CompressionAlgo specifies how an audit payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const auditEntityBatch = "batch"

// AuditEntry is one row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id" json:"id"`
	EntityType        string          `db:"entity_type" json:"entityType"`
	EntityID          id.ID           `db:"entity_id" json:"entityId"`
	Action            string          `db:"action" json:"action"`
	RequestID         string          `db:"request_id" json:"requestId,omitempty"`
	Changes           json.RawMessage `db:"changes" json:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// AuditService writes batch mutations to sys_audit inside the caller's
// transaction, so an allocation and its trail commit or roll back together.
// It implements inventory.Auditor.
type AuditService struct {
	txManager         *TxManager
	inserter          *BatchInserter
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
	requestID         func(ctx context.Context) string
}

var _ inventory.Auditor = (*AuditService)(nil)

// NewAuditService creates the audit service. Payloads above 10KB are zstd-compressed.
func NewAuditService(txManager *TxManager, requestID func(ctx context.Context) string) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if requestID == nil {
		requestID = func(context.Context) string { return "" }
	}
	return &AuditService{
		txManager:         txManager,
		inserter:          NewBatchInserter(txManager),
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
		requestID:         requestID,
	}, nil
}

var auditColumns = []string{
	"id", "entity_type", "entity_id", "action", "request_id",
	"changes", "changes_compressed", "compression_algo", "created_at",
}

// RecordStockEvents stores one audit row per event.
func (s *AuditService) RecordStockEvents(ctx context.Context, events []inventory.StockEvent) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	reqID := s.requestID(ctx)

	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal stock event: %w", err)
		}
		e := s.pack(AuditEntry{
			ID:         id.New(),
			EntityType: auditEntityBatch,
			EntityID:   ev.BatchID,
			Action:     string(ev.Action),
			RequestID:  reqID,
			Changes:    payload,
			CreatedAt:  now,
		})
		rows = append(rows, []any{
			e.ID, e.EntityType, e.EntityID, e.Action, e.RequestID,
			nullableJSON(e.Changes), e.ChangesCompressed, e.CompressionAlgo, e.CreatedAt,
		})
	}

	if _, err := s.inserter.CopyFromSlice(ctx, "sys_audit", auditColumns, rows); err != nil {
		return fmt.Errorf("write audit trail: %w", err)
	}
	return nil
}

func (s *AuditService) pack(e AuditEntry) AuditEntry {
	e.CompressionAlgo = CompressionNone
	if len(e.Changes) > s.compressThreshold {
		e.ChangesCompressed = s.encoder.EncodeAll(e.Changes, nil)
		e.Changes = nil
		e.CompressionAlgo = CompressionZstd
	}
	return e
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// BatchHistory returns the newest audit entries of a batch first.
func (s *AuditService) BatchHistory(ctx context.Context, batchID id.ID, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, entity_type, entity_id, action, request_id,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, q, auditEntityBatch, batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("query batch history: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var (
			e       AuditEntry
			changes []byte
		)
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.RequestID,
			&changes, &e.ChangesCompressed, &e.CompressionAlgo, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Changes = changes

		if e.CompressionAlgo == CompressionZstd && len(e.ChangesCompressed) > 0 {
			raw, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress audit entry %s: %w", e.ID, err)
			}
			e.Changes = raw
			e.ChangesCompressed = nil
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
