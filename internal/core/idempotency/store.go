// Package idempotency defines the replay store behind the Idempotency-Key
// protection of mutating endpoints (stock receipts, sales, cancellations).
package idempotency

import (
	"context"
	"time"
)

// Status is the state of a key.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StaleAfter is how long a pending key may sit before another request may reclaim it.
const StaleAfter = time.Minute

// Replay is a stored HTTP response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store persists idempotency keys.
type Store interface {
	// AcquireKey claims key for operation. It returns (nil, nil) when the
	// caller should run the request, a Replay when it already ran, or an
	// IDEMPOTENCY_CONFLICT error when the key is in flight or was used for a
	// different request.
	AcquireKey(ctx context.Context, key, operation, requestHash string) (*Replay, error)

	// CompleteKey stores a successful response for replay.
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error

	// FailKey stores an error response for replay.
	FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
}

// NormalizeReplay fills defaults for records written without status or content type.
func NormalizeReplay(r *Replay) *Replay {
	if r.StatusCode == 0 {
		r.StatusCode = 200
	}
	if r.ContentType == "" && len(r.Body) > 0 {
		r.ContentType = "application/json"
	}
	return r
}
