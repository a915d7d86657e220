package memory

import (
	"context"
	"sync"
	"time"

	"stockflow/internal/core/apperror"
	"stockflow/internal/core/idempotency"
)

var _ idempotency.Store = (*IdempotencyStore)(nil)

type idempotencyEntry struct {
	operation   string
	requestHash string
	status      idempotency.Status
	replay      idempotency.Replay
	updatedAt   time.Time
	expiresAt   time.Time
}

// IdempotencyStore keeps idempotency keys in process memory.
type IdempotencyStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]*idempotencyEntry
	now  func() time.Time
}

// NewIdempotencyStore creates a key store whose entries live for ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:  ttl,
		keys: map[string]*idempotencyEntry{},
		now:  time.Now,
	}
}

func (s *IdempotencyStore) AcquireKey(_ context.Context, key, operation, requestHash string) (*idempotency.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.keys[key]
	if !ok || now.After(e.expiresAt) {
		s.keys[key] = &idempotencyEntry{
			operation:   operation,
			requestHash: requestHash,
			status:      idempotency.StatusPending,
			updatedAt:   now,
			expiresAt:   now.Add(s.ttl),
		}
		return nil, nil
	}

	if e.operation != operation || e.requestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key)
	}
	if e.status != idempotency.StatusPending {
		r := e.replay
		return idempotency.NormalizeReplay(&r), nil
	}
	if now.Sub(e.updatedAt) <= idempotency.StaleAfter {
		return nil, apperror.NewIdempotencyConflict(key)
	}
	e.updatedAt = now
	return nil, nil
}

func (s *IdempotencyStore) CompleteKey(_ context.Context, key string, statusCode int, contentType string, body []byte) error {
	s.finish(key, idempotency.StatusSuccess, statusCode, contentType, body)
	return nil
}

func (s *IdempotencyStore) FailKey(_ context.Context, key string, statusCode int, contentType string, body []byte) error {
	s.finish(key, idempotency.StatusFailed, statusCode, contentType, body)
	return nil
}

func (s *IdempotencyStore) finish(key string, status idempotency.Status, statusCode int, contentType string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.keys[key]
	if !ok {
		return
	}
	e.status = status
	e.replay = idempotency.Replay{StatusCode: statusCode, ContentType: contentType, Body: append([]byte(nil), body...)}
	e.updatedAt = s.now()
}
