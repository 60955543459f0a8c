// Package idempotency remembers which order an Idempotent-Key produced so that a replayed
// create request returns the first order instead of placing a second one.
package idempotency

import (
	"context"
	"restaurant-service/internal/apperr"
	"sync"
	"time"
)

const (
	// TTL is how long a key is remembered.
	TTL = 24 * time.Hour

	pending = "pending"
)

// Store claims keys. Reserve returns claimed=true when the caller now owns key, or the order id
// recorded by an earlier request. A key whose first request has not finished yet is a
// retryable error.
type Store interface {
	Reserve(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	// Release forgets a claimed key after the create failed, so the client can retry.
	Release(ctx context.Context, key string) error
}

type entry struct {
	value   string
	expires time.Time
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]entry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: map[string]entry{}, now: time.Now}
}

func (s *MemoryStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.keys[key]; ok && now.Before(e.expires) {
		if e.value == pending {
			return "", false, apperr.Retryable(nil, "request with key %s is still in progress", key)
		}
		return e.value, false, nil
	}
	s.keys[key] = entry{value: pending, expires: now.Add(TTL)}
	return "", true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = entry{value: orderID, expires: s.now().Add(TTL)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
