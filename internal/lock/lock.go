// Package lock serializes work on a single order. Acquisition waits a bounded time and then
// fails with a retryable error so callers never block indefinitely.
package lock

import (
	"context"
	"restaurant-service/internal/apperr"
	"sync"
	"time"
)

// Locker hands out exclusive per-key locks. The returned release func is safe to call once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryLocker is the in-process Locker used when no Redis is configured.
type MemoryLocker struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{wait: wait, slots: map[string]chan struct{}{}}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-timer.C:
		return nil, apperr.Retryable(nil, "lock %s busy after %s", key, l.wait)
	case <-ctx.Done():
		return nil, apperr.Retryable(ctx.Err(), "lock %s", key)
	}
}
