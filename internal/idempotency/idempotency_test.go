package idempotency

import (
	"context"
	"errors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"os"
	"restaurant-service/internal/apperr"
	"testing"
	"time"
)

func exercise(t *testing.T, s Store) {
	ctx := context.Background()
	key := uuid.NewString()

	_, claimed, err := s.Reserve(ctx, key)
	if err != nil || !claimed {
		t.Fatalf("first Reserve = (%v, %v), want claimed", claimed, err)
	}

	_, _, err = s.Reserve(ctx, key)
	if !errors.Is(err, apperr.ErrRetryable) {
		t.Fatalf("Reserve while pending error = %v, want retryable", err)
	}

	if err := s.Complete(ctx, key, "order-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	id, claimed, err := s.Reserve(ctx, key)
	if err != nil || claimed || id != "order-1" {
		t.Fatalf("Reserve after Complete = (%q, %v, %v), want (order-1, false, nil)", id, claimed, err)
	}

	if err := s.Release(ctx, key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, claimed, err := s.Reserve(ctx, key); err != nil || !claimed {
		t.Fatalf("Reserve after Release = (%v, %v), want claimed", claimed, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	if _, _, err := s.Reserve(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, "k", "order-1"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(TTL + time.Second)
	if _, claimed, err := s.Reserve(ctx, "k"); err != nil || !claimed {
		t.Fatalf("Reserve after TTL = (%v, %v), want claimed", claimed, err)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	exercise(t, NewRedisStore(rdb))
}
