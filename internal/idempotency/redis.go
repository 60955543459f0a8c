package idempotency

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"os"
	"restaurant-service/internal/apperr"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "idempotency").Logger()

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	// SETNX makes the claim atomic: of two concurrent requests only one gets true.
	ok, err := s.rdb.SetNX(ctx, redisKey(key), pending, TTL).Result()
	if err != nil {
		logger.Error().Err(err).Msgf("Error reserving idempotent key %s", key)
		return "", false, apperr.Retryable(err, "reserve idempotent key")
	}
	if ok {
		return "", true, nil
	}

	val, err := s.rdb.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired or released between the two calls.
			return "", false, apperr.Retryable(nil, "idempotent key %s changed, retry", key)
		}
		logger.Error().Err(err).Msgf("Error reading idempotent key %s", key)
		return "", false, apperr.Retryable(err, "read idempotent key")
	}
	if val == pending {
		return "", false, apperr.Retryable(nil, "request with key %s is still in progress", key)
	}
	return val, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, orderID string) error {
	return s.rdb.Set(ctx, redisKey(key), orderID, TTL).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}
