package lock

import (
	"context"
	"fmt"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"os"
	"restaurant-service/internal/apperr"
	"sync"
	"time"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "lock").Logger()

// Deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const pollInterval = 20 * time.Millisecond

// RedisLocker takes locks with SET NX PX so they work across service replicas. The TTL bounds
// how long a crashed holder can keep an order locked.
type RedisLocker struct {
	rdb  *redis.Client
	wait time.Duration
	ttl  time.Duration
}

func NewRedisLocker(rdb *redis.Client, wait, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, wait: wait, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("lock:%s", key)
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err != nil {
			logger.Error().Err(err).Msgf("Error acquiring lock %s", redisKey)
			return nil, apperr.Retryable(err, "lock %s", key)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, apperr.Retryable(nil, "lock %s busy after %s", key, l.wait)
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Retryable(ctx.Err(), "lock %s", key)
		case <-time.After(pollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even if the request context is already cancelled.
			if err := releaseScript.Run(context.Background(), l.rdb, []string{redisKey}, owner).Err(); err != nil {
				logger.Error().Err(err).Msgf("Error releasing lock %s", redisKey)
			}
		})
	}, nil
}
