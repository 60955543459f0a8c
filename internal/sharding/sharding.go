package sharding

import "github.com/cespare/xxhash/v2"

type ShardRouter struct {
	ShardCount int // Number of shards
}

func NewShardRouter(shardCount int) *ShardRouter {
	if shardCount < 1 {
		shardCount = 1
	}
	return &ShardRouter{ShardCount: shardCount}
}

// GetShard hashes the order id and returns the shard index.
func (r *ShardRouter) GetShard(orderID string) int {
	if r.ShardCount == 1 {
		return 0
	}
	return int(xxhash.Sum64String(orderID) % uint64(r.ShardCount))
}
