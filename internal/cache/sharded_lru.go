package cache

import (
	"hash/maphash"

	"github.com/hupe1980/sqldir/internal/resource"
)

const numShards = 64

// ShardedLRUBlockCache distributes entries across 64 LRU shards.
// All blocks of one file land in the same shard so InvalidateFile touches a
// single lock.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
	seed   maphash.Seed
}

var _ BlockCache = (*ShardedLRUBlockCache)(nil)

// NewShardedLRUBlockCache creates a new sharded LRU cache.
// The capacity is divided evenly across all shards.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	shardCapacity := max(capacity/numShards, 1)
	s := &ShardedLRUBlockCache{seed: maphash.MakeSeed()}
	for i := range numShards {
		s.shards[i] = NewLRUBlockCache(shardCapacity, rc)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(name string) *LRUBlockCache {
	return s.shards[maphash.String(s.seed, name)%numShards]
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(key Key) ([]byte, bool) {
	return s.shard(key.Name).Get(key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(key Key, b []byte) {
	s.shard(key.Name).Set(key, b)
}

// InvalidateFile removes every block of the named file.
func (s *ShardedLRUBlockCache) InvalidateFile(name string) {
	s.shard(name).InvalidateFile(name)
}

// Stats returns aggregated statistics across all shards.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	for _, shard := range s.shards {
		h, m := shard.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size of all shards in bytes.
func (s *ShardedLRUBlockCache) Size() int64 {
	var total int64
	for _, shard := range s.shards {
		total += shard.Size()
	}
	return total
}
