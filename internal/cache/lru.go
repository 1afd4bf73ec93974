package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/sqldir/internal/resource"
)

// LRUBlockCache evicts the least recently used block once the cached bytes
// exceed its capacity. Blocks are indexed per file so that invalidating a
// rewritten or deleted file only visits that file's blocks.
type LRUBlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	files    map[string]map[int64]*list.Element
	order    *list.List // front is most recent
	rc       *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

var _ BlockCache = (*LRUBlockCache)(nil)

type block struct {
	key  Key
	data []byte
}

// NewLRUBlockCache creates a cache holding up to capacity bytes. Cached
// bytes are also accounted against rc, which may be nil.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	return &LRUBlockCache{
		capacity: capacity,
		files:    make(map[string]map[int64]*list.Element),
		order:    list.New(),
		rc:       rc,
	}
}

func (c *LRUBlockCache) lookup(key Key) (*list.Element, bool) {
	e, ok := c.files[key.Name][key.Offset]
	return e, ok
}

func (c *LRUBlockCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(e)
	return e.Value.(*block).data, true
}

// Set caches b under key. Blocks larger than the capacity, and blocks the
// resource controller refuses, are not cached.
func (c *LRUBlockCache) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(b))
	if e, ok := c.lookup(key); ok {
		// A refetched block replaces the old one; the file did not change,
		// only the range length may differ at the tail.
		c.remove(e)
	}
	if n > c.capacity {
		return
	}
	for c.size+n > c.capacity && c.order.Len() > 0 {
		c.remove(c.order.Back())
	}
	if c.rc.AcquireMemory(n) != nil {
		return
	}

	blocks := c.files[key.Name]
	if blocks == nil {
		blocks = make(map[int64]*list.Element)
		c.files[key.Name] = blocks
	}
	blocks[key.Offset] = c.order.PushFront(&block{key: key, data: b})
	c.size += n
}

func (c *LRUBlockCache) InvalidateFile(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.files[name] {
		c.remove(e)
	}
}

func (c *LRUBlockCache) remove(e *list.Element) {
	b := c.order.Remove(e).(*block)
	blocks := c.files[b.key.Name]
	delete(blocks, b.key.Offset)
	if len(blocks) == 0 {
		delete(c.files, b.key.Name)
	}
	n := int64(len(b.data))
	c.size -= n
	c.rc.ReleaseMemory(n)
}

func (c *LRUBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
