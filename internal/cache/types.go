package cache

// Key identifies one cached block.
type Key struct {
	// Name is the file the block belongs to.
	Name string
	// Offset is the file offset of the first byte of the block.
	Offset int64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(key Key) (b []byte, ok bool)
	// Set caches a block. The cache retains b; callers must not modify it.
	Set(key Key, b []byte)
	// InvalidateFile removes every block of the named file.
	InvalidateFile(name string)
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
