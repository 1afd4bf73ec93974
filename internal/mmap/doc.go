// Package mmap maps index files read-only into memory for FSDirectory
// inputs, so that a buffer refill is a memory copy instead of a pread.
//
//	m, err := mmap.Open("_0.cfs", mmap.Random)
//	if err != nil { ... }
//	defer m.Close()
//	n, err := m.ReadAt(buf, off)
//
// Platforms without mmap support read the file onto the heap instead.
package mmap
