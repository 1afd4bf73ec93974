// Package store defines the file abstraction an index is written through
// and the buffered streams shared by every backend.
//
// # Files
//
// A Directory is a flat namespace of write-once files. Writers obtain an
// Output, write sequentially (seeking back to patch headers is allowed) and
// Close it; only then does the file become visible, replacing any previous
// file of the same name with a single backend write. Readers obtain an
// Input and read with random access.
//
// # Streams
//
// BufferedOutput and BufferedInput keep one fixed-size window of bytes and
// talk to the backend only when the window is exhausted:
//
//	out := store.NewSpillingOutput("_0.cfs", cfg, publish)
//	out.Write(payload)   // buffered, spills to a temp file past cfg.SpillThreshold
//	out.Close()          // publish(reader, length) runs exactly once
//
// The spilling output keeps small files in memory and moves large ones to a
// single temporary local file, so heap usage stays bounded by the threshold.
//
// # Implementations
//
//   - MemoryDirectory: in-memory, for tests
//   - FSDirectory: local files, temp file + rename on close, mmap reads
//   - sqlstore.Directory: rows of a relational table
//   - s3.Directory and minio.Directory: object stores
package store
