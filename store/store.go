package store

import (
	"context"
	"io"
	"time"
)

// Directory is a flat namespace of write-once files.
//
// A file becomes visible to OpenInput, FileExists and ListAll only after the
// Output that produced it has been closed successfully. Implementations must
// be safe for concurrent use; individual streams are owned by one caller.
type Directory interface {
	// ListAll returns the names of all visible files.
	ListAll(ctx context.Context) ([]string, error)
	// FileExists reports whether a visible file named name exists.
	FileExists(ctx context.Context, name string) (bool, error)
	// FileLength returns the declared length of the file.
	FileLength(ctx context.Context, name string) (int64, error)
	// FileModified returns the time the file was last written.
	FileModified(ctx context.Context, name string) (time.Time, error)
	// DeleteFile removes the file. Deleting a missing file returns ErrNotFound.
	DeleteFile(ctx context.Context, name string) error
	// RenameFile atomically replaces to with from.
	RenameFile(ctx context.Context, from, to string) error
	// CreateOutput opens a new output stream. The file replaces any existing
	// file of the same name when the output is closed.
	CreateOutput(ctx context.Context, name string) (Output, error)
	// OpenInput opens a visible file for random-access reading.
	OpenInput(ctx context.Context, name string) (Input, error)
	// MakeLock returns a lock named name. It does not obtain it.
	MakeLock(name string) Lock
	// Close releases the directory's resources.
	Close() error
}

// Output is a seekable write stream for a single file.
type Output interface {
	io.Writer
	io.ByteWriter
	// SeekTo moves the write cursor. pos must be within [0, Length()].
	SeekTo(pos int64) error
	// FilePointer returns the current write position.
	FilePointer() int64
	// Length returns the highest offset written or declared so far.
	Length() int64
	// SetLength declares the logical end of file.
	SetLength(length int64) error
	// Flush moves buffered bytes to the underlying sink. It does not make the
	// file visible.
	Flush() error
	// Close flushes and publishes the complete file with a single backend write.
	Close() error
}

// Input is a random-access read stream for a single file.
type Input interface {
	io.Reader
	io.ByteReader
	// ReadBytes fills p completely or fails.
	ReadBytes(p []byte) error
	// SeekTo moves the read cursor. pos must be within [0, Length()].
	SeekTo(pos int64) error
	// FilePointer returns the current read position.
	FilePointer() int64
	// Length returns the declared length of the file.
	Length() int64
	// Clone returns an independent cursor over the same file.
	Clone() Input
	Close() error
}

// Lock is a named mutual-exclusion marker stored in a directory.
type Lock interface {
	// Obtain tries once to obtain the lock.
	Obtain(ctx context.Context) (bool, error)
	// Release releases the lock.
	Release(ctx context.Context) error
	// IsLocked reports whether the lock is currently held by anyone.
	IsLocked(ctx context.Context) (bool, error)
}

// Source is the random-access backing of an Input.
// ReadAt must be safe for concurrent use, clones share the source.
type Source interface {
	io.ReaderAt
	io.Closer
	// Size returns the declared length of the file.
	Size() int64
}

// Sink receives the flushed buffers of a BufferedOutput and publishes the
// complete file when the output is closed.
type Sink interface {
	io.WriterAt
	// Commit publishes the first length bytes written to the sink and
	// releases the sink's resources whatever the outcome.
	Commit(length int64) error
	// Discard releases the sink without publishing anything.
	Discard() error
}
