package store

import (
	"sync/atomic"
	"time"
)

// MetricsObserver receives stream and directory events.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsObserver interface {
	// OnFlush is called when an output hands a full buffer to its sink.
	OnFlush(name string, bytes int)

	// OnRefill is called after each input buffer refill from the backend.
	// err is nil if successful.
	OnRefill(name string, bytes int, duration time.Duration, err error)

	// OnSpill is called once when an output switches from memory to a
	// temporary file. bytes is the amount copied out of memory.
	OnSpill(name string, bytes int64)

	// OnCommit is called after an output published its payload on close.
	OnCommit(name string, bytes int64, duration time.Duration, err error)

	// OnDelete is called after each file deletion.
	OnDelete(name string, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnFlush(string, int)                          {}
func (NoopMetricsObserver) OnRefill(string, int, time.Duration, error)   {}
func (NoopMetricsObserver) OnSpill(string, int64)                        {}
func (NoopMetricsObserver) OnCommit(string, int64, time.Duration, error) {}
func (NoopMetricsObserver) OnDelete(string, error)                       {}

// BasicMetricsObserver counts events in memory.
// Useful for debugging and tests without external dependencies.
type BasicMetricsObserver struct {
	Flushes        atomic.Int64
	FlushedBytes   atomic.Int64
	Refills        atomic.Int64
	RefilledBytes  atomic.Int64
	RefillErrors   atomic.Int64
	Spills         atomic.Int64
	SpilledBytes   atomic.Int64
	Commits        atomic.Int64
	CommittedBytes atomic.Int64
	CommitErrors   atomic.Int64
	CommitNanos    atomic.Int64
	Deletes        atomic.Int64
	DeleteErrors   atomic.Int64
}

// OnFlush implements MetricsObserver.
func (b *BasicMetricsObserver) OnFlush(_ string, bytes int) {
	b.Flushes.Add(1)
	b.FlushedBytes.Add(int64(bytes))
}

// OnRefill implements MetricsObserver.
func (b *BasicMetricsObserver) OnRefill(_ string, bytes int, _ time.Duration, err error) {
	b.Refills.Add(1)
	if err != nil {
		b.RefillErrors.Add(1)
		return
	}
	b.RefilledBytes.Add(int64(bytes))
}

// OnSpill implements MetricsObserver.
func (b *BasicMetricsObserver) OnSpill(_ string, bytes int64) {
	b.Spills.Add(1)
	b.SpilledBytes.Add(bytes)
}

// OnCommit implements MetricsObserver.
func (b *BasicMetricsObserver) OnCommit(_ string, bytes int64, duration time.Duration, err error) {
	b.Commits.Add(1)
	b.CommitNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommittedBytes.Add(bytes)
}

// OnDelete implements MetricsObserver.
func (b *BasicMetricsObserver) OnDelete(_ string, err error) {
	b.Deletes.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// Stats returns a snapshot of the current counters.
func (b *BasicMetricsObserver) Stats() MetricsStats {
	return MetricsStats{
		Flushes:        b.Flushes.Load(),
		FlushedBytes:   b.FlushedBytes.Load(),
		Refills:        b.Refills.Load(),
		RefilledBytes:  b.RefilledBytes.Load(),
		RefillErrors:   b.RefillErrors.Load(),
		Spills:         b.Spills.Load(),
		SpilledBytes:   b.SpilledBytes.Load(),
		Commits:        b.Commits.Load(),
		CommittedBytes: b.CommittedBytes.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		Deletes:        b.Deletes.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
	}
}

// MetricsStats is a point-in-time snapshot of BasicMetricsObserver.
type MetricsStats struct {
	Flushes        int64
	FlushedBytes   int64
	Refills        int64
	RefilledBytes  int64
	RefillErrors   int64
	Spills         int64
	SpilledBytes   int64
	Commits        int64
	CommittedBytes int64
	CommitErrors   int64
	Deletes        int64
	DeleteErrors   int64
}
