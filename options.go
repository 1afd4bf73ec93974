package sqldir

import (
	"log/slog"
	"time"

	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/retention"
	"github.com/hupe1980/sqldir/store"
)

// DefaultLockTimeout bounds how long Open waits for the write lock.
const DefaultLockTimeout = time.Second

type options struct {
	settings          *config.Settings
	logger            *Logger
	metrics           store.MetricsObserver
	retentionRegistry *retention.Registry
	mergeRegistry     *merge.Registry
	spillDir          string
	clock             func() time.Time
	lockTimeout       time.Duration
	deleteConcurrency int
	readOnly          bool
}

// Option configures Open and OpenDirectory.
type Option func(*options)

// WithSettings sets the configuration. Keys are documented in package
// config; unset keys fall back to their defaults.
//
// Example:
//
//	s, _ := config.LoadYAMLFile("sqldir.yaml")
//	st, _ := sqldir.Open(ctx, db, sqldir.WithSettings(s))
func WithSettings(s *config.Settings) Option {
	return func(o *options) {
		if s != nil {
			o.settings = s
		}
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(nil, level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(nil, level)
	}
}

// WithMetrics sets the observer of stream and directory events.
// Only directories built by Open report to it.
func WithMetrics(m store.MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRetentionRegistry resolves retention policies from r instead of
// retention.DefaultRegistry. Use it to plug in custom policies.
func WithRetentionRegistry(r *retention.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.retentionRegistry = r
		}
	}
}

// WithMergeRegistry resolves merge policies from r instead of
// merge.DefaultRegistry.
func WithMergeRegistry(r *merge.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.mergeRegistry = r
		}
	}
}

// WithSpillDir sets where outputs spill once they outgrow memory.
// The default is the operating system temp directory.
func WithSpillDir(dir string) Option {
	return func(o *options) {
		o.spillDir = dir
	}
}

// WithClock sets the clock used for commit timestamps and row stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithLockTimeout sets how long Open waits for the write lock.
// A timeout <= 0 tries exactly once.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithDeleteConcurrency bounds concurrent file deletions.
func WithDeleteConcurrency(n int) Option {
	return func(o *options) {
		o.deleteConcurrency = n
	}
}

// ReadOnly opens the store without taking the write lock. Commit and Purge
// fail with store.ErrInvalidState and unreferenced files are never removed.
func ReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		settings:          config.New(),
		logger:            NoopLogger(),
		metrics:           store.NoopMetricsObserver{},
		retentionRegistry: retention.DefaultRegistry(),
		mergeRegistry:     merge.DefaultRegistry(),
		lockTimeout:       DefaultLockTimeout,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
