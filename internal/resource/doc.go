// Package resource implements the Controller for process-wide limits.
//
// The Controller provides centralized management of two resource types:
//
//   - Memory: Track and limit the bytes held by in-memory output buffers and
//     cached blocks (non-blocking, fail-fast)
//   - IO: Rate-limit writes of background work such as merges
//
// # Memory Management
//
// AcquireMemory is non-blocking and returns ErrMemoryLimitExceeded when the
// limit would be exceeded. Output streams react by spilling to a temporary
// file instead of growing their buffer:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 256 << 20,
//	})
//
//	if err := rc.AcquireMemory(n); err != nil {
//	    // spill
//	}
//	defer rc.ReleaseMemory(n)
//
// # IO Rate Limiting
//
// Token bucket limiter:
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	if err := rc.AcquireIO(ctx, 4096); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
package resource
