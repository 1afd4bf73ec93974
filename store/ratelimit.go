package store

import (
	"context"

	"github.com/hupe1980/sqldir/internal/resource"
)

// RateLimitedOutput throttles writes through a resource controller's IO
// limiter. Merge outputs use it so background merges cannot starve
// foreground flushes.
type RateLimitedOutput struct {
	Output
	ctx  context.Context
	name string
	rc   *resource.Controller
}

// NewRateLimitedOutput wraps out. It returns out unchanged when rc has no
// IO limit.
func NewRateLimitedOutput(ctx context.Context, name string, out Output, rc *resource.Controller) Output {
	if !rc.IOLimited() {
		return out
	}
	return &RateLimitedOutput{Output: out, ctx: ctx, name: name, rc: rc}
}

func (o *RateLimitedOutput) Write(p []byte) (int, error) {
	if err := o.rc.AcquireIO(o.ctx, len(p)); err != nil {
		return 0, WrapIO("throttle", o.name, err)
	}
	return o.Output.Write(p)
}

func (o *RateLimitedOutput) WriteByte(b byte) error {
	if err := o.rc.AcquireIO(o.ctx, 1); err != nil {
		return WrapIO("throttle", o.name, err)
	}
	return o.Output.WriteByte(b)
}

// Abort abandons the wrapped output.
func (o *RateLimitedOutput) Abort() error {
	return Abort(o.Output)
}
