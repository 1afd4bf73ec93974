package store

import (
	"context"
	"errors"
	"io"
)

const copyBufferSize = 64 * 1024

// Copy copies srcName from src to dstName in dst. The destination file
// becomes visible only when the copy completed.
func Copy(ctx context.Context, src Directory, srcName string, dst Directory, dstName string) (err error) {
	in, err := src.OpenInput(ctx, srcName)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, in.Close()) }()

	out, err := dst.CreateOutput(ctx, dstName)
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(writerOnly{out}, in, buf); err != nil {
		return errors.Join(WrapIO("copy", srcName, err), Abort(out))
	}
	return out.Close()
}

// writerOnly hides ReadFrom so io.CopyBuffer uses the provided buffer.
type writerOnly struct{ io.Writer }

// Aborter is implemented by outputs that can be abandoned without
// publishing their file.
type Aborter interface {
	Abort() error
}

// Abort abandons out if it supports it and closes it otherwise.
func Abort(out Output) error {
	if a, ok := out.(Aborter); ok {
		return a.Abort()
	}
	return out.Close()
}
