package store

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotFound is returned when a file does not exist.
	//
	// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
	// The default maps to `os.ErrNotExist`.
	ErrNotFound = os.ErrNotExist

	// ErrInvalidState is matched by every misuse of a stream or directory.
	ErrInvalidState = errors.New("invalid state")

	// ErrClosed is returned by operations on a closed stream.
	ErrClosed = fmt.Errorf("%w: stream closed", ErrInvalidState)

	// ErrDirectoryClosed is returned by operations on a closed directory.
	ErrDirectoryClosed = fmt.Errorf("%w: directory closed", ErrInvalidState)

	// ErrSeekPastEOF is returned when seeking outside [0, length].
	ErrSeekPastEOF = fmt.Errorf("%w: seek past end of file", ErrInvalidState)

	// ErrReadPastEOF is returned when a read would cross the declared length.
	ErrReadPastEOF = fmt.Errorf("read past end of file: %w", io.ErrUnexpectedEOF)

	// ErrLockObtainFailed is returned when a lock could not be obtained in time.
	ErrLockObtainFailed = errors.New("lock obtain timed out")
)

// IOError reports a failed backend round-trip.
//
// The file's previously durable state is left untouched by the failed
// operation. The original underlying error can be accessed via errors.Unwrap.
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// WrapIO wraps err as an IOError unless it is nil or already one.
func WrapIO(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var ioe *IOError
	if errors.As(err, &ioe) || errors.Is(err, ErrInvalidState) {
		return err
	}
	return &IOError{Op: op, Name: name, Err: err}
}
