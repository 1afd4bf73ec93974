package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel every configuration failure matches.
//
// Configuration errors are fatal: they are raised while a directory or policy
// is being built and are never recovered automatically.
var ErrConfiguration = errors.New("configuration error")

// Error describes an unresolvable or invalid configuration value.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type Error struct {
	Key    string
	Value  string
	Reason string
	cause  error
}

// Errorf returns a configuration error for key.
func Errorf(key, format string, args ...any) *Error {
	return &Error{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// WithValue records the offending value.
func (e *Error) WithValue(v string) *Error {
	e.Value = v
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) Error() string {
	msg := "configuration error"
	if e.Key != "" {
		msg += fmt.Sprintf(" [%s]", e.Key)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" value %q", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is ErrConfiguration.
func (e *Error) Is(target error) bool { return target == ErrConfiguration }
