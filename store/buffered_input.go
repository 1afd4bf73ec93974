package store

import (
	"fmt"
	"io"
	"time"
)

// BufferedInput answers reads from one window of bufferSize bytes and
// refills the window from its Source on a miss.
type BufferedInput struct {
	name       string
	src        Source
	bufferSize int
	buffer     []byte
	start      int64 // file offset of buffer[0]
	pos        int   // cursor within buffer
	limit      int   // buffer[:limit] is valid
	length     int64
	closed     bool
	clone      bool

	metrics MetricsObserver
}

var _ Input = (*BufferedInput)(nil)

// InputOption configures a BufferedInput.
type InputOption func(*BufferedInput)

// WithInputMetrics sets the observer notified on every refill.
func WithInputMetrics(m MetricsObserver) InputOption {
	return func(in *BufferedInput) {
		if m != nil {
			in.metrics = m
		}
	}
}

// NewBufferedInput creates an input over src.
// A bufferSize <= 0 selects DefaultBufferSize.
func NewBufferedInput(name string, src Source, bufferSize int, opts ...InputOption) *BufferedInput {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	in := &BufferedInput{
		name:       name,
		src:        src,
		bufferSize: bufferSize,
		length:     src.Size(),
		metrics:    NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Name returns the file name.
func (in *BufferedInput) Name() string { return in.name }

func (in *BufferedInput) ReadByte() (byte, error) {
	if in.closed {
		return 0, ErrClosed
	}
	if in.pos >= in.limit {
		if err := in.refill(); err != nil {
			return 0, err
		}
	}
	b := in.buffer[in.pos]
	in.pos++
	return b, nil
}

// ReadBytes fills p completely. Chunks of at least one buffer bypass the
// window and are read from the source directly.
func (in *BufferedInput) ReadBytes(p []byte) error {
	if in.closed {
		return ErrClosed
	}
	available := in.limit - in.pos
	if len(p) <= available {
		copy(p, in.buffer[in.pos:in.pos+len(p)])
		in.pos += len(p)
		return nil
	}
	if available > 0 {
		copy(p, in.buffer[in.pos:in.limit])
		p = p[available:]
		in.pos += available
	}

	if len(p) < in.bufferSize {
		if err := in.refill(); err != nil {
			return err
		}
		if in.limit < len(p) {
			copy(p, in.buffer[:in.limit])
			in.pos = in.limit
			return fmt.Errorf("%w: %s", ErrReadPastEOF, in.name)
		}
		copy(p, in.buffer[:len(p)])
		in.pos = len(p)
		return nil
	}

	from := in.start + int64(in.pos)
	after := from + int64(len(p))
	if after > in.length {
		return fmt.Errorf("%w: %s pos=%d want=%d length=%d", ErrReadPastEOF, in.name, from, len(p), in.length)
	}
	if err := in.readAt(p, from); err != nil {
		return err
	}
	in.start = after
	in.pos, in.limit = 0, 0
	return nil
}

// Read implements io.Reader and returns io.EOF at the declared length.
func (in *BufferedInput) Read(p []byte) (int, error) {
	if in.closed {
		return 0, ErrClosed
	}
	remaining := in.length - in.FilePointer()
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if err := in.ReadBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (in *BufferedInput) refill() error {
	from := in.start + int64(in.pos)
	end := min(from+int64(in.bufferSize), in.length)
	n := int(end - from)
	if n <= 0 {
		return fmt.Errorf("%w: %s pos=%d length=%d", ErrReadPastEOF, in.name, from, in.length)
	}
	if in.buffer == nil {
		in.buffer = make([]byte, in.bufferSize)
	}
	t := time.Now()
	err := in.readAt(in.buffer[:n], from)
	in.metrics.OnRefill(in.name, n, time.Since(t), err)
	if err != nil {
		return err
	}
	in.start = from
	in.pos, in.limit = 0, n
	return nil
}

func (in *BufferedInput) readAt(p []byte, off int64) error {
	n, err := in.src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return WrapIO("read", in.name, err)
}

func (in *BufferedInput) SeekTo(pos int64) error {
	if in.closed {
		return ErrClosed
	}
	if pos < 0 || pos > in.length {
		return fmt.Errorf("%w: %s pos=%d length=%d", ErrSeekPastEOF, in.name, pos, in.length)
	}
	if pos >= in.start && pos < in.start+int64(in.limit) {
		in.pos = int(pos - in.start)
		return nil
	}
	in.start = pos
	in.pos, in.limit = 0, 0
	return nil
}

func (in *BufferedInput) FilePointer() int64 {
	return in.start + int64(in.pos)
}

func (in *BufferedInput) Length() int64 {
	return in.length
}

// Clone returns an independent cursor positioned like in.
// Closing a clone leaves the shared source open.
func (in *BufferedInput) Clone() Input {
	c := &BufferedInput{
		name:       in.name,
		src:        in.src,
		bufferSize: in.bufferSize,
		start:      in.FilePointer(),
		length:     in.length,
		closed:     in.closed,
		clone:      true,
		metrics:    in.metrics,
	}
	return c
}

func (in *BufferedInput) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.buffer = nil
	if in.clone {
		return nil
	}
	return in.src.Close()
}

// BytesSource is a Source over an in-memory payload.
type BytesSource []byte

func (b BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b BytesSource) Size() int64 { return int64(len(b)) }

func (BytesSource) Close() error { return nil }
