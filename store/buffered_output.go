package store

import (
	"errors"
	"fmt"
	"time"
)

// DefaultBufferSize is the buffer size used when none is configured.
const DefaultBufferSize = 16 * 1024

// BufferedOutput batches writes into a fixed-size buffer and hands full
// buffers to a Sink at their absolute file offset.
//
// Seeking to a position inside the buffered window overwrites the buffered
// bytes in place; any other seek flushes the buffer first and the following
// writes land in the sink at the new position.
type BufferedOutput struct {
	name   string
	sink   Sink
	buffer []byte
	start  int64 // file offset of buffer[0]
	pos    int   // cursor within buffer
	used   int   // buffer[:used] holds unflushed data
	length int64
	closed bool

	metrics MetricsObserver
}

var _ Output = (*BufferedOutput)(nil)

// OutputOption configures a BufferedOutput.
type OutputOption func(*BufferedOutput)

// WithOutputMetrics sets the observer notified on every buffer flush and on
// publication.
func WithOutputMetrics(m MetricsObserver) OutputOption {
	return func(o *BufferedOutput) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewBufferedOutput creates an output over sink.
// A bufferSize <= 0 selects DefaultBufferSize.
func NewBufferedOutput(name string, sink Sink, bufferSize int, opts ...OutputOption) *BufferedOutput {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	o := &BufferedOutput{
		name:    name,
		sink:    sink,
		buffer:  make([]byte, bufferSize),
		metrics: NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the file name.
func (o *BufferedOutput) Name() string { return o.name }

func (o *BufferedOutput) WriteByte(b byte) error {
	if o.closed {
		return ErrClosed
	}
	if o.pos >= len(o.buffer) {
		if err := o.flushBuffer(); err != nil {
			return err
		}
	}
	o.buffer[o.pos] = b
	o.advance(1)
	return nil
}

func (o *BufferedOutput) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrClosed
	}
	written := 0
	for len(p) > 0 {
		if o.used == 0 && len(p) >= len(o.buffer) {
			// Nothing buffered and the chunk is at least a buffer long:
			// hand it to the sink directly.
			if _, err := o.sink.WriteAt(p, o.start); err != nil {
				return written, WrapIO("write", o.name, err)
			}
			o.start += int64(len(p))
			o.extend(o.start)
			return written + len(p), nil
		}
		if o.pos >= len(o.buffer) {
			if err := o.flushBuffer(); err != nil {
				return written, err
			}
			continue
		}
		n := copy(o.buffer[o.pos:], p)
		o.advance(n)
		p = p[n:]
		written += n
	}
	return written, nil
}

func (o *BufferedOutput) advance(n int) {
	o.pos += n
	if o.pos > o.used {
		o.used = o.pos
	}
	o.extend(o.start + int64(o.pos))
}

func (o *BufferedOutput) extend(end int64) {
	if end > o.length {
		o.length = end
	}
}

func (o *BufferedOutput) flushBuffer() error {
	if o.used > 0 {
		if _, err := o.sink.WriteAt(o.buffer[:o.used], o.start); err != nil {
			return WrapIO("flush", o.name, err)
		}
		o.metrics.OnFlush(o.name, o.used)
	}
	o.start += int64(o.pos)
	o.pos, o.used = 0, 0
	return nil
}

// Flush moves buffered bytes to the sink.
func (o *BufferedOutput) Flush() error {
	if o.closed {
		return ErrClosed
	}
	return o.flushBuffer()
}

func (o *BufferedOutput) SeekTo(pos int64) error {
	if o.closed {
		return ErrClosed
	}
	if pos < 0 || pos > o.length {
		return fmt.Errorf("%w: %s pos=%d length=%d", ErrSeekPastEOF, o.name, pos, o.length)
	}
	if pos >= o.start && pos <= o.start+int64(o.used) {
		o.pos = int(pos - o.start)
		return nil
	}
	if err := o.flushBuffer(); err != nil {
		return err
	}
	o.start = pos
	return nil
}

func (o *BufferedOutput) FilePointer() int64 {
	return o.start + int64(o.pos)
}

func (o *BufferedOutput) Length() int64 {
	return o.length
}

// SetLength declares the logical end of file. Bytes beyond it are dropped
// when the file is published; a length beyond the written data is zero-filled.
func (o *BufferedOutput) SetLength(length int64) error {
	if o.closed {
		return ErrClosed
	}
	if length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidState, length)
	}
	if length < o.FilePointer() {
		if err := o.flushBuffer(); err != nil {
			return err
		}
		o.start = length
	}
	o.length = length
	return nil
}

// Close flushes the buffer and publishes the file. Closing twice is a no-op.
func (o *BufferedOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.flushBuffer(); err != nil {
		return errors.Join(err, o.sink.Discard())
	}
	o.buffer = nil
	start := time.Now()
	err := o.sink.Commit(o.length)
	o.metrics.OnCommit(o.name, o.length, time.Since(start), err)
	return WrapIO("close", o.name, err)
}

// Abort releases the output without publishing anything.
func (o *BufferedOutput) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.buffer = nil
	return o.sink.Discard()
}
