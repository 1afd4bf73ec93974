package store

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	BytesSource
	reads  int
	closed int
	err    error
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads++
	if s.err != nil {
		return 0, s.err
	}
	return s.BytesSource.ReadAt(p, off)
}

func (s *countingSource) Close() error {
	s.closed++
	return nil
}

func TestBufferedInput_ReadByte(t *testing.T) {
	data := pattern(23)
	src := &countingSource{BytesSource: data}
	in := NewBufferedInput("_0.tis", src, 8)

	for i := range data {
		b, err := in.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, data[i], b)
	}
	assert.Equal(t, 3, src.reads)

	_, err := in.ReadByte()
	assert.ErrorIs(t, err, ErrReadPastEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBufferedInput_ReadBytes(t *testing.T) {
	data := pattern(100)
	in := NewBufferedInput("_0.frq", BytesSource(data), 16)

	small := make([]byte, 10)
	require.NoError(t, in.ReadBytes(small))
	assert.Equal(t, data[:10], small)

	// Crosses the window boundary.
	cross := make([]byte, 10)
	require.NoError(t, in.ReadBytes(cross))
	assert.Equal(t, data[10:20], cross)

	// Larger than the buffer: read directly.
	large := make([]byte, 40)
	require.NoError(t, in.ReadBytes(large))
	assert.Equal(t, data[20:60], large)
	assert.Equal(t, int64(60), in.FilePointer())

	tooMuch := make([]byte, 41)
	assert.ErrorIs(t, in.ReadBytes(tooMuch), ErrReadPastEOF)
}

func TestBufferedInput_SeekTo(t *testing.T) {
	data := pattern(64)
	src := &countingSource{BytesSource: data}
	in := NewBufferedInput("_1.prx", src, 16)

	require.NoError(t, in.SeekTo(40))
	b, err := in.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, data[40], b)

	// Seek inside the current window does not refill.
	reads := src.reads
	require.NoError(t, in.SeekTo(45))
	b, err = in.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, data[45], b)
	assert.Equal(t, reads, src.reads)

	require.NoError(t, in.SeekTo(64))
	assert.ErrorIs(t, in.SeekTo(65), ErrSeekPastEOF)
	assert.ErrorIs(t, in.SeekTo(-1), ErrInvalidState)
}

func TestStreams_NotSeekers(t *testing.T) {
	// Absolute-only cursors must not be mistaken for io.Seeker.
	var in any = NewBufferedInput("_1.prx", BytesSource(pattern(8)), 4)
	_, ok := in.(io.Seeker)
	assert.False(t, ok)

	var out any = NewBufferedOutput("_1.prx", &captureSink{}, 4)
	_, ok = out.(io.Seeker)
	assert.False(t, ok)
}

func TestBufferedInput_Reader(t *testing.T) {
	data := pattern(1000)
	in := NewBufferedInput("_2.fdx", BytesSource(data), 7)
	got, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	n, err := in.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestBufferedInput_Clone(t *testing.T) {
	data := pattern(50)
	src := &countingSource{BytesSource: data}
	in := NewBufferedInput("_3.tvf", src, 8)
	require.NoError(t, in.SeekTo(10))

	clone := in.Clone()
	assert.Equal(t, int64(10), clone.FilePointer())
	require.NoError(t, clone.SeekTo(30))
	require.NoError(t, clone.Close())
	assert.Equal(t, 0, src.closed)

	b, err := in.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, data[10], b)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.Equal(t, 1, src.closed)

	_, err = in.ReadByte()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBufferedInput_SourceError(t *testing.T) {
	boom := errors.New("connection reset")
	src := &countingSource{BytesSource: pattern(10), err: boom}
	m := &BasicMetricsObserver{}
	in := NewBufferedInput("_4.nrm", src, 4, WithInputMetrics(m))

	_, err := in.ReadByte()
	require.ErrorIs(t, err, boom)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.Equal(t, int64(1), m.Stats().RefillErrors)
}

func TestBufferedInput_ShortSource(t *testing.T) {
	// Declared length larger than the stored payload.
	src := shortSource{BytesSource: pattern(5), size: 10}
	in := NewBufferedInput("_5.del", src, 16)
	err := in.ReadBytes(make([]byte, 8))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type shortSource struct {
	BytesSource
	size int64
}

func (s shortSource) Size() int64 { return s.size }
