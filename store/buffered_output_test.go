package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every WriteAt into a growing slice and keeps the
// published payload.
type captureSink struct {
	data      []byte
	published []byte
	commits   int
	discards  int
	failWrite error
}

func (s *captureSink) WriteAt(p []byte, off int64) (int, error) {
	if s.failWrite != nil {
		return 0, s.failWrite
	}
	if end := int(off) + len(p); end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}
	copy(s.data[off:], p)
	return len(p), nil
}

func (s *captureSink) Commit(length int64) error {
	s.commits++
	out := make([]byte, length)
	copy(out, s.data)
	s.published = out
	return nil
}

func (s *captureSink) Discard() error {
	s.discards++
	return nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestBufferedOutput_RoundTrip(t *testing.T) {
	for _, length := range []int{0, 1, 5, 40, 257} {
		for _, bufferSize := range []int{1, 5, 40, 64, 1024} {
			t.Run(fmt.Sprintf("L%d_B%d", length, bufferSize), func(t *testing.T) {
				data := pattern(length)
				sink := &captureSink{}
				out := NewBufferedOutput("_0.fdt", sink, bufferSize)

				// Mix single bytes and slices.
				half := length / 2
				for _, b := range data[:half] {
					require.NoError(t, out.WriteByte(b))
				}
				_, err := out.Write(data[half:])
				require.NoError(t, err)
				assert.Equal(t, int64(length), out.Length())
				assert.Equal(t, int64(length), out.FilePointer())

				require.NoError(t, out.Close())
				assert.Equal(t, 1, sink.commits)
				assert.Equal(t, data, sink.published)

				in := NewBufferedInput("_0.fdt", BytesSource(sink.published), bufferSize)
				got := make([]byte, length)
				require.NoError(t, in.ReadBytes(got))
				assert.Equal(t, data, got)
			})
		}
	}
}

func TestBufferedOutput_SegmentsScenario(t *testing.T) {
	sink := &captureSink{}
	out := NewBufferedOutput("segments_1", sink, 5)

	original := pattern(40)
	_, err := out.Write(original)
	require.NoError(t, err)

	require.NoError(t, out.SeekTo(28))
	require.NoError(t, out.WriteByte(0xFE))
	require.NoError(t, out.SeekTo(30))
	_, err = out.Write([]byte{0xAB, 0xCD})
	require.NoError(t, err)
	assert.Equal(t, int64(32), out.FilePointer())
	require.NoError(t, out.Close())

	require.Len(t, sink.published, 40)
	for i, b := range sink.published {
		switch i {
		case 28:
			assert.Equal(t, byte(0xFE), b)
		case 30:
			assert.Equal(t, byte(0xAB), b)
		case 31:
			assert.Equal(t, byte(0xCD), b)
		default:
			assert.Equal(t, original[i], b, "offset %d", i)
		}
	}
}

func TestBufferedOutput_SeekWithinBuffer(t *testing.T) {
	sink := &captureSink{}
	out := NewBufferedOutput("_1.tii", sink, 16)

	_, err := out.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, out.SeekTo(2))
	_, err = out.Write([]byte("ab"))
	require.NoError(t, err)
	// Nothing flushed yet: the overwrite happened in the buffer.
	assert.Empty(t, sink.data)
	assert.Equal(t, int64(10), out.Length())

	require.NoError(t, out.SeekTo(10))
	_, err = out.Write([]byte("XY"))
	require.NoError(t, err)
	require.NoError(t, out.Close())
	assert.Equal(t, []byte("01ab456789XY"), sink.published)
}

func TestBufferedOutput_SeekTo(t *testing.T) {
	out := NewBufferedOutput("_2.frq", &captureSink{}, 8)
	_, err := out.Write(pattern(20))
	require.NoError(t, err)

	assert.ErrorIs(t, out.SeekTo(21), ErrSeekPastEOF)
	assert.ErrorIs(t, out.SeekTo(-1), ErrSeekPastEOF)
	assert.ErrorIs(t, out.SeekTo(21), ErrInvalidState)
	require.NoError(t, out.SeekTo(20))
	require.NoError(t, out.SeekTo(0))
}

func TestBufferedOutput_SetLength(t *testing.T) {
	t.Run("Extend", func(t *testing.T) {
		sink := &captureSink{}
		out := NewBufferedOutput("_3.nrm", sink, 4)
		_, err := out.Write([]byte("abc"))
		require.NoError(t, err)
		require.NoError(t, out.SetLength(6))
		require.NoError(t, out.Close())
		assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0}, sink.published)
	})

	t.Run("Truncate", func(t *testing.T) {
		sink := &captureSink{}
		out := NewBufferedOutput("_3.nrm", sink, 4)
		_, err := out.Write([]byte("abcdefgh"))
		require.NoError(t, err)
		require.NoError(t, out.SetLength(5))
		assert.Equal(t, int64(5), out.FilePointer())
		require.NoError(t, out.Close())
		assert.Equal(t, []byte("abcde"), sink.published)
	})

	t.Run("Negative", func(t *testing.T) {
		out := NewBufferedOutput("_3.nrm", &captureSink{}, 4)
		assert.ErrorIs(t, out.SetLength(-1), ErrInvalidState)
	})
}

func TestBufferedOutput_Closed(t *testing.T) {
	sink := &captureSink{}
	out := NewBufferedOutput("_4.del", sink, 4)
	require.NoError(t, out.WriteByte(1))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())
	assert.Equal(t, 1, sink.commits)

	assert.ErrorIs(t, out.WriteByte(2), ErrClosed)
	_, err := out.Write([]byte{2})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, out.SeekTo(0), ErrClosed)
	assert.ErrorIs(t, out.Flush(), ErrClosed)
	assert.ErrorIs(t, out.SetLength(0), ErrClosed)
}

func TestBufferedOutput_FlushFailure(t *testing.T) {
	boom := errors.New("disk gone")
	sink := &captureSink{failWrite: boom}
	out := NewBufferedOutput("_5.cfs", sink, 4)

	_, err := out.Write([]byte("ab"))
	require.NoError(t, err)
	err = out.Close()
	require.ErrorIs(t, err, boom)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "_5.cfs", ioErr.Name)
	assert.Equal(t, 0, sink.commits)
	assert.Equal(t, 1, sink.discards)
}

func TestBufferedOutput_Abort(t *testing.T) {
	sink := &captureSink{}
	out := NewBufferedOutput("_6.tvx", sink, 4)
	_, err := out.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, out.Abort())
	require.NoError(t, out.Close())
	assert.Equal(t, 0, sink.commits)
	assert.Equal(t, 1, sink.discards)
}

func TestBufferedOutput_Metrics(t *testing.T) {
	m := &BasicMetricsObserver{}
	out := NewBufferedOutput("_7.tvd", &captureSink{}, 4, WithOutputMetrics(m))
	_, err := out.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = out.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, out.Close())

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Flushes)
	assert.Equal(t, int64(6), stats.FlushedBytes)
	assert.Equal(t, int64(1), stats.Commits)
	assert.Equal(t, int64(6), stats.CommittedBytes)
}

func TestBufferedOutput_LargeWriteBypassesBuffer(t *testing.T) {
	sink := &captureSink{}
	out := NewBufferedOutput("_8.fnm", sink, 4)
	data := pattern(10)
	n, err := out.Write(data)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, data, sink.data)
	require.NoError(t, out.Close())
	assert.True(t, bytes.Equal(data, sink.published))
}

var _ io.Writer = (*BufferedOutput)(nil)
