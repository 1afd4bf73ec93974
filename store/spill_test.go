package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir/internal/fs"
	"github.com/hupe1980/sqldir/internal/resource"
)

type published struct {
	data  []byte
	calls int
}

func (p *published) publish(r io.Reader, length int64) error {
	p.calls++
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != length {
		return fmt.Errorf("reader yielded %d bytes, want %d", len(data), length)
	}
	p.data = data
	return nil
}

func writeWithOverwrites(t *testing.T, out *BufferedOutput, data []byte) []byte {
	t.Helper()
	_, err := out.Write(data)
	require.NoError(t, err)

	want := bytes.Clone(data)
	for _, pos := range []int{len(data) / 3, len(data) / 2, 1} {
		if pos >= len(data) {
			continue
		}
		require.NoError(t, out.SeekTo(int64(pos)))
		require.NoError(t, out.WriteByte(0xEE))
		want[pos] = 0xEE
	}
	require.NoError(t, out.Close())
	return want
}

func TestSpillingOutput_ThresholdEquivalence(t *testing.T) {
	data := pattern(10_000)
	for _, threshold := range []int64{1, 64, 4096, 9_999, 10_000, 1 << 20} {
		t.Run(fmt.Sprintf("threshold=%d", threshold), func(t *testing.T) {
			spillDir := t.TempDir()
			m := &BasicMetricsObserver{}
			p := &published{}
			cfg := BufferConfig{OutputBufferSize: 128, SpillThreshold: threshold}
			out := NewSpillingOutput("_0.cfs", cfg, p.publish, WithSpillDir(spillDir), WithSpillMetrics(m))

			want := writeWithOverwrites(t, out, data)
			assert.Equal(t, want, p.data)
			assert.Equal(t, 1, p.calls)

			spilled := threshold < int64(len(data))
			assert.Equal(t, spilled, m.Stats().Spills == 1)

			entries, err := os.ReadDir(spillDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "spill file must be removed")
		})
	}
}

func TestSpillingOutput_Modes(t *testing.T) {
	data := pattern(3000)
	tests := []struct {
		mode   OutputMode
		spills int64
	}{
		{RAMOnly, 0},
		{FileOnly, 1},
		{RAMAndFile, 1},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			m := &BasicMetricsObserver{}
			p := &published{}
			cfg := BufferConfig{OutputBufferSize: 100, SpillThreshold: 1000, OutputMode: tt.mode}
			out := NewSpillingOutput("_1.fdt", cfg, p.publish, WithSpillDir(t.TempDir()), WithSpillMetrics(m))
			want := writeWithOverwrites(t, out, data)
			assert.Equal(t, want, p.data)
			assert.Equal(t, tt.spills, m.Stats().Spills)
		})
	}
}

func TestSpillingOutput_MemoryLimitSpillsEarly(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 512})
	m := &BasicMetricsObserver{}
	p := &published{}
	cfg := BufferConfig{OutputBufferSize: 100, SpillThreshold: 1 << 20}
	out := NewSpillingOutput("_2.tis", cfg, p.publish,
		WithSpillDir(t.TempDir()), WithResources(rc), WithSpillMetrics(m))

	data := pattern(2000)
	want := writeWithOverwrites(t, out, data)
	assert.Equal(t, want, p.data)
	assert.Equal(t, int64(1), m.Stats().Spills)
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestSpillingOutput_RAMOnlyMemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
	cfg := BufferConfig{OutputBufferSize: 32, OutputMode: RAMOnly}
	out := NewSpillingOutput("_3.frq", cfg, (&published{}).publish, WithResources(rc))

	_, err := out.Write(pattern(200))
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	require.NoError(t, out.Abort())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestSpillingOutput_PublishFailureRemovesSpillFile(t *testing.T) {
	spillDir := t.TempDir()
	boom := errors.New("insert failed")
	cfg := BufferConfig{OutputBufferSize: 16, SpillThreshold: 32}
	out := NewSpillingOutput("_4.prx", cfg, func(io.Reader, int64) error { return boom }, WithSpillDir(spillDir))

	_, err := out.Write(pattern(100))
	require.NoError(t, err)
	err = out.Close()
	require.ErrorIs(t, err, boom)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "close", ioErr.Op)

	entries, err := os.ReadDir(spillDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpillingOutput_SpillFileFaults(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		faulty := fs.NewFaultyFS(nil)
		faulty.AddRule("sqldir-spill", fs.Fault{FailOnCreate: true, FailAfterBytes: -1})
		p := &published{}
		cfg := BufferConfig{OutputBufferSize: 8, SpillThreshold: 16}
		out := NewSpillingOutput("_5.nrm", cfg, p.publish, WithSpillFileSystem(faulty), WithSpillDir(t.TempDir()))

		_, err := out.Write(pattern(64))
		require.ErrorIs(t, err, fs.ErrInjected)
		require.NoError(t, out.Abort())
		assert.Equal(t, 0, p.calls)
	})

	t.Run("Write", func(t *testing.T) {
		spillDir := t.TempDir()
		faulty := fs.NewFaultyFS(nil)
		faulty.AddRule("sqldir-spill", fs.Fault{FailAfterBytes: 40})
		p := &published{}
		cfg := BufferConfig{OutputBufferSize: 8, SpillThreshold: 16}
		out := NewSpillingOutput("_5.nrm", cfg, p.publish, WithSpillFileSystem(faulty), WithSpillDir(spillDir))

		_, err := out.Write(pattern(16))
		require.NoError(t, err)
		_, err = out.Write(pattern(64))
		require.ErrorIs(t, err, fs.ErrInjected)
		require.NoError(t, out.Abort())
		assert.Equal(t, 0, p.calls)

		entries, err := os.ReadDir(spillDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestParseOutputMode(t *testing.T) {
	for in, want := range map[string]OutputMode{"ram": RAMOnly, "FILE": FileOnly, "ramandfile": RAMAndFile, "": RAMAndFile} {
		got, err := ParseOutputMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOutputMode("tape")
	assert.Error(t, err)
}

func TestRateLimitedOutput(t *testing.T) {
	p := &published{}
	inner := NewSpillingOutput("_6.fdx", BufferConfig{OutputMode: RAMOnly}, p.publish)

	unlimited := NewRateLimitedOutput(t.Context(), "_6.fdx", inner, nil)
	assert.Same(t, Output(inner), unlimited)

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	out := NewRateLimitedOutput(t.Context(), "_6.fdx", inner, rc)
	_, err := out.Write([]byte("throttled"))
	require.NoError(t, err)
	require.NoError(t, out.WriteByte('!'))
	require.NoError(t, out.Close())
	assert.Equal(t, []byte("throttled!"), p.data)
}
