package testutil

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir/store"
)

// WriteFile creates name in dir with data and closes the output.
func WriteFile(t testing.TB, dir store.Directory, name string, data []byte) {
	t.Helper()
	out, err := dir.CreateOutput(t.Context(), name)
	require.NoError(t, err)
	_, err = out.Write(data)
	require.NoError(t, err)
	require.NoError(t, out.Close())
}

// ReadFile reads the whole file name from dir.
func ReadFile(t testing.TB, dir store.Directory, name string) []byte {
	t.Helper()
	in, err := dir.OpenInput(t.Context(), name)
	require.NoError(t, err)
	defer in.Close()
	data, err := io.ReadAll(in)
	require.NoError(t, err)
	require.Equal(t, in.Length(), int64(len(data)))
	return data
}

// RunDirectorySuite runs the behavior every store.Directory must share.
// newDir must return an empty directory; the suite closes it.
func RunDirectorySuite(t *testing.T, newDir func(t *testing.T) store.Directory) {
	t.Helper()
	rng := NewRNG(4711)

	open := func(t *testing.T) store.Directory {
		dir := newDir(t)
		t.Cleanup(func() { _ = dir.Close() })
		return dir
	}

	t.Run("RoundTrip", func(t *testing.T) {
		dir := open(t)
		for _, size := range []int{0, 1, 5, 40, 4097, 70000} {
			name := fmt.Sprintf("_%d.dat", size)
			data := rng.Bytes(size)
			WriteFile(t, dir, name, data)

			length, err := dir.FileLength(t.Context(), name)
			require.NoError(t, err)
			assert.Equal(t, int64(size), length)
			assert.True(t, bytes.Equal(data, ReadFile(t, dir, name)), "size %d", size)
		}
	})

	t.Run("VisibleOnlyAfterClose", func(t *testing.T) {
		dir := open(t)
		out, err := dir.CreateOutput(t.Context(), "_0.cfs")
		require.NoError(t, err)
		_, err = out.Write(rng.Bytes(100))
		require.NoError(t, err)
		require.NoError(t, out.Flush())

		exists, err := dir.FileExists(t.Context(), "_0.cfs")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, out.Close())
		exists, err = dir.FileExists(t.Context(), "_0.cfs")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Replace", func(t *testing.T) {
		dir := open(t)
		WriteFile(t, dir, "segments.gen", []byte("first version"))
		WriteFile(t, dir, "segments.gen", []byte("second"))
		assert.Equal(t, []byte("second"), ReadFile(t, dir, "segments.gen"))
	})

	t.Run("SeekOverwrite", func(t *testing.T) {
		dir := open(t)
		original := rng.Bytes(40)
		out, err := dir.CreateOutput(t.Context(), "segments_1")
		require.NoError(t, err)
		_, err = out.Write(original)
		require.NoError(t, err)
		require.NoError(t, out.SeekTo(28))
		require.NoError(t, out.WriteByte(0xA1))
		require.NoError(t, out.SeekTo(30))
		_, err = out.Write([]byte{0xB2, 0xC3})
		require.NoError(t, err)
		require.NoError(t, out.Close())

		want := bytes.Clone(original)
		want[28], want[30], want[31] = 0xA1, 0xB2, 0xC3
		got := ReadFile(t, dir, "segments_1")
		assert.Len(t, got, 40)
		assert.Equal(t, want, got)
	})

	t.Run("Delete", func(t *testing.T) {
		dir := open(t)
		WriteFile(t, dir, "_1.fdt", []byte("x"))
		require.NoError(t, dir.DeleteFile(t.Context(), "_1.fdt"))

		exists, err := dir.FileExists(t.Context(), "_1.fdt")
		require.NoError(t, err)
		assert.False(t, exists)
		assert.ErrorIs(t, dir.DeleteFile(t.Context(), "_1.fdt"), store.ErrNotFound)

		_, err = dir.OpenInput(t.Context(), "_1.fdt")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Rename", func(t *testing.T) {
		dir := open(t)
		WriteFile(t, dir, "pending_segments_2", []byte("descriptor"))
		require.NoError(t, dir.RenameFile(t.Context(), "pending_segments_2", "segments_2"))
		assert.Equal(t, []byte("descriptor"), ReadFile(t, dir, "segments_2"))

		exists, err := dir.FileExists(t.Context(), "pending_segments_2")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ListAll", func(t *testing.T) {
		dir := open(t)
		for _, name := range []string{"_2.tis", "_0.tis", "_1.tis"} {
			WriteFile(t, dir, name, []byte(name))
		}
		names, err := dir.ListAll(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"_0.tis", "_1.tis", "_2.tis"}, names)
	})

	t.Run("Modified", func(t *testing.T) {
		dir := open(t)
		WriteFile(t, dir, "_3.nrm", []byte("n"))
		mod, err := dir.FileModified(t.Context(), "_3.nrm")
		require.NoError(t, err)
		assert.False(t, mod.IsZero())
	})

	t.Run("Clone", func(t *testing.T) {
		dir := open(t)
		data := rng.Bytes(300)
		WriteFile(t, dir, "_4.prx", data)

		in, err := dir.OpenInput(t.Context(), "_4.prx")
		require.NoError(t, err)
		defer in.Close()
		require.NoError(t, in.SeekTo(100))

		clone := in.Clone()
		b, err := clone.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, data[100], b)
		require.NoError(t, clone.SeekTo(250))
		require.NoError(t, clone.Close())

		assert.Equal(t, int64(100), in.FilePointer())
		buf := make([]byte, 50)
		require.NoError(t, in.ReadBytes(buf))
		assert.Equal(t, data[100:150], buf)
	})

	t.Run("Lock", func(t *testing.T) {
		dir := open(t)
		a := dir.MakeLock("write.lock")
		b := dir.MakeLock("write.lock")

		ok, err := a.Obtain(t.Context())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = b.Obtain(t.Context())
		require.NoError(t, err)
		assert.False(t, ok)

		locked, err := b.IsLocked(t.Context())
		require.NoError(t, err)
		assert.True(t, locked)

		require.NoError(t, a.Release(t.Context()))
		ok, err = b.Obtain(t.Context())
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, b.Release(t.Context()))
	})
}
