package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir/internal/fs"
	"github.com/hupe1980/sqldir/store"
	"github.com/hupe1980/sqldir/testutil"
)

func TestMemoryDirectory(t *testing.T) {
	testutil.RunDirectorySuite(t, func(t *testing.T) store.Directory {
		return store.NewMemoryDirectory(store.WithMemoryBufferConfig(store.BufferConfig{
			InputBufferSize:  5,
			OutputBufferSize: 5,
		}))
	})
}

func TestFSDirectory(t *testing.T) {
	for name, mmap := range map[string]bool{"mmap": true, "pread": false} {
		t.Run(name, func(t *testing.T) {
			testutil.RunDirectorySuite(t, func(t *testing.T) store.Directory {
				dir, err := store.NewFSDirectory(t.TempDir(), store.WithMMap(mmap),
					store.WithFSBufferConfig(store.BufferConfig{InputBufferSize: 64, OutputBufferSize: 64}))
				require.NoError(t, err)
				return dir
			})
		})
	}
}

func TestMemoryDirectory_Clock(t *testing.T) {
	clock := testutil.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := store.NewMemoryDirectory(store.WithMemoryClock(clock.Now))
	testutil.WriteFile(t, dir, "segments_1", []byte{1})
	clock.Advance(time.Minute)
	testutil.WriteFile(t, dir, "segments_2", []byte{2})

	m1, err := dir.FileModified(t.Context(), "segments_1")
	require.NoError(t, err)
	m2, err := dir.FileModified(t.Context(), "segments_2")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, m2.Sub(m1))

	require.NoError(t, dir.SetFileModified("segments_1", m1.Add(-time.Hour)))
	_, err = dir.FileModified(t.Context(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryDirectory_Closed(t *testing.T) {
	dir := store.NewMemoryDirectory()
	require.NoError(t, dir.Close())
	_, err := dir.ListAll(t.Context())
	assert.ErrorIs(t, err, store.ErrDirectoryClosed)
	_, err = dir.CreateOutput(t.Context(), "x")
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestFSDirectory_TempFilesHidden(t *testing.T) {
	root := t.TempDir()
	dir, err := store.NewFSDirectory(root)
	require.NoError(t, err)

	out, err := dir.CreateOutput(t.Context(), "_0.cfs")
	require.NoError(t, err)
	_, err = out.Write([]byte("pending"))
	require.NoError(t, err)
	require.NoError(t, out.Flush())

	names, err := dir.ListAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, out.Close())
	names, err = dir.ListAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"_0.cfs"}, names)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFSDirectory_FailedRenameKeepsPreviousFile(t *testing.T) {
	root := t.TempDir()
	faulty := fs.NewFaultyFS(nil)
	dir, err := store.NewFSDirectory(root, store.WithFileSystem(faulty))
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "segments.gen", []byte("generation 1"))
	faulty.AddRule("segments.gen", fs.Fault{FailOnRename: true, FailAfterBytes: -1})

	out, err := dir.CreateOutput(t.Context(), "segments.gen")
	require.NoError(t, err)
	_, err = out.Write([]byte("generation 2"))
	require.NoError(t, err)
	err = out.Close()
	require.ErrorIs(t, err, fs.ErrInjected)

	var ioErr *store.IOError
	require.True(t, errors.As(err, &ioErr))

	assert.Equal(t, []byte("generation 1"), testutil.ReadFile(t, dir, "segments.gen"))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

func TestFSDirectory_SetLengthOnDisk(t *testing.T) {
	root := t.TempDir()
	dir, err := store.NewFSDirectory(root)
	require.NoError(t, err)

	out, err := dir.CreateOutput(t.Context(), "_1.del")
	require.NoError(t, err)
	_, err = out.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, out.SetLength(3))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(filepath.Join(root, "_1.del"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestMarkerLock(t *testing.T) {
	dir := store.NewMemoryDirectory()
	a := store.NewMarkerLock(dir, "write.lock")
	b := store.NewMarkerLock(dir, "write.lock")

	ok, err := a.Obtain(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	exists, err := dir.FileExists(t.Context(), "write.lock")
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err = b.Obtain(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(t.Context()))
	require.NoError(t, a.Release(t.Context()))
	locked, err := b.IsLocked(t.Context())
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestObtainWithin(t *testing.T) {
	dir := store.NewMemoryDirectory()
	holder := dir.MakeLock("write.lock")
	ok, err := holder.Obtain(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	waiter := dir.MakeLock("write.lock")
	err = store.ObtainWithin(t.Context(), waiter, 50*time.Millisecond)
	require.ErrorIs(t, err, store.ErrLockObtainFailed)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = holder.Release(t.Context())
	}()
	require.NoError(t, store.ObtainWithin(t.Context(), waiter, 5*time.Second))
	require.NoError(t, waiter.Release(t.Context()))
}

func TestCopy(t *testing.T) {
	src := store.NewMemoryDirectory()
	dst, err := store.NewFSDirectory(t.TempDir())
	require.NoError(t, err)

	data := testutil.NewRNG(1).Bytes(200_000)
	testutil.WriteFile(t, src, "_0.cfs", data)

	require.NoError(t, store.Copy(t.Context(), src, "_0.cfs", dst, "_0.cfs"))
	assert.Equal(t, data, testutil.ReadFile(t, dst, "_0.cfs"))

	err = store.Copy(t.Context(), src, "missing", dst, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
