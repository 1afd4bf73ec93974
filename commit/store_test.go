package commit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir/merge"
	"github.com/hupe1980/sqldir/store"
	"github.com/hupe1980/sqldir/testutil"
)

func TestStore_WriteAndList(t *testing.T) {
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	dir := store.NewMemoryDirectory(store.WithMemoryClock(clock.Now))
	s := NewStore(dir, WithClock(clock.Now))
	ctx := t.Context()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoCommit)
	_, err = s.LatestGeneration(ctx)
	assert.ErrorIs(t, err, ErrNoCommit)

	segs := []merge.SegmentInfo{{Name: "_0", SizeBytes: 10, DocCount: 1}}
	c1, err := s.Write(ctx, []string{"_0.cfs"}, segs)
	require.NoError(t, err)
	assert.Equal(t, "segments_1", c1.Name())
	assert.Equal(t, []string{"_0.cfs", "segments_1"}, c1.Files())
	assert.Equal(t, segs, c1.Segments())

	clock.Advance(time.Minute)
	c2, err := s.Write(ctx, []string{"_0.cfs", "_1.cfs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c2.Generation())

	commits, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, int64(1), commits[0].Generation())
	assert.Equal(t, int64(2), commits[1].Generation())

	modified, err := commits[1].LastModified(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), modified)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "segments_2", latest.Name())

	ok, err := dir.FileExists(ctx, GenFileName)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_GenerationsNeverRepeat(t *testing.T) {
	dir := store.NewMemoryDirectory()
	s := NewStore(dir)
	ctx := t.Context()

	for range 3 {
		_, err := s.Write(ctx, nil, nil)
		require.NoError(t, err)
	}
	require.NoError(t, dir.DeleteFile(ctx, "segments_3"))

	// segments.gen still names generation 3.
	c, err := NewStore(dir).Write(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.Generation())
}

func TestStore_SkipsUnreadableCommits(t *testing.T) {
	dir := store.NewMemoryDirectory()
	s := NewStore(dir)
	ctx := t.Context()

	_, err := s.Write(ctx, []string{"_0.cfs"}, nil)
	require.NoError(t, err)
	testutil.WriteFile(t, dir, "segments_2", []byte("garbage-garbage-garbage"))
	_, err = s.Write(ctx, []string{"_1.cfs"}, nil)
	require.NoError(t, err)

	commits, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "segments_1", commits[0].Name())
	assert.Equal(t, "segments_3", commits[1].Name())

	_, err = s.Read(ctx, 2)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_ReadRejectsMisnamedDescriptor(t *testing.T) {
	dir := store.NewMemoryDirectory()
	s := NewStore(dir)
	ctx := t.Context()

	_, err := s.Write(ctx, nil, nil)
	require.NoError(t, err)
	require.NoError(t, dir.RenameFile(ctx, "segments_1", "segments_5"))

	_, err = s.Read(ctx, 5)
	assert.ErrorIs(t, err, ErrCorrupt)
}
