package inode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsfs/vrsfs/blockdev"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/vrstest"
)

func smallGeometry() geom.Geometry {
	return geom.Geometry{
		BlockSize:  64,
		NDirect:    2,
		NInodes:    16,
		InodeSize:  64,
		MaxNameLen: 16,
		DentrySize: 32,
	}
}

func TestNewInitializesAllPointersToInvalid(t *testing.T) {
	g := smallGeometry()
	rec := New(5, KindFile, g, time.Unix(1700000000, 0))

	assert.Equal(t, g.InvalidBlock(), rec.Single)
	assert.Equal(t, g.InvalidBlock(), rec.Double)
	assert.Equal(t, g.InvalidBlock(), rec.Triple)
	for _, b := range rec.Direct {
		assert.Equal(t, g.InvalidBlock(), b)
	}
	assert.Equal(t, uint32(1), rec.Nlink)
	assert.False(t, rec.IsDir())
}

func TestStoreRoundTripsRecord(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	store := NewStore(dev)

	now := time.Unix(1700000000, 0).UTC()
	rec := New(3, KindDir, g, now)
	rec.Direct[0] = 42
	rec.Size = 128
	rec.Blocks = 1

	require.NoError(t, store.Put(rec))

	got, err := store.Get(3)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Size, got.Size)
	assert.Equal(t, rec.Blocks, got.Blocks)
	assert.Equal(t, geom.BlockID(42), got.Direct[0])
	assert.Equal(t, g.InvalidBlock(), got.Direct[1])
	assert.True(t, got.IsDir())
	assert.Equal(t, now.Unix(), got.Mtime.Unix())
}

func TestStorePutDoesNotDisturbNeighboringRecord(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	store := NewStore(dev)

	now := time.Unix(1700000000, 0)
	first := New(0, KindDir, g, now)
	second := New(1, KindFile, g, now)
	second.Size = 99

	require.NoError(t, store.Put(first))
	require.NoError(t, store.Put(second))

	gotFirst, err := store.Get(0)
	require.NoError(t, err)
	assert.True(t, gotFirst.IsDir())

	gotSecond, err := store.Get(1)
	require.NoError(t, err)
	assert.False(t, gotSecond.IsDir())
	assert.Equal(t, uint64(99), gotSecond.Size)
}

func TestGetRejectsOutOfRangeID(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	store := NewStore(dev)

	_, err := store.Get(geom.InodeID(g.NInodes))
	assert.Error(t, err)
}
