package onimage

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

func TestFormatWritesReadableSuperblock(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)

	require.NoError(t, Format(dev, time.Unix(1700000000, 0)))

	sb, err := ReadSuperblock(dev)
	require.NoError(t, err)
	assert.Equal(t, Magic, sb.Magic)
	assert.Equal(t, g.NInodes, sb.TotalInodes)
	assert.Equal(t, g.MaxDataBlocks()-1, sb.FreeDataBlocks)
	assert.Equal(t, uint32(rootInodeID), sb.RootInode)
}

// TestSuperblockWireRoundTripsValuesBeyondUint32Range guards against
// TotalDataBlocks/FreeDataBlocks silently wrapping to 0: the standard and
// large presets both produce a MaxDataBlocks() at or beyond 2^32, which a
// uint32 wire field cannot represent.
func TestSuperblockWireRoundTripsValuesBeyondUint32Range(t *testing.T) {
	big := uint64(1)<<32 + 7
	sb := Superblock{
		Magic:           Magic,
		TotalDataBlocks: big,
		FreeDataBlocks:  big - 1,
		TotalInodes:     4096,
		InodeBitmapAt:   1,
		DataBitmapAt:    2,
		RootInode:       0,
	}

	got := unmarshalSuperblock(sb.marshal())
	assert.Equal(t, sb, got)
	assert.NotEqual(t, uint64(0), got.TotalDataBlocks, "must not truncate to 0 like a uint32 field would")
}

func TestReadSuperblockRejectsBadMagic(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)

	_, err := ReadSuperblock(dev)
	assert.Error(t, err)
}

func TestBitmapAllocationCycle(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	require.NoError(t, Format(dev, time.Unix(1700000000, 0)))

	bm := NewBitmap(dev, g.DataBitmapStart(), g.DataBitmapBlocks(), g.MaxDataBlocks())

	free, err := bm.IsFree(0)
	require.NoError(t, err)
	assert.False(t, free, "block 0 is reserved for the root directory's first data block")

	free, err = bm.IsFree(1)
	require.NoError(t, err)
	assert.True(t, free)

	require.NoError(t, bm.MarkUsed(1))
	free, err = bm.IsFree(1)
	require.NoError(t, err)
	assert.False(t, free)

	require.NoError(t, bm.MarkFree(1))
	free, err = bm.IsFree(1)
	require.NoError(t, err)
	assert.True(t, free)

	count, err := bm.CountFree()
	require.NoError(t, err)
	assert.Equal(t, g.MaxDataBlocks()-1, count)
}

func TestIsEmptyReflectsHighWaterMark(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)

	empty, err := IsEmpty(vol)
	require.NoError(t, err)
	assert.True(t, empty)

	dev := blockdev.New(vol, g)
	require.NoError(t, Format(dev, time.Unix(1700000000, 0)))

	empty, err = IsEmpty(vol)
	require.NoError(t, err)
	assert.False(t, empty)
}
