package blockmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsfs/vrsfs/blockdev"
	"github.com/vrsfs/vrsfs/freelist"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/inode"
	"github.com/vrsfs/vrsfs/onimage"
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

func newMapper(t *testing.T) (*Mapper, geom.Geometry) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	require.NoError(t, onimage.Format(dev, time.Unix(1700000000, 0)))

	bm := onimage.NewBitmap(dev, g.DataBitmapStart(), g.DataBitmapBlocks(), g.MaxDataBlocks())
	fl := freelist.New(bm, g.MaxDataBlocks())
	return New(dev, fl), g
}

func TestResolveAllocatesDirectBlocksLazily(t *testing.T) {
	m, g := newMapper(t)
	rec := inode.New(1, inode.KindFile, g, time.Unix(1700000000, 0))

	_, ok, err := m.Resolve(rec, 0, false)
	require.NoError(t, err)
	assert.False(t, ok, "no block is assigned yet")

	block, ok, err := m.Resolve(rec, 0, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), rec.Blocks)

	again, ok, err := m.Resolve(rec, 0, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, block, again, "a second resolve returns the same already-allocated block")
}

func TestResolveReachesSingleIndirectTier(t *testing.T) {
	m, g := newMapper(t)
	rec := inode.New(1, inode.KindFile, g, time.Unix(1700000000, 0))

	lbi := uint64(g.NDirect) // first logical block past the direct slots
	block, ok, err := m.Resolve(rec, lbi, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, g.InvalidBlock(), block)
	assert.NotEqual(t, g.InvalidBlock(), rec.Single, "single-indirect root should now be allocated")
	assert.Equal(t, uint32(2), rec.Blocks, "one indirect block plus one leaf block")
}

func TestReleaseTreeFreesEverythingAndResetsSize(t *testing.T) {
	m, g := newMapper(t)
	rec := inode.New(1, inode.KindFile, g, time.Unix(1700000000, 0))
	rec.Size = 100

	e := g.EntriesPerIndirectBlock()
	lbis := []uint64{0, 1, uint64(g.NDirect), uint64(g.NDirect) + e}
	for _, lbi := range lbis {
		_, ok, err := m.Resolve(rec, lbi, true)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Greater(t, rec.Blocks, uint32(0))

	freed, err := m.ReleaseTree(rec)
	require.NoError(t, err)
	assert.Greater(t, freed, uint32(0))
	assert.Equal(t, uint32(0), rec.Blocks)
	assert.Equal(t, uint64(0), rec.Size)
	assert.Equal(t, g.InvalidBlock(), rec.Single)
}

func TestReleaseSingleBlockClearsOnlyThatSlot(t *testing.T) {
	m, g := newMapper(t)
	rec := inode.New(1, inode.KindFile, g, time.Unix(1700000000, 0))

	b0, _, err := m.Resolve(rec, 0, true)
	require.NoError(t, err)
	_, _, err = m.Resolve(rec, 1, true)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseSingleBlock(rec, 0, b0))
	assert.Equal(t, g.InvalidBlock(), rec.Direct[0])

	_, ok, err := m.Resolve(rec, 1, false)
	require.NoError(t, err)
	assert.True(t, ok, "releasing slot 0 must not disturb slot 1")
}
