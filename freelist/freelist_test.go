package freelist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsfs/vrsfs/blockdev"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/onimage"
	"github.com/vrsfs/vrsfs/vrserrors"
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

func newDataFreeList(t *testing.T) *List {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	require.NoError(t, onimage.Format(dev, time.Unix(1700000000, 0)))

	bm := onimage.NewBitmap(dev, g.DataBitmapStart(), g.DataBitmapBlocks(), g.MaxDataBlocks())
	return New(bm, g.MaxDataBlocks())
}

func TestAllocSkipsAlreadyUsedBlockZero(t *testing.T) {
	l := newDataFreeList(t)

	id, err := l.Alloc()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "block 0 is already charged to the root directory at format time")
}

func TestReleaseGoesToTailNotImmediatelyReissued(t *testing.T) {
	l := newDataFreeList(t)

	first, err := l.Alloc()
	require.NoError(t, err)
	second, err := l.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, l.Release(first))

	third, err := l.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, first, third, "a released id must not be reissued on the very next alloc")
	assert.Equal(t, second+1, third, "the next unallocated id is handed out before the released one")
}

// TestReleasedIDComesBackAroundAtTheTail uses a pool small enough to drain
// entirely, so the released id's return to the head of the queue is
// directly observable.
func TestReleasedIDComesBackAroundAtTheTail(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	require.NoError(t, onimage.Format(dev, time.Unix(1700000000, 0)))

	bm := onimage.NewBitmap(dev, g.InodeBitmapStart(), g.InodeBitmapBlocks(), uint64(g.NInodes))
	l := New(bm, uint64(g.NInodes))

	first, err := l.Alloc()
	require.NoError(t, err)
	require.NoError(t, l.Release(first))

	// Drain every other free id before the released one should resurface.
	remaining := int(g.NInodes) - 1
	var last uint64
	for i := 0; i < remaining; i++ {
		last, err = l.Alloc()
		require.NoError(t, err)
	}
	assert.Equal(t, first, last, "the released id is handed out last, once it reaches the head of the queue")

	_, err = l.Alloc()
	assert.True(t, vrserrors.ErrNoSpace.Is(err))
}

func TestReleaseAlreadyFreeIsRejected(t *testing.T) {
	l := newDataFreeList(t)
	err := l.Release(5)
	assert.True(t, vrserrors.ErrInvalid.Is(err))
}

func TestAllocExhaustsPool(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	require.NoError(t, onimage.Format(dev, time.Unix(1700000000, 0)))

	bm := onimage.NewBitmap(dev, g.InodeBitmapStart(), g.InodeBitmapBlocks(), uint64(g.NInodes))
	l := New(bm, uint64(g.NInodes))

	for i := 0; i < int(g.NInodes)-1; i++ {
		_, err := l.Alloc()
		require.NoError(t, err)
	}

	_, err := l.Alloc()
	assert.True(t, vrserrors.ErrNoSpace.Is(err))
}
