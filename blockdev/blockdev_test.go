package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestWriteThenReadBlockRoundTrips(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := New(vol, g)

	want := make([]byte, g.BlockSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.NoError(t, dev.WriteBlock(3, want))

	got := make([]byte, g.BlockSize)
	require.NoError(t, dev.ReadBlock(3, got))
	assert.Equal(t, want, got)
}

func TestWriteBlockPaddedZeroesRemainder(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := New(vol, g)

	require.NoError(t, dev.WriteBlockPadded(0, []byte{1, 2, 3}, 3))

	got := make([]byte, g.BlockSize)
	require.NoError(t, dev.ReadBlock(0, got))
	assert.Equal(t, []byte{1, 2, 3}, got[:3])
	for _, b := range got[3:] {
		assert.Equal(t, byte(0), b)
	}
}

func TestReadBlockOutOfRange(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := New(vol, g)

	err := dev.ReadBlock(geom.BlockID(g.TotalBlocks()), make([]byte, g.BlockSize))
	assert.Error(t, err)
}
