package pathwalk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsfs/vrsfs/blockdev"
	"github.com/vrsfs/vrsfs/blockmap"
	"github.com/vrsfs/vrsfs/dirent"
	"github.com/vrsfs/vrsfs/freelist"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/inode"
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

// buildTree formats a volume and wires up /sub/file.txt beneath the root
// directory, returning a Resolver ready to walk it.
func buildTree(t *testing.T) *Resolver {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	dev := blockdev.New(vol, g)
	now := time.Unix(1700000000, 0)
	require.NoError(t, onimage.Format(dev, now))

	bm := onimage.NewBitmap(dev, g.DataBitmapStart(), g.DataBitmapBlocks(), g.MaxDataBlocks())
	fl := freelist.New(bm, g.MaxDataBlocks())
	mapper := blockmap.New(dev, fl)
	dirs := dirent.New(dev, mapper)
	inodes := inode.NewStore(dev)

	root, err := inodes.Get(0)
	require.NoError(t, err)

	sub := inode.New(1, inode.KindDir, g, now)
	require.NoError(t, dirs.InitEmpty(sub, root.ID))
	require.NoError(t, inodes.Put(sub))
	require.NoError(t, dirs.Add(root, "sub", sub.ID))
	require.NoError(t, inodes.Put(root))

	file := inode.New(2, inode.KindFile, g, now)
	file.Size = 0
	require.NoError(t, inodes.Put(file))
	require.NoError(t, dirs.Add(sub, "file.txt", file.ID))
	require.NoError(t, inodes.Put(sub))

	return New(inodes, dirs, 0)
}

func TestSplitRejectsRelativePaths(t *testing.T) {
	_, err := Split("relative/path")
	assert.True(t, vrserrors.ErrInvalid.Is(err))
}

func TestSplitIgnoresRepeatedSlashes(t *testing.T) {
	parts, err := Split("/sub//file.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub", "file.txt"}, parts)
}

func TestResolveWalksNestedPath(t *testing.T) {
	r := buildTree(t)

	rec, err := r.Resolve("/sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, geom.InodeID(2), rec.ID)
	assert.False(t, rec.IsDir())
}

func TestResolveRoot(t *testing.T) {
	r := buildTree(t)
	rec, err := r.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, geom.InodeID(0), rec.ID)
	assert.True(t, rec.IsDir())
}

func TestResolveParentReturnsParentAndLeaf(t *testing.T) {
	r := buildTree(t)
	parent, leaf, err := r.ResolveParent("/sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", leaf)
	assert.Equal(t, geom.InodeID(1), parent.ID)
}

func TestResolveMissingComponent(t *testing.T) {
	r := buildTree(t)
	_, err := r.Resolve("/sub/missing")
	assert.True(t, vrserrors.ErrNotFound.Is(err))
}

func TestResolveThroughNonDirectoryFails(t *testing.T) {
	r := buildTree(t)
	_, err := r.Resolve("/sub/file.txt/impossible")
	assert.True(t, vrserrors.ErrNotDir.Is(err))
}
