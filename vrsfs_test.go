package vrsfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/vrserrors"
	"github.com/vrsfs/vrsfs/vrslog"
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

func mountFresh(t *testing.T) (*FS, *vrstest.Volume) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)
	fs, err := Init(vol, vol, g, vrslog.Nop)
	require.NoError(t, err)
	return fs, vol
}

func TestInitFormatsEmptyVolumeAndGetattrsRoot(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	st, err := fs.Getattr("/")
	require.NoError(t, err)
	assert.True(t, st.IsDir)
	assert.Equal(t, geom.InodeID(0), st.InodeID)
}

func TestMkdirCreateWriteReadNested(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	_, err := fs.Mkdir("/docs")
	require.NoError(t, err)

	st, err := fs.Create("/docs/readme.txt")
	require.NoError(t, err)
	assert.False(t, st.IsDir)

	payload := []byte("hello, vrsfs")
	n, err := fs.Write("/docs/readme.txt", 0, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	n, err = fs.Read("/docs/readme.txt", 0, got)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	_, err := fs.Create("/a.txt")
	require.NoError(t, err)

	_, err = fs.Create("/a.txt")
	assert.True(t, vrserrors.ErrExists.Is(err))
}

func TestRmdirRefusesNonEmptyDirectory(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	_, err := fs.Mkdir("/docs")
	require.NoError(t, err)
	_, err = fs.Create("/docs/readme.txt")
	require.NoError(t, err)

	err = fs.Rmdir("/docs")
	assert.True(t, vrserrors.ErrDirectoryNotEmpty.Is(err))

	require.NoError(t, fs.Unlink("/docs/readme.txt"))
	require.NoError(t, fs.Rmdir("/docs"))
}

func TestUnlinkRestoresFreeCounts(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	before, err := fs.Statfs()
	require.NoError(t, err)

	_, err = fs.Create("/a.txt")
	require.NoError(t, err)
	payload := make([]byte, fs.geometry.BlockSize*2)
	_, err = fs.Write("/a.txt", 0, payload)
	require.NoError(t, err)

	require.NoError(t, fs.Unlink("/a.txt"))

	after, err := fs.Statfs()
	require.NoError(t, err)
	assert.Equal(t, before.FreeBlocks, after.FreeBlocks)
	assert.Equal(t, before.FreeInodes, after.FreeInodes)
}

func TestReaddirListsDotEntriesAndChildren(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	_, err := fs.Mkdir("/docs")
	require.NoError(t, err)
	_, err = fs.Create("/docs/a.txt")
	require.NoError(t, err)

	entries, err := fs.Readdir("/docs")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
	assert.True(t, names["a.txt"])
}

func TestCreateFailsWhenInodesExhausted(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	var lastErr error
	for i := 0; i < int(fs.geometry.NInodes); i++ {
		_, err := fs.Create("/file" + string(rune('a'+i)))
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
	assert.True(t, vrserrors.ErrNoSpace.Is(lastErr))
}

func TestPersistenceAcrossRemount(t *testing.T) {
	g := smallGeometry()
	vol := vrstest.NewVolume(g)

	fs, err := Init(vol, vol, g, vrslog.Nop)
	require.NoError(t, err)
	_, err = fs.Create("/persisted.txt")
	require.NoError(t, err)
	_, err = fs.Write("/persisted.txt", 0, []byte("durable"))
	require.NoError(t, err)
	fs.Destroy()

	reopened := vol.Reopen()
	fs2, err := Init(reopened, reopened, g, vrslog.Nop)
	require.NoError(t, err)
	defer fs2.Destroy()

	st, err := fs2.Getattr("/persisted.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len("durable")), st.Size)

	got := make([]byte, len("durable"))
	_, err = fs2.Read("/persisted.txt", 0, got)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(got))
}

func TestFsckCleanOnFreshVolume(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	_, err := fs.Mkdir("/docs")
	require.NoError(t, err)
	_, err = fs.Create("/docs/a.txt")
	require.NoError(t, err)

	assert.NoError(t, fs.Fsck())
}

func TestTruncateGrowsAndShrinks(t *testing.T) {
	fs, _ := mountFresh(t)
	defer fs.Destroy()

	_, err := fs.Create("/a.txt")
	require.NoError(t, err)

	require.NoError(t, fs.Truncate("/a.txt", uint64(fs.geometry.BlockSize)*2))
	st, err := fs.Getattr("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(fs.geometry.BlockSize)*2, st.Size)

	require.NoError(t, fs.Truncate("/a.txt", 3))
	st, err = fs.Getattr("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Size)
}
