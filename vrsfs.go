// Package vrsfs is the operation facade for a mounted volume: the
// thirteen-verb surface a kernel-level adapter drives (init, destroy,
// getattr, create, unlink, open, read, write, statfs, mkdir, rmdir,
// opendir, readdir), the no-op releasedir, plus a supplemented Fsck
// diagnostic pass that walks a live volume and reports invariant
// violations.
//
// Grounded on the reference implementation's vrs_* functions (each wraps
// its body in a log_msg call and translates the result to a FUSE-style
// errno); here each operation other than Statfs, Releasedir and Fsck logs
// one line on entry via vrslog (failures are returned, not logged), and
// errors are vrserrors values the caller (cmd/vrsmount) maps onto their
// syscall.Errno for the kernel adapter.
package vrsfs

import (
	"io"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/vrsfs/vrsfs/blockdev"
	"github.com/vrsfs/vrsfs/blockmap"
	"github.com/vrsfs/vrsfs/dirent"
	"github.com/vrsfs/vrsfs/fileio"
	"github.com/vrsfs/vrsfs/freelist"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/inode"
	"github.com/vrsfs/vrsfs/onimage"
	"github.com/vrsfs/vrsfs/pathwalk"
	"github.com/vrsfs/vrsfs/vrserrors"
	"github.com/vrsfs/vrsfs/vrslog"
)

// Stat is the subset of inode metadata getattr/readdir hand back to the
// adapter, independent of any particular kernel stat struct layout.
type Stat struct {
	InodeID geom.InodeID
	IsDir   bool
	Size    uint64
	NBlocks uint32
	Nlink   uint32
	Atime   time.Time
	Ctime   time.Time
	Mtime   time.Time
}

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name  string
	Inode geom.InodeID
	IsDir bool
}

// FSStat is the result of Statfs.
type FSStat struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint32
	FreeInodes  uint64
}

// FS is an owned filesystem handle: every piece of mutable state (free
// lists, superblock cache) lives here, created at Init and torn down at
// Destroy, and passed by reference into every other operation instead of
// through ambient globals.
type FS struct {
	device   *blockdev.Device
	geometry geom.Geometry
	sb       onimage.Superblock

	inodeFree *freelist.List
	dataFree  *freelist.List

	inodes *inode.Store
	mapper *blockmap.Mapper
	dirs   *dirent.Directory
	io     *fileio.IO
	walker *pathwalk.Resolver

	log vrslog.Logger
}

// sizer is the narrow interface FS needs from the backing stream to decide
// whether to format it, satisfied by *os.File and the in-memory streams
// vrstest builds for tests.
type sizer interface {
	Size() (int64, error)
}

// Init mounts stream as a vrsfs volume: formatting it if empty, then
// setting up the free-list caches over the on-disk bitmaps (each cache is
// filled from its bitmap on first use) and caching the superblock.
func Init(stream io.ReadWriteSeeker, sizeOf sizer, geometry geom.Geometry, log vrslog.Logger) (*FS, error) {
	if log == nil {
		log = vrslog.Nop
	}
	if err := geometry.Validate(); err != nil {
		return nil, vrserrors.ErrInvalid.Wrap(err)
	}

	device := blockdev.New(stream, geometry)

	empty, err := onimage.IsEmpty(sizeOf)
	if err != nil {
		return nil, err
	}
	if empty {
		log.Infof("formatting new vrsfs volume (%d blocks)", geometry.TotalBlocks())
		if err := onimage.Format(device, time.Now()); err != nil {
			return nil, err
		}
	}

	sb, err := onimage.ReadSuperblock(device)
	if err != nil {
		return nil, err
	}

	inodeBitmap := onimage.NewBitmap(device, geom.BlockID(sb.InodeBitmapAt), geometry.InodeBitmapBlocks(), uint64(sb.TotalInodes))
	dataBitmap := onimage.NewBitmap(device, geom.BlockID(sb.DataBitmapAt), geometry.DataBitmapBlocks(), sb.TotalDataBlocks)

	inodeFree := freelist.New(inodeBitmap, uint64(sb.TotalInodes))
	dataFree := freelist.New(dataBitmap, sb.TotalDataBlocks)

	inodes := inode.NewStore(device)
	mapper := blockmap.New(device, dataFree)
	dirs := dirent.New(device, mapper)
	ioHelper := fileio.New(device, mapper)
	walker := pathwalk.New(inodes, dirs, geom.InodeID(sb.RootInode))

	log.Infof("mounted vrsfs volume: %d inodes, %d data blocks, root=%d", sb.TotalInodes, sb.TotalDataBlocks, sb.RootInode)

	return &FS{
		device:    device,
		geometry:  geometry,
		sb:        sb,
		inodeFree: inodeFree,
		dataFree:  dataFree,
		inodes:    inodes,
		mapper:    mapper,
		dirs:      dirs,
		io:        ioHelper,
		walker:    walker,
		log:       log,
	}, nil
}

// Destroy releases in-memory state. The backing bitmaps are already
// persistent, so this is a no-op beyond logging, matching
// destroy contract ("bitmaps are already persistent").
func (fs *FS) Destroy() {
	fs.log.Infof("unmounting vrsfs volume")
}

func (fs *FS) statOf(rec *inode.Record) Stat {
	return Stat{
		InodeID: rec.ID,
		IsDir:   rec.IsDir(),
		Size:    rec.Size,
		NBlocks: rec.Blocks,
		Nlink:   rec.Nlink,
		Atime:   rec.Atime,
		Ctime:   rec.Ctime,
		Mtime:   rec.Mtime,
	}
}

// Getattr resolves path and returns its stat record.
func (fs *FS) Getattr(path string) (Stat, error) {
	fs.log.Debugf("getattr %s", path)
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return fs.statOf(rec), nil
}

// createInode is the shared body of Create and Mkdir: allocates a new
// inode id and its first data block, populates the record, persists it,
// then wires a directory entry for its basename into the parent.
func (fs *FS) createInode(path string, kind inode.Kind) (*inode.Record, error) {
	parent, name, err := fs.walker.ResolveParent(path)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, vrserrors.ErrNotDir.WithMessage("parent is not a directory")
	}
	if _, err := fs.dirs.Lookup(parent, name); err == nil {
		return nil, vrserrors.ErrExists.WithMessage("a file with that name already exists")
	}

	idx, err := fs.inodeFree.Alloc()
	if err != nil {
		return nil, err
	}
	newID := geom.InodeID(idx)

	now := time.Now()
	rec := inode.New(newID, kind, fs.geometry, now)

	if kind == inode.KindDir {
		if err := fs.dirs.InitEmpty(rec, parent.ID); err != nil {
			return nil, err
		}
		parent.Nlink++
	} else if _, _, err := fs.mapper.Resolve(rec, 0, true); err != nil {
		return nil, err
	}

	if err := fs.inodes.Put(rec); err != nil {
		return nil, err
	}
	if err := fs.dirs.Add(parent, name, newID); err != nil {
		return nil, err
	}
	parent.Mtime = now
	if err := fs.inodes.Put(parent); err != nil {
		return nil, err
	}

	return rec, nil
}

// Create makes a new regular file at path.
func (fs *FS) Create(path string) (Stat, error) {
	fs.log.Infof("create %s", path)
	rec, err := fs.createInode(path, inode.KindFile)
	if err != nil {
		return Stat{}, err
	}
	return fs.statOf(rec), nil
}

// Mkdir makes a new, empty directory at path, containing only "." and
// "..".
func (fs *FS) Mkdir(path string) (Stat, error) {
	fs.log.Infof("mkdir %s", path)
	rec, err := fs.createInode(path, inode.KindDir)
	if err != nil {
		return Stat{}, err
	}
	return fs.statOf(rec), nil
}

// removeInode walks path's block tree, releases every block it owns,
// releases the inode id, and removes the parent's directory entry — the
// shared body of Unlink and Rmdir.
func (fs *FS) removeInode(path string, wantDir bool) error {
	parent, name, err := fs.walker.ResolveParent(path)
	if err != nil {
		return err
	}
	childID, err := fs.dirs.Lookup(parent, name)
	if err != nil {
		return err
	}
	child, err := fs.inodes.Get(childID)
	if err != nil {
		return err
	}

	if wantDir && !child.IsDir() {
		return vrserrors.ErrNotDir.WithMessage("target is not a directory")
	}
	if !wantDir && child.IsDir() {
		return vrserrors.ErrIsDir.WithMessage("target is a directory")
	}
	if wantDir {
		empty, err := fs.dirs.IsEmpty(child)
		if err != nil {
			return err
		}
		if !empty {
			return vrserrors.ErrDirectoryNotEmpty.WithMessage("directory is not empty")
		}
	}

	if _, err := fs.mapper.ReleaseTree(child); err != nil {
		return err
	}
	if err := fs.inodeFree.Release(uint64(childID)); err != nil {
		return err
	}

	if err := fs.dirs.Remove(parent, name); err != nil {
		return err
	}
	parent.Mtime = time.Now()
	if wantDir {
		parent.Nlink--
	}
	return fs.inodes.Put(parent)
}

// Unlink removes a regular file. Fails with vrserrors.ErrIsDir if path
// names a directory.
func (fs *FS) Unlink(path string) error {
	fs.log.Infof("unlink %s", path)
	return fs.removeInode(path, false)
}

// Rmdir removes an empty directory. Fails with vrserrors.ErrDirectoryNotEmpty
// if it is not empty, resolving the open question left by
func (fs *FS) Rmdir(path string) error {
	fs.log.Infof("rmdir %s", path)
	return fs.removeInode(path, true)
}

// Open resolves path and succeeds only if it names a regular file.
func (fs *FS) Open(path string) (Stat, error) {
	fs.log.Debugf("open %s", path)
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	if rec.IsDir() {
		return Stat{}, vrserrors.ErrIsDir.WithMessage("cannot open a directory as a file")
	}
	return fs.statOf(rec), nil
}

// Opendir resolves path and succeeds only if it names a directory.
func (fs *FS) Opendir(path string) (Stat, error) {
	fs.log.Debugf("opendir %s", path)
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	if !rec.IsDir() {
		return Stat{}, vrserrors.ErrNotDir.WithMessage("not a directory")
	}
	return fs.statOf(rec), nil
}

// Releasedir is a no-op on in-memory state, matching
func (fs *FS) Releasedir(string) error {
	return nil
}

// Read copies up to len(dst) bytes from path starting at offset, and
// updates the file's atime.
func (fs *FS) Read(path string, offset uint64, dst []byte) (int, error) {
	fs.log.Debugf("read %s off=%d len=%d", path, offset, len(dst))
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return 0, err
	}
	if rec.IsDir() {
		return 0, vrserrors.ErrIsDir.WithMessage("cannot read a directory")
	}

	n, err := fs.io.Read(rec, offset, dst)
	if err != nil {
		return n, err
	}
	rec.Atime = time.Now()
	if putErr := fs.inodes.Put(rec); putErr != nil {
		return n, putErr
	}
	return n, nil
}

// Write copies src into path's data starting at offset, extending the
// file and allocating blocks as needed, and updates mtime/ctime.
func (fs *FS) Write(path string, offset uint64, src []byte) (int, error) {
	fs.log.Debugf("write %s off=%d len=%d", path, offset, len(src))
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return 0, err
	}
	if rec.IsDir() {
		return 0, vrserrors.ErrIsDir.WithMessage("cannot write to a directory")
	}

	n, err := fs.io.Write(rec, offset, src)
	now := time.Now()
	rec.Mtime = now
	rec.Ctime = now
	if putErr := fs.inodes.Put(rec); putErr != nil {
		if err == nil {
			err = putErr
		}
	}
	return n, err
}

// Truncate changes path's size, releasing or simply extending as needed.
func (fs *FS) Truncate(path string, newSize uint64) error {
	fs.log.Debugf("truncate %s to %d", path, newSize)
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return err
	}
	if rec.IsDir() {
		return vrserrors.ErrIsDir.WithMessage("cannot truncate a directory")
	}
	if err := fs.io.Truncate(rec, newSize); err != nil {
		return err
	}
	rec.Mtime = time.Now()
	rec.Ctime = rec.Mtime
	return fs.inodes.Put(rec)
}

// Readdir returns ".", "..", and every live entry of the directory at
// path.
func (fs *FS) Readdir(path string) ([]DirEntry, error) {
	fs.log.Debugf("readdir %s", path)
	rec, err := fs.walker.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !rec.IsDir() {
		return nil, vrserrors.ErrNotDir.WithMessage("not a directory")
	}

	entries, err := fs.dirs.List(rec)
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, 0, len(entries)+2)
	if rec.ID == geom.InodeID(fs.sb.RootInode) {
		// The root directory stores no "." or ".." entries on disk; both
		// name the root itself.
		out = append(out,
			DirEntry{Name: ".", Inode: rec.ID, IsDir: true},
			DirEntry{Name: "..", Inode: rec.ID, IsDir: true},
		)
	}
	for _, e := range entries {
		child, err := fs.inodes.Get(e.Inode)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{Name: e.Name, Inode: e.Inode, IsDir: child.IsDir()})
	}
	return out, nil
}

// Statfs reports volume-wide capacity and usage figures, sourced directly
// from the core's own bitmaps rather than the host filesystem (the
// core-native alternative allows).
func (fs *FS) Statfs() (FSStat, error) {
	freeData, err := fs.dataFree.CountFree()
	if err != nil {
		return FSStat{}, err
	}
	freeInodes, err := fs.inodeFree.CountFree()
	if err != nil {
		return FSStat{}, err
	}
	return FSStat{
		BlockSize:   fs.geometry.BlockSize,
		TotalBlocks: fs.geometry.MaxDataBlocks(),
		FreeBlocks:  freeData,
		TotalInodes: fs.geometry.NInodes,
		FreeInodes:  freeInodes,
	}, nil
}

// Fsck cross-checks the on-disk invariants against live state and
// returns an accumulated error describing every violation found, or nil
// if the volume is consistent.
//
// Supplements the facade's thirteen core verbs; the reference C
// implementation performs no consistency check of its own, so this has
// no single function it is grounded on beyond the invariants themselves.
func (fs *FS) Fsck() error {
	var result *multierror.Error

	freeInodeCount, err := fs.inodeFree.CountFree()
	if err != nil {
		result = multierror.Append(result, err)
	} else if freeInodeCount > uint64(fs.geometry.NInodes) {
		result = multierror.Append(result, vrserrors.ErrInvalid.WithMessage("inode free count exceeds total inode count"))
	}

	freeDataCount, err := fs.dataFree.CountFree()
	if err != nil {
		result = multierror.Append(result, err)
	} else if freeDataCount > fs.geometry.MaxDataBlocks() {
		result = multierror.Append(result, vrserrors.ErrInvalid.WithMessage("free data-block count exceeds total data-block count"))
	}

	root, err := fs.inodes.Get(geom.InodeID(fs.sb.RootInode))
	if err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}
	if !root.IsDir() {
		result = multierror.Append(result, vrserrors.ErrInvalid.WithMessage("root inode is not a directory"))
		return result.ErrorOrNil()
	}

	if err := fs.fsckDirectory("/", root); err != nil {
		if merr, ok := err.(*multierror.Error); ok {
			result = multierror.Append(result, merr.Errors...)
		} else {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// fsckDirectory recursively validates directory-size alignment and name
// uniqueness for dir and every directory beneath it. Block trees are not
// inspected.
func (fs *FS) fsckDirectory(path string, dir *inode.Record) error {
	var result *multierror.Error

	if dir.Size%uint64(fs.geometry.DentrySize) != 0 {
		result = multierror.Append(result, vrserrors.ErrInvalid.WithMessage("directory size is not a multiple of the dentry size: "+path))
	}

	entries, err := fs.dirs.List(dir)
	if err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			result = multierror.Append(result, vrserrors.ErrInvalid.WithMessage("duplicate directory entry name: "+e.Name))
		}
		seen[e.Name] = true

		if e.Name == "." || e.Name == ".." {
			continue
		}

		child, err := fs.inodes.Get(e.Inode)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if child.IsDir() {
			if err := fs.fsckDirectory(path+e.Name+"/", child); err != nil {
				if merr, ok := err.(*multierror.Error); ok {
					result = multierror.Append(result, merr.Errors...)
				}
			}
		}
	}

	return result.ErrorOrNil()
}
