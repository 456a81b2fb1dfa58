// Command vrsmount is the kernel filesystem adapter: it dispatches FUSE
// upcalls against a vrsfs.FS core. Argument validation follows the
// reference C implementation's main(): fewer than two positional
// arguments, or either one starting with a leading '-', is a fatal usage
// error.
//
// Grounded on the reference C implementation (vrs_usage, main, the vrs_oper
// operations table, and the one-log-line-per-call style every vrs_*
// function follows) and on the other_examples/ jacobsa/fuse FileSystem
// interface snapshot this adapter implements.
package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/net/context"

	"github.com/jacobsa/fuse"

	"github.com/vrsfs/vrsfs"
	"github.com/vrsfs/vrsfs/geom"
	"github.com/vrsfs/vrsfs/presets"
	"github.com/vrsfs/vrsfs/vrserrors"
	"github.com/vrsfs/vrsfs/vrslog"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: vrsmount [-o opt,...] [-preset NAME] <root-dir> <mount-point>\n")
}

func main() {
	args := os.Args[1:]
	preset := "tiny"

	// Peel off any "-preset NAME" pair before applying vrs_usage's
	// positional-argument check, so adapter-specific flags don't count
	// toward the two required positionals.
	var positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-preset" && i+1 < len(args) {
			preset = args[i+1]
			i++
			continue
		}
		positional = append(positional, args[i])
	}

	if len(positional) < 2 || positional[len(positional)-2][0] == '-' || positional[len(positional)-1][0] == '-' {
		usage()
		os.Exit(1)
	}

	rootDir := positional[len(positional)-2]
	mountPoint := positional[len(positional)-1]

	geometry, err := presets.Get(preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrsmount: %s\n", err)
		os.Exit(1)
	}

	imagePath := rootDir + "/vrsfs.img"
	log := vrslog.New("info")

	image, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		log.Errorf("cannot open backing file %s: %s", imagePath, err)
		os.Exit(1)
	}
	defer image.Close()

	core, err := vrsfs.Init(image, image, geometry, log)
	if err != nil {
		log.Errorf("mount failed: %s", err)
		os.Exit(1)
	}
	defer core.Destroy()

	adapter := newAdapter(core, log)

	mfs, err := fuse.Mount(mountPoint, adapter, &fuse.MountConfig{})
	if err != nil {
		log.Errorf("fuse mount failed: %s", err)
		os.Exit(1)
	}

	if err := mfs.Join(context.Background()); err != nil {
		log.Errorf("fuse session ended with error: %s", err)
		os.Exit(1)
	}
}

// adapter bridges vrsfs.FS's path-based operation facade to the FUSE
// VFS layer's numeric-inode-ID model, mirroring the role the reference
// C implementation's vrs_oper table plays for libfuse: a thin upcall
// dispatcher, logged one line per call, that never itself implements
// filesystem semantics.
type adapter struct {
	core *vrsfs.FS
	log  vrslog.Logger

	mu         sync.Mutex
	paths      map[fuse.InodeID]string
	dirCache   map[fuse.HandleID][]vrsfs.DirEntry
	nextHandle fuse.HandleID
}

func newAdapter(core *vrsfs.FS, log vrslog.Logger) *adapter {
	a := &adapter{
		core:     core,
		log:      log,
		paths:    map[fuse.InodeID]string{fuse.RootInodeID: "/"},
		dirCache: map[fuse.HandleID][]vrsfs.DirEntry{},
	}
	return a
}

// fuseInodeID and coreInodeID convert between the core's inode ids and
// FUSE's. The core mints id 0 for the root; FUSE reserves id 1
// (fuse.RootInodeID) for the root, so every core id is offset by +1.
func fuseInodeID(core geom.InodeID) fuse.InodeID { return fuse.InodeID(core) + 1 }
func coreInodeID(id fuse.InodeID) geom.InodeID   { return geom.InodeID(id - 1) }

func (a *adapter) pathFor(id fuse.InodeID) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.paths[id]
	return p, ok
}

func (a *adapter) rememberPath(id fuse.InodeID, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths[id] = path
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func statToAttributes(st vrsfs.Stat) fuse.InodeAttributes {
	mode := os.FileMode(0o644)
	if st.IsDir {
		mode = os.ModeDir | 0o755
	}
	return fuse.InodeAttributes{
		Size:  st.Size,
		Nlink: uint64(st.Nlink),
		Mode:  mode,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
	}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var de *vrserrors.DriverError
	if errors.As(err, &de) {
		return de.Errno
	}
	return err
}

func (a *adapter) Init(ctx context.Context, req *fuse.InitRequest) (*fuse.InitResponse, error) {
	a.log.Infof("vrsmount: init")
	return &fuse.InitResponse{}, nil
}

func (a *adapter) LookUpInode(ctx context.Context, req *fuse.LookUpInodeRequest) (*fuse.LookUpInodeResponse, error) {
	parentPath, ok := a.pathFor(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}
	path := childPath(parentPath, req.Name)

	st, err := a.core.Getattr(path)
	if err != nil {
		return nil, translateError(err)
	}

	id := fuseInodeID(st.InodeID)
	a.rememberPath(id, path)

	return &fuse.LookUpInodeResponse{
		Entry: fuse.ChildInodeEntry{
			Child:      id,
			Attributes: statToAttributes(st),
		},
	}, nil
}

func (a *adapter) GetInodeAttributes(ctx context.Context, req *fuse.GetInodeAttributesRequest) (*fuse.GetInodeAttributesResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}
	st, err := a.core.Getattr(path)
	if err != nil {
		return nil, translateError(err)
	}
	return &fuse.GetInodeAttributesResponse{Attributes: statToAttributes(st)}, nil
}

func (a *adapter) SetInodeAttributes(ctx context.Context, req *fuse.SetInodeAttributesRequest) (*fuse.SetInodeAttributesResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}
	if req.Size != nil {
		if err := a.core.Truncate(path, *req.Size); err != nil {
			return nil, translateError(err)
		}
	}
	st, err := a.core.Getattr(path)
	if err != nil {
		return nil, translateError(err)
	}
	return &fuse.SetInodeAttributesResponse{Attributes: statToAttributes(st)}, nil
}

func (a *adapter) ForgetInode(ctx context.Context, req *fuse.ForgetInodeRequest) (*fuse.ForgetInodeResponse, error) {
	a.mu.Lock()
	delete(a.paths, req.ID)
	a.mu.Unlock()
	return &fuse.ForgetInodeResponse{}, nil
}

func (a *adapter) MkDir(ctx context.Context, req *fuse.MkDirRequest) (*fuse.MkDirResponse, error) {
	parentPath, ok := a.pathFor(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}
	path := childPath(parentPath, req.Name)

	st, err := a.core.Mkdir(path)
	if err != nil {
		return nil, translateError(err)
	}
	id := fuseInodeID(st.InodeID)
	a.rememberPath(id, path)

	return &fuse.MkDirResponse{Entry: fuse.ChildInodeEntry{Child: id, Attributes: statToAttributes(st)}}, nil
}

func (a *adapter) CreateFile(ctx context.Context, req *fuse.CreateFileRequest) (*fuse.CreateFileResponse, error) {
	parentPath, ok := a.pathFor(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}
	path := childPath(parentPath, req.Name)

	st, err := a.core.Create(path)
	if err != nil {
		return nil, translateError(err)
	}
	id := fuseInodeID(st.InodeID)
	a.rememberPath(id, path)

	return &fuse.CreateFileResponse{
		Entry:  fuse.ChildInodeEntry{Child: id, Attributes: statToAttributes(st)},
		Handle: a.allocHandle(),
	}, nil
}

func (a *adapter) RmDir(ctx context.Context, req *fuse.RmDirRequest) (*fuse.RmDirResponse, error) {
	parentPath, ok := a.pathFor(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}
	if err := a.core.Rmdir(childPath(parentPath, req.Name)); err != nil {
		return nil, translateError(err)
	}
	return &fuse.RmDirResponse{}, nil
}

func (a *adapter) Unlink(ctx context.Context, req *fuse.UnlinkRequest) (*fuse.UnlinkResponse, error) {
	parentPath, ok := a.pathFor(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}
	if err := a.core.Unlink(childPath(parentPath, req.Name)); err != nil {
		return nil, translateError(err)
	}
	return &fuse.UnlinkResponse{}, nil
}

func (a *adapter) allocHandle() fuse.HandleID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextHandle++
	return a.nextHandle
}

func (a *adapter) OpenDir(ctx context.Context, req *fuse.OpenDirRequest) (*fuse.OpenDirResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}
	if _, err := a.core.Opendir(path); err != nil {
		return nil, translateError(err)
	}

	handle := a.allocHandle()
	return &fuse.OpenDirResponse{Handle: handle}, nil
}

func (a *adapter) ReadDir(ctx context.Context, req *fuse.ReadDirRequest) (*fuse.ReadDirResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	a.mu.Lock()
	entries, cached := a.dirCache[req.Handle]
	a.mu.Unlock()

	if !cached {
		listed, err := a.core.Readdir(path)
		if err != nil {
			return nil, translateError(err)
		}
		entries = listed
		a.mu.Lock()
		a.dirCache[req.Handle] = entries
		a.mu.Unlock()
	}

	buf := make([]byte, 0, req.Size)
	offset := int(req.Offset)
	for offset < len(entries) && len(buf) < req.Size {
		e := entries[offset]
		rec := appendDirent(fuseInodeID(e.Inode), fuse.DirOffset(offset+1), e.Name, e.IsDir)
		if len(buf)+len(rec) > req.Size {
			break
		}
		buf = append(buf, rec...)
		offset++
	}

	return &fuse.ReadDirResponse{Data: buf}, nil
}

// direntTypeFile and direntTypeDir mirror the DT_REG/DT_DIR values
// fuse_add_direntry expects in a struct dirent's d_type byte.
const (
	direntTypeFile = 8
	direntTypeDir  = 4
)

// appendDirent renders one record in the fixed-layout format
// ReadDirResponse.Data documents: a fuse_dirent header (inode, offset,
// name length, type) immediately followed by the name and padded to an
// 8-byte boundary, matching what fuse_add_direntry/parse_dirfile expect on
// the kernel side.
func appendDirent(ino fuse.InodeID, offset fuse.DirOffset, name string, isDir bool) []byte {
	direntType := byte(direntTypeFile)
	if isDir {
		direntType = direntTypeDir
	}

	header := make([]byte, 24)
	binaryPutUint64(header[0:8], uint64(ino))
	binaryPutUint64(header[8:16], uint64(offset))
	binaryPutUint32(header[16:20], uint32(len(name)))
	header[20] = direntType

	rec := append(header, []byte(name)...)
	if pad := (8 - len(rec)%8) % 8; pad != 0 {
		rec = append(rec, make([]byte, pad)...)
	}
	return rec
}

func binaryPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func binaryPutUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (a *adapter) ReleaseDirHandle(ctx context.Context, req *fuse.ReleaseDirHandleRequest) (*fuse.ReleaseDirHandleResponse, error) {
	a.mu.Lock()
	delete(a.dirCache, req.Handle)
	a.mu.Unlock()
	return &fuse.ReleaseDirHandleResponse{}, nil
}

func (a *adapter) OpenFile(ctx context.Context, req *fuse.OpenFileRequest) (*fuse.OpenFileResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}
	if _, err := a.core.Open(path); err != nil {
		return nil, translateError(err)
	}
	return &fuse.OpenFileResponse{Handle: a.allocHandle()}, nil
}

func (a *adapter) ReadFile(ctx context.Context, req *fuse.ReadFileRequest) (*fuse.ReadFileResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	buf := make([]byte, req.Size)
	n, err := a.core.Read(path, uint64(req.Offset), buf)
	if err != nil {
		return nil, translateError(err)
	}
	return &fuse.ReadFileResponse{Data: buf[:n]}, nil
}

func (a *adapter) WriteFile(ctx context.Context, req *fuse.WriteFileRequest) (*fuse.WriteFileResponse, error) {
	path, ok := a.pathFor(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}
	if _, err := a.core.Write(path, uint64(req.Offset), req.Data); err != nil {
		return nil, translateError(err)
	}
	return &fuse.WriteFileResponse{}, nil
}

// SyncFile and FlushFile are no-ops: every vrsfs.FS.Write call persists the
// affected blocks and inode before returning, so there is nothing buffered
// in the core left to flush.
func (a *adapter) SyncFile(ctx context.Context, req *fuse.SyncFileRequest) (*fuse.SyncFileResponse, error) {
	return &fuse.SyncFileResponse{}, nil
}

func (a *adapter) FlushFile(ctx context.Context, req *fuse.FlushFileRequest) (*fuse.FlushFileResponse, error) {
	return &fuse.FlushFileResponse{}, nil
}

func (a *adapter) ReleaseFileHandle(ctx context.Context, req *fuse.ReleaseFileHandleRequest) (*fuse.ReleaseFileHandleResponse, error) {
	return &fuse.ReleaseFileHandleResponse{}, nil
}

var _ fuse.FileSystem = (*adapter)(nil)
