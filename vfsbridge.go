package fat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/zekeos/zekefs/vfs"
)

// vnodeData is the driver-private state hung off vfs.Vnode.Data (the
// Go analog of the kernel vnode's v_data): the absolute path this vnode
// denotes within the mounted volume, plus the open file/directory handle
// installed by FileOpened, if any.
type vnodeData struct {
	path string

	mu sync.Mutex
	fh *File
}

func vdata(v *vfs.Vnode) *vnodeData {
	d, _ := v.Data.(*vnodeData)
	return d
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// VFSDriver adapts a mounted *FS to vfs.Operations, bridging the FAT
// engine's path-based API (Stat/OpenFile/Mkdir/Remove/Rename) to the
// vnode-based operation table the rest of the VFS core expects.
//
// Vnodes are cached by path so repeated lookups of one location yield one
// shared vnode. Mount-stack splices and open-file state hang off the
// vnode, so handing out a fresh vnode per lookup would silently detach
// them.
type VFSDriver struct {
	fs *FS

	cacheMu sync.Mutex
	nodes   map[string]*vfs.Vnode
}

// NewVFSDriver wraps an already-mounted *FS (fs.Mount must have already
// succeeded) for use as a vfs.Namespace driver backend.
func NewVFSDriver(fs *FS) *VFSDriver {
	return &VFSDriver{fs: fs, nodes: make(map[string]*vfs.Vnode)}
}

// RootVnode constructs (or returns) the vnode for the volume's own root
// directory.
func (d *VFSDriver) RootVnode(sb *vfs.Superblock) *vfs.Vnode {
	return d.getVnode(sb, "/", vfs.NodeDir)
}

// getVnode returns the cached vnode for path with a reference taken for
// the caller, creating and caching it if absent. The cache holds no
// reference of its own; Release drops the entry when the last reference
// goes away.
func (d *VFSDriver) getVnode(sb *vfs.Superblock, p string, typ vfs.NodeType) *vfs.Vnode {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if v, ok := d.nodes[p]; ok && v.Refcount() > 0 {
		v.Ref()
		return v
	}
	v := vfs.NewVnode(sb, d, inoOf(p), typ)
	v.Data = &vnodeData{path: p}
	d.nodes[p] = v
	return v
}

// AsDriver returns a vfs.Driver registration for this already-mounted
// volume: its Mount function performs no device I/O of its own (the
// caller mounted the block device via FS.Mount beforehand) and simply
// splices in the root vnode. Source, target and parm are opaque strings
// as far as the namespace is concerned.
func (d *VFSDriver) AsDriver(name string) vfs.Driver {
	return vfs.Driver{
		Name: name,
		Mount: func(ns *vfs.Namespace, source, target, parm string, flags vfs.MountFlag) (*vfs.Superblock, error) {
			sb := &vfs.Superblock{Device: source}
			sb.Root = d.RootVnode(sb)
			return sb, nil
		},
	}
}

// translateErr maps the FAT driver's own fileResult vocabulary onto
// vfs.Errno. This is the only place the two error vocabularies meet; the
// driver enum never leaks above this seam.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	fr, ok := err.(fileResult)
	if !ok {
		return vfs.EIO
	}
	switch fr {
	case frOK:
		return nil
	case frNoFile, frNoPath:
		return vfs.ENOENT
	case frExist:
		return vfs.EEXIST
	case frInvalidName, frInvalidObject, frInvalidParameter:
		return vfs.EINVAL
	case frDenied, frWriteProtected:
		return vfs.EACCES
	case frLocked:
		return vfs.EBUSY
	case frTooManyOpenFiles:
		return vfs.EMFILE
	case frTimeout:
		return vfs.EBUSY
	case frNotReady, frDiskErr, frIntErr:
		return vfs.EIO
	case frNotEnabled, frNoFilesystem:
		return vfs.EIO
	case frUnsupported, frClosed:
		return vfs.ENOSYS
	default:
		return vfs.EIO
	}
}

// inoOf derives a stable-enough inode number from a path. FAT has no
// native inode concept; path hashing is sufficient here since the VFS
// layer only uses Ino for identity/logging, never as a lookup key.
func inoOf(p string) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis.
	for i := 0; i < len(p); i++ {
		h ^= uint64(p[i])
		h *= 1099511628211
	}
	return h
}

func (d *VFSDriver) Lookup(ctx context.Context, dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	dd := vdata(dir)
	var p string
	switch name {
	case ".", "":
		p = dd.path
	case "..":
		if dd.path == "/" {
			return dir, vfs.EDOM // crossing-root sentinel: caller climbs the mount stack.
		}
		p = parentPath(dd.path)
	default:
		p = joinPath(dd.path, name)
	}
	fno, err := d.fs.Stat(p)
	if err != nil {
		return nil, translateErr(err)
	}
	typ := vfs.NodeFile
	if fno.IsDir() {
		typ = vfs.NodeDir
	}
	return d.getVnode(dir.Sb, p, typ), nil
}

func parentPath(p string) string {
	for i := len(p) - 1; i > 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "/"
}

func (d *VFSDriver) Create(ctx context.Context, dir *vfs.Vnode, name string, mode vfs.Mode) (*vfs.Vnode, error) {
	p := joinPath(vdata(dir).path, name)
	var fp File
	if err := d.fs.OpenFile(&fp, p, ModeCreateNew|ModeWrite); err != nil {
		return nil, translateErr(err)
	}
	fp.Close()
	if _, err := d.fs.Stat(p); err != nil {
		return nil, translateErr(err)
	}
	return d.getVnode(dir.Sb, p, vfs.NodeFile), nil
}

func (d *VFSDriver) Mknod(ctx context.Context, dir *vfs.Vnode, name string, mode vfs.Mode, typ vfs.NodeType) (*vfs.Vnode, error) {
	return nil, vfs.ENOSYS // FAT has no device-node concept.
}

func (d *VFSDriver) Link(ctx context.Context, dir *vfs.Vnode, name string, target *vfs.Vnode) error {
	return vfs.ENOSYS // No hard links across or within a FAT volume (Non-goal).
}

func (d *VFSDriver) Unlink(ctx context.Context, dir *vfs.Vnode, name string) error {
	return translateErr(d.fs.Remove(joinPath(vdata(dir).path, name)))
}

func (d *VFSDriver) Mkdir(ctx context.Context, dir *vfs.Vnode, name string, mode vfs.Mode) (*vfs.Vnode, error) {
	p := joinPath(vdata(dir).path, name)
	if err := d.fs.Mkdir(p); err != nil {
		return nil, translateErr(err)
	}
	if _, err := d.fs.Stat(p); err != nil {
		return nil, translateErr(err)
	}
	return d.getVnode(dir.Sb, p, vfs.NodeDir), nil
}

func (d *VFSDriver) Rmdir(ctx context.Context, dir *vfs.Vnode, name string) error {
	return translateErr(d.fs.Remove(joinPath(vdata(dir).path, name)))
}

func (d *VFSDriver) Rename(ctx context.Context, oldDir *vfs.Vnode, oldName string, newDir *vfs.Vnode, newName string) error {
	oldPath := joinPath(vdata(oldDir).path, oldName)
	newPath := joinPath(vdata(newDir).path, newName)
	if err := translateErr(d.fs.Rename(oldPath, newPath)); err != nil {
		return err
	}
	// Re-key cached vnodes living at or under the moved path so their
	// identity follows the rename.
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	prefix := oldPath + "/"
	for key, v := range d.nodes {
		if key != oldPath && !strings.HasPrefix(key, prefix) {
			continue
		}
		moved := newPath + key[len(oldPath):]
		delete(d.nodes, key)
		d.nodes[moved] = v
		if dd := vdata(v); dd != nil {
			dd.path = moved
		}
	}
	return nil
}

func (d *VFSDriver) Readdir(ctx context.Context, dir *vfs.Vnode, cookie int64) ([]vfs.DirEntry, int64, error) {
	var dp Dir
	if err := d.fs.OpenDir(&dp, vdata(dir).path); err != nil {
		return nil, 0, translateErr(err)
	}
	const pageSize = 64
	entries := make([]vfs.DirEntry, 0, pageSize)
	idx := int64(0)
	next := cookie
	err := dp.ForEachFile(func(fi *FileInfo) error {
		defer func() { idx++ }()
		if idx < cookie {
			return nil
		}
		if len(entries) >= pageSize {
			return errStopIteration
		}
		typ := vfs.NodeFile
		if fi.IsDir() {
			typ = vfs.NodeDir
		}
		name := fi.Name()
		entries = append(entries, vfs.DirEntry{Name: name, Ino: inoOf(joinPath(vdata(dir).path, name)), Type: typ})
		next = idx + 1
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, 0, translateErr(err)
	}
	return entries, next, nil
}

// errStopIteration is a private sentinel used only to break out of
// ForEachFile's callback loop once a page is full; it never escapes
// Readdir.
var errStopIteration = stopIteration{}

type stopIteration struct{}

func (stopIteration) Error() string { return "fat: page full" }

func (d *VFSDriver) Stat(ctx context.Context, v *vfs.Vnode) (vfs.Stat, error) {
	fno, err := d.fs.Stat(vdata(v).path)
	if err != nil {
		return vfs.Stat{}, translateErr(err)
	}
	mode := vfs.Mode(0o444)
	typ := vfs.NodeFile
	if fno.IsDir() {
		typ = vfs.NodeDir
		mode = 0o555
	} else if !fno.readOnly() {
		mode |= 0o222
	}
	return vfs.Stat{
		Ino:     inoOf(vdata(v).path),
		Size:    fno.Size(),
		Mode:    mode,
		Type:    typ,
		ModTime: fno.ModTime(),
	}, nil
}

func (d *VFSDriver) Chmod(ctx context.Context, v *vfs.Vnode, mode vfs.Mode) error {
	ro := mode&0o222 == 0
	return translateErr(d.fs.setReadOnly(vdata(v).path, ro))
}

func (d *VFSDriver) Chflags(ctx context.Context, v *vfs.Vnode, flags uint32) error {
	return vfs.ENOSYS // FAT directory entries carry no BSD-style flags word.
}

func (d *VFSDriver) Chown(ctx context.Context, v *vfs.Vnode, uid, gid uint32) error {
	return vfs.ENOSYS // FAT directory entries carry no uid/gid.
}

func (d *VFSDriver) Utimes(ctx context.Context, v *vfs.Vnode, atime, mtime int64) error {
	return vfs.ENOSYS // times are stamped automatically by sync; arbitrary utime is unimplemented.
}

func (d *VFSDriver) open(v *vfs.Vnode, flags vfs.OpenFlag) error {
	dd := vdata(v)
	dd.mu.Lock()
	defer dd.mu.Unlock()
	if dd.fh != nil {
		return nil
	}
	var mode Mode
	if flags&vfs.OWrite != 0 {
		mode |= ModeWrite
	}
	if flags&vfs.ORead != 0 || mode == 0 {
		mode |= ModeRead
	}
	openMode := mode
	switch {
	case flags&vfs.OCreate != 0 && flags&vfs.OExclusive != 0:
		openMode |= ModeCreateNew
	case flags&vfs.OTruncate != 0:
		openMode |= ModeCreateAlways
	default:
		openMode |= ModeOpenExisting
	}
	fh := new(File)
	err := d.fs.OpenFile(fh, dd.path, openMode)
	if err != nil && flags&vfs.OCreate != 0 && openMode&ModeCreateNew == 0 && openMode&ModeCreateAlways == 0 {
		// Plain O_CREAT (create-if-missing, open-if-present) has no direct
		// driver mode; retry as a fresh create once OpenExisting fails.
		fh = new(File)
		err = d.fs.OpenFile(fh, dd.path, mode|ModeCreateNew)
	}
	if err != nil {
		return translateErr(err)
	}
	dd.fh = fh
	return nil
}

func (d *VFSDriver) Read(ctx context.Context, v *vfs.Vnode, buf []byte, offset int64) (int, error) {
	dd := vdata(v)
	if err := d.open(v, vfs.ORead); err != nil {
		return 0, err
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()
	if _, err := dd.fh.Seek(offset); err != nil {
		return 0, translateErr(err)
	}
	n, err := dd.fh.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, translateErr(err)
}

func (d *VFSDriver) Write(ctx context.Context, v *vfs.Vnode, buf []byte, offset int64) (int, error) {
	dd := vdata(v)
	if err := d.open(v, vfs.OWrite); err != nil {
		return 0, err
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()
	if _, err := dd.fh.Seek(offset); err != nil {
		return 0, translateErr(err)
	}
	n, err := dd.fh.Write(buf)
	return n, translateErr(err)
}

func (d *VFSDriver) Ioctl(ctx context.Context, v *vfs.Vnode, request int, arg any) error {
	return vfs.ENOSYS
}

func (d *VFSDriver) Truncate(ctx context.Context, v *vfs.Vnode, size int64) error {
	dd := vdata(v)
	if err := d.open(v, vfs.OWrite); err != nil {
		return err
	}
	dd.mu.Lock()
	defer dd.mu.Unlock()
	return translateErr(dd.fh.Truncate(size))
}

func (d *VFSDriver) Sync(ctx context.Context, v *vfs.Vnode) error {
	dd := vdata(v)
	dd.mu.Lock()
	defer dd.mu.Unlock()
	if dd.fh == nil {
		return nil
	}
	return translateErr(dd.fh.Sync())
}

func (d *VFSDriver) FileOpened(ctx context.Context, v *vfs.Vnode, flags vfs.OpenFlag) error {
	if v.Type == vfs.NodeDir {
		return nil // directories are opened per-Readdir call, not held open.
	}
	return d.open(v, flags)
}

func (d *VFSDriver) FileClosed(ctx context.Context, v *vfs.Vnode) error {
	dd := vdata(v)
	dd.mu.Lock()
	defer dd.mu.Unlock()
	if dd.fh == nil {
		return nil
	}
	err := dd.fh.Close()
	dd.fh = nil
	return translateErr(err)
}

func (d *VFSDriver) Lock(ctx context.Context, v *vfs.Vnode, exclusive bool) error {
	return nil // the FAT driver's own open-file lock table already enforces this at open time.
}

func (d *VFSDriver) Release(v *vfs.Vnode) {
	dd := vdata(v)
	d.cacheMu.Lock()
	if cached, ok := d.nodes[dd.path]; ok && cached == v {
		delete(d.nodes, dd.path)
	}
	d.cacheMu.Unlock()
	dd.mu.Lock()
	fh := dd.fh
	dd.fh = nil
	dd.mu.Unlock()
	if fh != nil {
		fh.Close()
	}
}
