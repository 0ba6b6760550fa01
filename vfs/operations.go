package vfs

import "context"

// OpenFlag mirrors the O_* flags a path lookup or file open carries.
type OpenFlag uint32

const (
	ORead      OpenFlag = 1 << iota // O_RDONLY's bit, checked via AccessMode below
	OWrite                          // O_WRONLY's bit
	OCreate                         // O_CREAT
	OExclusive                      // O_EXCL
	OTruncate                       // O_TRUNC
	OAppend                         // O_APPEND
	ODirectory                      // O_DIRECTORY: final component must resolve to a directory
	ONoFollow                       // O_NOFOLLOW: accepted, has no effect (see DESIGN.md Open Questions)
)

// AccessMode is the read/write/execute triple chkperm checks against a
// Stat's owner/group/other bits.
type AccessMode uint8

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
	AccessExec
)

// DirEntry is one entry returned by Operations.Readdir.
type DirEntry struct {
	Name string
	Ino  uint64
	Type NodeType
}

// Operations is the set of methods a filesystem driver implements to plug
// into the VFS, generalizing the kernel's "Exposed VFS operation table".
// Every method that can block takes a context.Context first, the way the
// FAT driver's own tracing calls already do.
type Operations interface {
	// Lookup resolves name within the directory vnode dir. It returns dir
	// itself with the bare error EDOM (namei's errCrossMountRoot, matched by
	// equality, so a wrapped EDOM is not recognised) when name is ".." and
	// dir is the root of this driver's own tree, signaling namei to cross
	// back out through the mount stack.
	Lookup(ctx context.Context, dir *Vnode, name string) (*Vnode, error)

	Create(ctx context.Context, dir *Vnode, name string, mode Mode) (*Vnode, error)
	Mknod(ctx context.Context, dir *Vnode, name string, mode Mode, typ NodeType) (*Vnode, error)
	Link(ctx context.Context, dir *Vnode, name string, target *Vnode) error
	Unlink(ctx context.Context, dir *Vnode, name string) error
	Mkdir(ctx context.Context, dir *Vnode, name string, mode Mode) (*Vnode, error)
	Rmdir(ctx context.Context, dir *Vnode, name string) error
	Rename(ctx context.Context, oldDir *Vnode, oldName string, newDir *Vnode, newName string) error

	Readdir(ctx context.Context, dir *Vnode, cookie int64) (entries []DirEntry, next int64, err error)
	Stat(ctx context.Context, v *Vnode) (Stat, error)

	Chmod(ctx context.Context, v *Vnode, mode Mode) error
	Chflags(ctx context.Context, v *Vnode, flags uint32) error
	Chown(ctx context.Context, v *Vnode, uid, gid uint32) error
	Utimes(ctx context.Context, v *Vnode, atime, mtime int64) error

	Read(ctx context.Context, v *Vnode, buf []byte, offset int64) (int, error)
	Write(ctx context.Context, v *Vnode, buf []byte, offset int64) (int, error)
	Ioctl(ctx context.Context, v *Vnode, request int, arg any) error

	Truncate(ctx context.Context, v *Vnode, size int64) error
	Sync(ctx context.Context, v *Vnode) error

	// FileOpened/FileClosed let the driver track per-open-file state (the
	// FAT driver's open-file lock table keyed by volume+dir-cluster+index).
	FileOpened(ctx context.Context, v *Vnode, flags OpenFlag) error
	FileClosed(ctx context.Context, v *Vnode) error

	Lock(ctx context.Context, v *Vnode, exclusive bool) error
	Release(v *Vnode)
}
