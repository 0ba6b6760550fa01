package vfs

import (
	"sync"
	"sync/atomic"
	"time"
)

// NodeType is the type of a vnode, analogous to the upper bits of st_mode.
type NodeType uint8

const (
	NodeFile NodeType = iota
	NodeDir
	NodeDevice
)

// Mode is a POSIX-style permission word: owner/group/other read/write/exec
// bits, checked by Access exactly as the kernel's chkperm does.
type Mode uint16

const (
	ModeIRUSR Mode = 0o400
	ModeIWUSR Mode = 0o200
	ModeIXUSR Mode = 0o100
	ModeIRGRP Mode = 0o040
	ModeIWGRP Mode = 0o020
	ModeIXGRP Mode = 0o010
	ModeIROTH Mode = 0o004
	ModeIWOTH Mode = 0o002
	ModeIXOTH Mode = 0o001
)

// Stat is the subset of file metadata Access and the fs operations need.
// A driver's Operations.Stat implementation fills this in.
type Stat struct {
	Ino     uint64
	Size    int64
	Mode    Mode
	Type    NodeType
	UID     uint32
	GID     uint32
	ModTime time.Time
}

// Superblock is the driver-owned state backing a single mounted filesystem.
// One Superblock is created per successful Driver.Mount call.
type Superblock struct {
	Driver     string
	Root       *Vnode
	Mountpoint *Vnode // vnode this filesystem is spliced onto, nil for the initial root.
	Device     string // source argument passed to Mount, kept for diagnostics.
	Unmount    func() error
}

// Vnode is a reference-counted handle to a filesystem object, generalizing
// the kernel's vnode_t. prev/next implement the mount stack: a vnode that is
// not currently a mountpoint has prev == next == itself (the self-linked
// sentinel fs.c's get_base_vnode/get_top_vnode loop on).
type Vnode struct {
	Sb   *Superblock
	Ops  Operations
	Ino  uint64
	Type NodeType

	// Data is driver-private state (the fs.c analog of v_data): a FAT
	// driver hangs its path/cluster identity off this field since the
	// generic vnode carries no filesystem-specific bytes of its own.
	Data any

	refcount int32
	mu       sync.Mutex
	prev     *Vnode
	next     *Vnode
}

// NewVnode constructs a bare vnode with refcount 1, self-linked in the mount
// stack (i.e. not currently a mountpoint).
func NewVnode(sb *Superblock, ops Operations, ino uint64, typ NodeType) *Vnode {
	v := &Vnode{Sb: sb, Ops: ops, Ino: ino, Type: typ, refcount: 1}
	v.prev = v
	v.next = v
	return v
}

// Ref increments the vnode's reference count.
func (v *Vnode) Ref() { atomic.AddInt32(&v.refcount, 1) }

// Refcount returns the current reference count.
func (v *Vnode) Refcount() int32 { return atomic.LoadInt32(&v.refcount) }

// Unref decrements the reference count and, on reaching zero, calls the
// driver's Release so it can free any backing resource (open-file lock
// table entries, cached directory state, etc).
func (v *Vnode) Unref() {
	if atomic.AddInt32(&v.refcount, -1) == 0 && v.Ops != nil {
		v.Ops.Release(v)
	}
}

// Lock/Unlock guard the prev/next splice during Mount/Unmount.
func (v *Vnode) Lock()   { v.mu.Lock() }
func (v *Vnode) Unlock() { v.mu.Unlock() }

// isMountBase reports whether v is the base of its mount stack: prev is
// self-linked, so v is not the root of a filesystem mounted onto another
// vnode. A mountpoint with something mounted on it is still a base.
func (v *Vnode) isMountBase() bool { return v.prev == v }

// TopOf follows the mount stack forward to the last (topmost) filesystem
// mounted on top of v, or returns v unchanged if nothing is mounted on it.
func TopOf(v *Vnode) *Vnode {
	for v.next != v {
		v = v.next
	}
	return v
}

// BaseOf follows the mount stack backward to the first vnode in the stack,
// i.e. the original mountpoint vnode before anything was stacked on it.
func BaseOf(v *Vnode) *Vnode {
	for v.prev != v {
		v = v.prev
	}
	return v
}
