package vfs

import (
	"context"
	"sync"
	"sync/atomic"
)

// FDFlag carries per-descriptor disposition bits.
type FDFlag uint8

const (
	FDCloseOnExec FDFlag = 1 << iota
)

// FileDescriptor is one entry in a Process's file table, generalizing the
// kernel's file_t: a vnode, the open flags it was opened with, a seek
// position, and a refcount shared across dup()'d descriptors pointing at
// the same table slot.
type FileDescriptor struct {
	Vnode    *Vnode
	Flags    OpenFlag
	FDFlags  FDFlag
	refcount int32
	mu       sync.Mutex
	pos      int64
}

func (fd *FileDescriptor) ref(delta int32) int32 { return atomic.AddInt32(&fd.refcount, delta) }

// Seek returns the current seek position.
func (fd *FileDescriptor) Seek() int64 {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.pos
}

// SetSeek sets the seek position.
func (fd *FileDescriptor) SetSeek(pos int64) {
	fd.mu.Lock()
	fd.pos = pos
	fd.mu.Unlock()
}

// Process owns a file descriptor table, root/cwd vnodes, and credentials,
// generalizing the kernel's proc_info+files_t pair.
type Process struct {
	EUID, EGID uint32
	Umask      Mode

	mu    sync.Mutex
	files []*FileDescriptor
	root  *Vnode
	cwd   *Vnode
}

// NewProcess constructs a process with the given root/cwd (both typically
// the namespace's root on process creation) and an initial file table size.
func NewProcess(root, cwd *Vnode, nfiles int) *Process {
	return &Process{root: root, cwd: cwd, files: make([]*FileDescriptor, nfiles)}
}

func (p *Process) Root() *Vnode { p.mu.Lock(); defer p.mu.Unlock(); return p.root }
func (p *Process) Cwd() *Vnode  { p.mu.Lock(); defer p.mu.Unlock(); return p.cwd }

// SetCwd replaces the current working directory vnode, taking ownership of
// the caller's reference.
func (p *Process) SetCwd(v *Vnode) {
	p.mu.Lock()
	old := p.cwd
	p.cwd = v
	p.mu.Unlock()
	if old != nil {
		old.Unref()
	}
}

// AllocFD installs fd in the first free slot at index >= start. The table
// capacity is fixed at process construction; a full table reports EMFILE.
func (p *Process) AllocFD(start int, fd *FileDescriptor) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start < 0 {
		return -1, EINVAL
	}
	for i := start; i < len(p.files); i++ {
		if p.files[i] == nil {
			p.files[i] = fd
			return i, nil
		}
	}
	return -1, EMFILE
}

// RefFD adjusts fd n's refcount by delta and, matching fs_fildes_ref, tears
// the slot down (releasing the vnode) once the count reaches zero or below.
func (p *Process) RefFD(n int, delta int32) (*FileDescriptor, error) {
	p.mu.Lock()
	if n < 0 || n >= len(p.files) || p.files[n] == nil {
		p.mu.Unlock()
		return nil, EBADF
	}
	fd := p.files[n]
	p.mu.Unlock()

	newCount := fd.ref(delta)
	if newCount <= 0 {
		p.mu.Lock()
		p.files[n] = nil
		p.mu.Unlock()
		if fd.Vnode != nil {
			fd.Vnode.Ops.FileClosed(context.Background(), fd.Vnode)
			fd.Vnode.Unref()
		}
		return nil, nil
	}
	return fd, nil
}

// Close closes file descriptor n, matching fs_fildes_close's
// ref-then-release-twice pattern (drop the caller's transient ref, then
// the table's own holding ref).
func (p *Process) Close(n int) error {
	fd, err := p.RefFD(n, 1)
	if err != nil {
		return err
	}
	if fd == nil {
		return EBADF
	}
	_, err = p.RefFD(n, -2)
	return err
}

// ReadAt/WriteAt dispatch through the vnode's Operations, enforcing the
// access-mode bit the descriptor was opened with. A successful Write that
// reports zero bytes written is surfaced as EIO rather than a silent
// no-op. This aliases a device-level EOF with a zero-length success; both
// surface as EIO, which callers should keep in mind when writing nothing.
func (p *Process) ReadAt(n int, buf []byte) (int, error) {
	fd, err := p.fdFor(n, ORead)
	if err != nil {
		return 0, err
	}
	defer p.RefFD(n, -1)
	read, err := fd.Vnode.Ops.Read(context.Background(), fd.Vnode, buf, fd.Seek())
	if err == nil {
		fd.SetSeek(fd.Seek() + int64(read))
	}
	return read, err
}

func (p *Process) WriteAt(n int, buf []byte) (int, error) {
	fd, err := p.fdFor(n, OWrite)
	if err != nil {
		return 0, err
	}
	defer p.RefFD(n, -1)
	written, err := fd.Vnode.Ops.Write(context.Background(), fd.Vnode, buf, fd.Seek())
	if err == nil && written == 0 {
		err = EIO
	}
	if err == nil {
		fd.SetSeek(fd.Seek() + int64(written))
	}
	return written, err
}

func (p *Process) fdFor(n int, want OpenFlag) (*FileDescriptor, error) {
	fd, err := p.RefFD(n, 1)
	if err != nil {
		return nil, err
	}
	if fd == nil || fd.Vnode == nil || fd.Flags&want == 0 {
		if fd != nil {
			p.RefFD(n, -1)
		}
		return nil, EBADF
	}
	return fd, nil
}
