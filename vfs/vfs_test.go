package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode backs the in-memory test filesystem: a tree of directories and
// flat byte contents, addressed by the vnode's Data pointer.
type fakeNode struct {
	name     string
	dir      bool
	content  []byte
	children map[string]*fakeNode
	stat     Stat
}

func newFakeDir(name string) *fakeNode {
	return &fakeNode{name: name, dir: true, children: map[string]*fakeNode{},
		stat: Stat{Mode: 0o755, Type: NodeDir}}
}

func (n *fakeNode) addFile(name string, content []byte, mode Mode) *fakeNode {
	f := &fakeNode{name: name, content: content, stat: Stat{Mode: mode, Size: int64(len(content))}}
	n.children[name] = f
	return f
}

func (n *fakeNode) addDir(name string) *fakeNode {
	d := newFakeDir(name)
	n.children[name] = d
	return d
}

// fakeOps implements Operations over a fakeNode tree, caching one vnode
// per node so lookups are pointer-stable the way a real driver's vnode
// cache makes them.
type fakeOps struct {
	unsupportedOps
	root     *fakeNode
	sb       *Superblock
	vnodes   map[*fakeNode]*Vnode
	released []*Vnode
}

func newFakeFS(root *fakeNode) *fakeOps {
	ops := &fakeOps{root: root, vnodes: map[*fakeNode]*Vnode{}}
	ops.sb = &Superblock{Device: "fake"}
	ops.sb.Root = ops.vnodeFor(root)
	return ops
}

func (f *fakeOps) vnodeFor(n *fakeNode) *Vnode {
	if v, ok := f.vnodes[n]; ok && v.Refcount() > 0 {
		v.Ref()
		return v
	}
	typ := NodeFile
	if n.dir {
		typ = NodeDir
	}
	v := NewVnode(f.sb, f, uint64(len(f.vnodes)+1), typ)
	v.Data = n
	f.vnodes[n] = v
	return v
}

func (f *fakeOps) node(v *Vnode) *fakeNode { n, _ := v.Data.(*fakeNode); return n }

func (f *fakeOps) Lookup(ctx context.Context, dir *Vnode, name string) (*Vnode, error) {
	n := f.node(dir)
	if n == nil || !n.dir {
		return nil, ENOTDIR
	}
	if name == ".." {
		if n == f.root {
			return dir, EDOM
		}
		// Nodes carry no parent pointer: search the tree for the holder.
		stack := []*fakeNode{f.root}
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, c := range p.children {
				if c == n {
					return f.vnodeFor(p), nil
				}
				if c.dir {
					stack = append(stack, c)
				}
			}
		}
		return nil, ENOENT
	}
	child, ok := n.children[name]
	if !ok {
		return nil, ENOENT
	}
	return f.vnodeFor(child), nil
}

func (f *fakeOps) Stat(ctx context.Context, v *Vnode) (Stat, error) {
	n := f.node(v)
	if n == nil {
		return Stat{}, EINVAL
	}
	st := n.stat
	st.Ino = v.Ino
	return st, nil
}

func (f *fakeOps) Read(ctx context.Context, v *Vnode, buf []byte, offset int64) (int, error) {
	n := f.node(v)
	if n == nil || n.dir {
		return 0, EISDIR
	}
	if offset >= int64(len(n.content)) {
		return 0, nil
	}
	return copy(buf, n.content[offset:]), nil
}

func (f *fakeOps) Write(ctx context.Context, v *Vnode, buf []byte, offset int64) (int, error) {
	n := f.node(v)
	if n == nil || n.dir {
		return 0, EISDIR
	}
	for int64(len(n.content)) < offset+int64(len(buf)) {
		n.content = append(n.content, 0)
	}
	copy(n.content[offset:], buf)
	n.stat.Size = int64(len(n.content))
	return len(buf), nil
}

func (f *fakeOps) Release(v *Vnode) {
	f.released = append(f.released, v)
	if n := f.node(v); n != nil && f.vnodes[n] == v {
		delete(f.vnodes, n)
	}
}

func (f *fakeOps) FileOpened(ctx context.Context, v *Vnode, flags OpenFlag) error { return nil }
func (f *fakeOps) FileClosed(ctx context.Context, v *Vnode) error                 { return nil }

// unsupportedOps answers ENOSYS for the parts of the operation table the
// fake filesystem does not model.
type unsupportedOps struct{}

func (unsupportedOps) Create(context.Context, *Vnode, string, Mode) (*Vnode, error) {
	return nil, ENOSYS
}
func (unsupportedOps) Mknod(context.Context, *Vnode, string, Mode, NodeType) (*Vnode, error) {
	return nil, ENOSYS
}
func (unsupportedOps) Link(context.Context, *Vnode, string, *Vnode) error { return ENOSYS }
func (unsupportedOps) Unlink(context.Context, *Vnode, string) error       { return ENOSYS }
func (unsupportedOps) Mkdir(context.Context, *Vnode, string, Mode) (*Vnode, error) {
	return nil, ENOSYS
}
func (unsupportedOps) Rmdir(context.Context, *Vnode, string) error { return ENOSYS }
func (unsupportedOps) Rename(context.Context, *Vnode, string, *Vnode, string) error {
	return ENOSYS
}
func (unsupportedOps) Readdir(context.Context, *Vnode, int64) ([]DirEntry, int64, error) {
	return nil, 0, ENOSYS
}
func (unsupportedOps) Chmod(context.Context, *Vnode, Mode) error           { return ENOSYS }
func (unsupportedOps) Chflags(context.Context, *Vnode, uint32) error       { return ENOSYS }
func (unsupportedOps) Chown(context.Context, *Vnode, uint32, uint32) error { return ENOSYS }
func (unsupportedOps) Utimes(context.Context, *Vnode, int64, int64) error  { return ENOSYS }
func (unsupportedOps) Ioctl(context.Context, *Vnode, int, any) error       { return ENOSYS }
func (unsupportedOps) Truncate(context.Context, *Vnode, int64) error       { return ENOSYS }
func (unsupportedOps) Sync(context.Context, *Vnode) error                  { return ENOSYS }
func (unsupportedOps) Lock(context.Context, *Vnode, bool) error            { return ENOSYS }

// buildTestNamespace returns a namespace whose root fake fs carries /etc,
// /etc/passwd, /mnt and /data.txt.
func buildTestNamespace(t *testing.T) (*Namespace, *Process, *fakeOps) {
	t.Helper()
	root := newFakeDir("/")
	etc := root.addDir("etc")
	etc.addFile("passwd", []byte("root:0"), 0o644)
	root.addDir("mnt")
	root.addFile("data.txt", []byte("data"), 0o666)
	fs := newFakeFS(root)
	ns := NewNamespace(fs.sb.Root, nil)
	proc := NewProcess(fs.sb.Root, fs.sb.Root, 8)
	return ns, proc, fs
}

func TestRegistryLastWins(t *testing.T) {
	ns := NewNamespace(nil, nil)
	first := Driver{Name: "dup"}
	second := Driver{Name: "dup", Mount: func(*Namespace, string, string, string, MountFlag) (*Superblock, error) {
		return nil, EIO
	}}
	ns.Register(first)
	ns.Register(second)

	// The most recent registration wins ByName ties...
	d, ok := ns.ByName("dup")
	require.True(t, ok)
	assert.NotNil(t, d.Mount)
	// ...and iteration preserves registration order with duplicates intact.
	assert.Len(t, ns.Drivers(), 2)
}

func TestMountStackSplice(t *testing.T) {
	ns, proc, _ := buildTestNamespace(t)

	inner := newFakeDir("/")
	inner.addFile("hello", []byte("hi"), 0o644)
	innerFS := newFakeFS(inner)
	ns.Register(Driver{Name: "fakefs", Mount: func(_ *Namespace, source, target, parm string, flags MountFlag) (*Superblock, error) {
		return innerFS.sb, nil
	}})

	mnt, err := ns.Namei(proc, "/mnt", ODirectory)
	require.NoError(t, err)

	sb, err := ns.Mount(mnt, "fakefs", "dev0", "", 0)
	require.NoError(t, err)
	require.Same(t, innerFS.sb, sb)
	assert.Equal(t, "fakefs", sb.Driver)
	assert.Same(t, mnt, sb.Mountpoint)

	// Splice invariants: forward and backward edges are inverses, the new
	// root is the top of the stack at /mnt, and the chain terminates.
	root := sb.Root
	assert.Same(t, root, mnt.next)
	assert.Same(t, mnt, root.prev)
	assert.Same(t, root, root.next)
	assert.Same(t, root, TopOf(mnt))
	assert.Same(t, mnt, BaseOf(root))

	// Resolution descends into the mounted fs.
	v, err := ns.Namei(proc, "/mnt/hello", 0)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := v.Ops.Read(context.Background(), v, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
	v.Unref()

	// "/mnt/.." comes back out to the same vnode as "/".
	up, err := ns.Namei(proc, "/mnt/..", 0)
	require.NoError(t, err)
	slash, err := ns.Namei(proc, "/", 0)
	require.NoError(t, err)
	assert.Same(t, slash, up)
	up.Unref()
	slash.Unref()

	// Unmount restores the self-links.
	require.NoError(t, ns.Unmount(mnt))
	assert.Same(t, mnt, mnt.next)
	assert.Same(t, mnt, mnt.prev)
	assert.Same(t, root, root.prev)
	assert.Nil(t, sb.Mountpoint)
	_, err = ns.Namei(proc, "/mnt/hello", 0)
	assert.ErrorIs(t, err, ENOENT)

	mnt.Unref()
}

func TestMountStacksOnTop(t *testing.T) {
	ns, proc, _ := buildTestNamespace(t)

	mkfs := func() *fakeOps {
		d := newFakeDir("/")
		d.addFile("tag", nil, 0o644)
		return newFakeFS(d)
	}
	a, b := mkfs(), mkfs()
	ns.Register(Driver{Name: "a", Mount: func(_ *Namespace, _, _, _ string, _ MountFlag) (*Superblock, error) { return a.sb, nil }})
	ns.Register(Driver{Name: "b", Mount: func(_ *Namespace, _, _, _ string, _ MountFlag) (*Superblock, error) { return b.sb, nil }})

	mnt, err := ns.Namei(proc, "/mnt", 0)
	require.NoError(t, err)
	_, err = ns.Mount(mnt, "a", "", "", 0)
	require.NoError(t, err)
	sbB, err := ns.Mount(mnt, "b", "", "", 0)
	require.NoError(t, err)

	// The second mount landed on top of the first, not beside it.
	assert.Same(t, a.sb.Root, sbB.Mountpoint)
	assert.Same(t, b.sb.Root, TopOf(mnt))
	assert.Same(t, mnt, BaseOf(b.sb.Root))

	// Unmounting the middle first is refused while b sits on top of it.
	assert.ErrorIs(t, ns.Unmount(mnt), EBUSY)
	require.NoError(t, ns.Unmount(a.sb.Root))
	assert.Same(t, a.sb.Root, TopOf(mnt))
	require.NoError(t, ns.Unmount(mnt))
	assert.Same(t, mnt, TopOf(mnt))
	mnt.Unref()
}

func TestUnmountRefusals(t *testing.T) {
	ns, proc, _ := buildTestNamespace(t)
	assert.ErrorIs(t, ns.Unmount(nil), EINVAL)
	assert.ErrorIs(t, ns.Unmount(ns.Root()), EBUSY)
	v, err := ns.Namei(proc, "/etc", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, ns.Unmount(v), EINVAL) // a plain directory, not a mountpoint
	v.Unref()
}

func TestMountUnknownDriver(t *testing.T) {
	ns, proc, _ := buildTestNamespace(t)
	mnt, err := ns.Namei(proc, "/mnt", 0)
	require.NoError(t, err)
	defer mnt.Unref()
	_, err = ns.Mount(mnt, "nope", "", "", 0)
	assert.ErrorIs(t, err, ENOENT)
}

func TestNameiBasics(t *testing.T) {
	ns, proc, _ := buildTestNamespace(t)

	v, err := ns.Namei(proc, "/etc/passwd", 0)
	require.NoError(t, err)
	st, err := v.Ops.Stat(context.Background(), v)
	require.NoError(t, err)
	assert.EqualValues(t, 6, st.Size)
	v.Unref()

	// "." components are skipped.
	v, err = ns.Namei(proc, "/etc/./passwd", 0)
	require.NoError(t, err)
	v.Unref()

	_, err = ns.Namei(proc, "/etc/shadow", 0)
	assert.ErrorIs(t, err, ENOENT)

	// A trailing separator demands a directory.
	_, err = ns.Namei(proc, "/data.txt/", 0)
	assert.ErrorIs(t, err, ENOTDIR)
	_, err = ns.Namei(proc, "/data.txt", ODirectory)
	assert.ErrorIs(t, err, ENOTDIR)

	// Empty path is invalid; "/" resolves to the root.
	_, err = ns.Namei(proc, "", 0)
	assert.ErrorIs(t, err, EINVAL)
	v, err = ns.Namei(proc, "/", 0)
	require.NoError(t, err)
	assert.Same(t, ns.Root(), v)
	v.Unref()

	// ".." at the namespace root stays at the root.
	v, err = ns.Namei(proc, "/..", 0)
	require.NoError(t, err)
	assert.Same(t, ns.Root(), v)
	v.Unref()
}

func TestNameiRelative(t *testing.T) {
	ns, proc, fs := buildTestNamespace(t)
	etc, err := ns.Namei(proc, "/etc", ODirectory)
	require.NoError(t, err)
	proc.SetCwd(etc) // Ownership of the ref moves to the process.

	v, err := ns.Namei(proc, "passwd", 0)
	require.NoError(t, err)
	assert.Same(t, fs.vnodes[fs.root.children["etc"].children["passwd"]], v)
	v.Unref()
}

func TestVnodeRefcountRelease(t *testing.T) {
	_, _, fs := buildTestNamespace(t)
	n := fs.root.children["etc"]
	v1 := fs.vnodeFor(n)
	v2 := fs.vnodeFor(n)
	assert.Same(t, v1, v2)
	assert.EqualValues(t, 2, v1.Refcount())
	v1.Unref()
	assert.Empty(t, fs.released)
	v2.Unref()
	require.Len(t, fs.released, 1)
	assert.Same(t, v1, fs.released[0])

	// A fresh lookup after release mints a new vnode.
	v3 := fs.vnodeFor(n)
	assert.NotSame(t, v1, v3)
	v3.Unref()
}
