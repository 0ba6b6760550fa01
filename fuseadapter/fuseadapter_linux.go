//go:build linux

package fuseadapter

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/zekeos/zekefs/vfs"
)

// node wraps a vfs.Vnode as a bazil.org/fuse node, handle and directory
// reader all at once — the operations it does not support for a given
// node type (e.g. Write on a directory) are simply never invoked by the
// fuse package, since node type dictates which of these interfaces the
// kernel driver actually calls into.
type node struct {
	v *vfs.Vnode
}

var (
	_ fusefs.Node               = node{}
	_ fusefs.NodeStringLookuper = node{}
	_ fusefs.HandleReadDirAller = node{}
	_ fusefs.HandleReader       = node{}
	_ fusefs.HandleWriter       = node{}
	_ fusefs.NodeCreater        = node{}
	_ fusefs.NodeMkdirer        = node{}
	_ fusefs.NodeRemover        = node{}
	_ fusefs.NodeRenamer        = node{}
	_ fusefs.NodeOpener         = node{}
	_ fusefs.HandleReleaser     = node{}
	_ fusefs.NodeFsyncer        = node{}
	_ fusefs.NodeSetattrer      = node{}
)

func errnoOf(err error) error {
	if err == nil {
		return nil
	}
	var e vfs.Errno
	if errors.As(err, &e) {
		switch e {
		case vfs.ENOENT:
			return fuse.ENOENT
		case vfs.EEXIST:
			return fuse.EEXIST
		case vfs.EPERM:
			return fuse.EPERM
		case vfs.ENOSYS:
			return fuse.ENOSYS
		}
	}
	return err
}

func (n node) Attr(ctx context.Context, a *fuse.Attr) error {
	st, err := n.v.Ops.Stat(ctx, n.v)
	if err != nil {
		return errnoOf(err)
	}
	a.Inode = st.Ino
	a.Size = uint64(st.Size)
	a.Mtime = st.ModTime
	a.Mode = os.FileMode(st.Mode)
	if st.Type == vfs.NodeDir {
		a.Mode |= os.ModeDir
	}
	return nil
}

func (n node) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	child, err := n.v.Ops.Lookup(ctx, n.v, name)
	if err != nil {
		return nil, errnoOf(err)
	}
	return node{v: child}, nil
}

func direntType(t vfs.NodeType) fuse.DirentType {
	if t == vfs.NodeDir {
		return fuse.DT_Dir
	}
	return fuse.DT_File
}

func (n node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var out []fuse.Dirent
	var cookie int64
	for {
		entries, next, err := n.v.Ops.Readdir(ctx, n.v, cookie)
		if err != nil {
			return nil, errnoOf(err)
		}
		for _, e := range entries {
			out = append(out, fuse.Dirent{Inode: e.Ino, Name: e.Name, Type: direntType(e.Type)})
		}
		if next == cookie || len(entries) == 0 {
			break
		}
		cookie = next
	}
	return out, nil
}

func (n node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := vfs.ORead
	if req.Flags.IsWriteOnly() || req.Flags.IsReadWrite() {
		flags |= vfs.OWrite
	}
	if err := n.v.Ops.FileOpened(ctx, n.v, flags); err != nil {
		return nil, errnoOf(err)
	}
	return n, nil
}

func (n node) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return errnoOf(n.v.Ops.FileClosed(ctx, n.v))
}

func (n node) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	nr, err := n.v.Ops.Read(ctx, n.v, buf, req.Offset)
	if err != nil {
		return errnoOf(err)
	}
	resp.Data = buf[:nr]
	return nil
}

func (n node) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	nw, err := n.v.Ops.Write(ctx, n.v, req.Data, req.Offset)
	if err != nil {
		return errnoOf(err)
	}
	resp.Size = nw
	return nil
}

func (n node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child, err := n.v.Ops.Create(ctx, n.v, req.Name, vfs.Mode(req.Mode.Perm()))
	if err != nil {
		return nil, nil, errnoOf(err)
	}
	cn := node{v: child}
	if err := child.Ops.FileOpened(ctx, child, vfs.ORead|vfs.OWrite); err != nil {
		return nil, nil, errnoOf(err)
	}
	return cn, cn, nil
}

func (n node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child, err := n.v.Ops.Mkdir(ctx, n.v, req.Name, vfs.Mode(req.Mode.Perm()))
	if err != nil {
		return nil, errnoOf(err)
	}
	return node{v: child}, nil
}

func (n node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if req.Dir {
		return errnoOf(n.v.Ops.Rmdir(ctx, n.v, req.Name))
	}
	return errnoOf(n.v.Ops.Unlink(ctx, n.v, req.Name))
}

func (n node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	nd, ok := newDir.(node)
	if !ok {
		return fuse.EIO
	}
	return errnoOf(n.v.Ops.Rename(ctx, n.v, req.OldName, nd.v, req.NewName))
}

func (n node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return errnoOf(n.v.Ops.Sync(ctx, n.v))
}

func (n node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := n.v.Ops.Truncate(ctx, n.v, int64(req.Size)); err != nil {
			return errnoOf(err)
		}
	}
	if req.Valid.Mode() {
		if err := n.v.Ops.Chmod(ctx, n.v, vfs.Mode(req.Mode.Perm())); err != nil {
			return errnoOf(err)
		}
	}
	return n.Attr(ctx, &resp.Attr)
}

// fsRoot implements fusefs.FS, handing back the tree's root node.
type fsRoot struct{ root *vfs.Vnode }

func (r fsRoot) Root() (fusefs.Node, error) { return node{v: r.root}, nil }

// Mount serves the filesystem rooted at root on mountpoint until a
// termination signal is received or the context is canceled, matching
// the signal-driven unmount loop pattern used for single-process FUSE
// servers.
func Mount(ctx context.Context, mountpoint string, root *vfs.Vnode) error {
	created, err := PrepareMountpoint(mountpoint)
	if err != nil {
		return err
	}
	if created {
		defer os.Remove(mountpoint)
	}

	c, err := fuse.Mount(mountpoint)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := fusefs.New(c, nil)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(fsRoot{root: root}) }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	case <-sigc:
	}

	if err := fuse.Unmount(mountpoint); err != nil {
		log.Printf("fuseadapter: unmount %s: %v", mountpoint, err)
		return err
	}
	return <-serveErr
}
