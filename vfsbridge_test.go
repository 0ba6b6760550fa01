package fat

import (
	"bytes"
	"context"
	"testing"

	"github.com/zekeos/zekefs/vfs"
)

// newTestNamespace mounts a FAT volume as the namespace root and returns
// the namespace plus a process rooted in it.
func newTestNamespace(t *testing.T, fsys *FS) (*vfs.Namespace, *vfs.Process) {
	t.Helper()
	driver := NewVFSDriver(fsys)
	sb := &vfs.Superblock{Device: "test"}
	sb.Root = driver.RootVnode(sb)
	ns := vfs.NewNamespace(sb.Root, nil)
	proc := vfs.NewProcess(sb.Root, sb.Root, 16)
	return ns, proc
}

func TestNameiResolvesThroughFAT(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.Mkdir("/DOCS"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, fsys, "/DOCS/NOTES.TXT", []byte("notes"))
	ns, proc := newTestNamespace(t, fsys)

	v, err := ns.Namei(proc, "/DOCS/NOTES.TXT", 0)
	if err != nil {
		t.Fatalf("namei: %v", err)
	}
	defer v.Unref()

	st, err := v.Ops.Stat(context.Background(), v)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size != 5 || st.Type != vfs.NodeFile {
		t.Fatalf("stat = %+v", st)
	}

	buf := make([]byte, 16)
	n, err := v.Ops.Read(context.Background(), v, buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "notes" {
		t.Fatalf("read %q", buf[:n])
	}
	if err := v.Ops.FileClosed(context.Background(), v); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNameiDirectoryChecks(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	writeFile(t, fsys, "/PLAIN.TXT", []byte("p"))
	ns, proc := newTestNamespace(t, fsys)

	if _, err := ns.Namei(proc, "/PLAIN.TXT/", 0); err != vfs.ENOTDIR {
		t.Fatalf("trailing slash on file: %v, want ENOTDIR", err)
	}
	if _, err := ns.Namei(proc, "/PLAIN.TXT", vfs.ODirectory); err != vfs.ENOTDIR {
		t.Fatalf("ODirectory on file: %v, want ENOTDIR", err)
	}
	if _, err := ns.Namei(proc, "/ABSENT", 0); err != vfs.ENOENT {
		t.Fatalf("missing path: %v, want ENOENT", err)
	}
	// O_NOFOLLOW is accepted and changes nothing.
	v, err := ns.Namei(proc, "/PLAIN.TXT", vfs.ONoFollow)
	if err != nil {
		t.Fatalf("ONoFollow: %v", err)
	}
	v.Unref()
}

// TestCrossMountDotDot mounts a second FAT volume on /MNT and resolves
// /MNT/.. back to the outer root.
func TestCrossMountDotDot(t *testing.T) {
	outer, _ := initTestFS(t, smallFAT16)
	if err := outer.Mkdir("/MNT"); err != nil {
		t.Fatal(err)
	}
	inner, _ := initTestFS(t, smallFAT12)
	writeFile(t, inner, "/INNER.TXT", []byte("inner"))

	ns, proc := newTestNamespace(t, outer)
	ns.Register(NewVFSDriver(inner).AsDriver("fatfs"))

	mnt, err := ns.Namei(proc, "/MNT", vfs.ODirectory)
	if err != nil {
		t.Fatalf("resolve mountpoint: %v", err)
	}
	if _, err := ns.Mount(mnt, "fatfs", "innerdev", "", 0); err != nil {
		t.Fatalf("mount: %v", err)
	}

	// Descending lands inside the inner volume.
	v, err := ns.Namei(proc, "/MNT/INNER.TXT", 0)
	if err != nil {
		t.Fatalf("namei into mount: %v", err)
	}
	buf := make([]byte, 8)
	n, err := v.Ops.Read(context.Background(), v, buf, 0)
	if err != nil || !bytes.Equal(buf[:n], []byte("inner")) {
		t.Fatalf("read through mount: %q, %v", buf[:n], err)
	}
	v.Ops.FileClosed(context.Background(), v)
	v.Unref()

	// "/MNT/.." resolves to the same vnode as "/".
	up, err := ns.Namei(proc, "/MNT/..", 0)
	if err != nil {
		t.Fatalf("namei /MNT/..: %v", err)
	}
	root, err := ns.Namei(proc, "/", 0)
	if err != nil {
		t.Fatal(err)
	}
	if up != root {
		t.Fatalf("/MNT/.. resolved to %p, root is %p", up, root)
	}
	up.Unref()
	root.Unref()

	// After unmount the mountpoint is a plain directory again.
	if err := ns.Unmount(mnt); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if _, err := ns.Namei(proc, "/MNT/INNER.TXT", 0); err != vfs.ENOENT {
		t.Fatalf("inner file visible after unmount: %v", err)
	}
	mnt.Unref()
}

func TestOperationTableMutations(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	ns, proc := newTestNamespace(t, fsys)
	ctx := context.Background()

	root, err := ns.Namei(proc, "/", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer root.Unref()

	d, err := root.Ops.Mkdir(ctx, root, "WORK", 0o755)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := d.Ops.Create(ctx, d, "A.TXT", 0o644)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.Ops.Write(ctx, f, []byte("abc"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Ops.Sync(ctx, f); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := f.Ops.FileClosed(ctx, f); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, _, err := d.Ops.Readdir(ctx, d, 0)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "A.TXT" {
		t.Fatalf("readdir = %+v", entries)
	}

	if err := d.Ops.Rename(ctx, d, "A.TXT", d, "B.TXT"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := d.Ops.Unlink(ctx, d, "B.TXT"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := root.Ops.Rmdir(ctx, root, "WORK"); err != nil {
		t.Fatalf("rmdir: %v", err)
	}

	// Unsupported concepts surface ENOSYS, not silent success.
	if _, err := root.Ops.Mknod(ctx, root, "dev", 0, vfs.NodeDevice); err != vfs.ENOSYS {
		t.Fatalf("mknod: %v", err)
	}
	if err := root.Ops.Link(ctx, root, "ln", root); err != vfs.ENOSYS {
		t.Fatalf("link: %v", err)
	}
	if err := root.Ops.Chown(ctx, root, 1, 1); err != vfs.ENOSYS {
		t.Fatalf("chown: %v", err)
	}

	f.Unref()
	d.Unref()
}

func TestChmodTogglesReadOnlyBit(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	writeFile(t, fsys, "/RO.TXT", []byte("ro"))
	ns, proc := newTestNamespace(t, fsys)
	ctx := context.Background()

	v, err := ns.Namei(proc, "/RO.TXT", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Unref()
	if err := v.Ops.Chmod(ctx, v, 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	fno, err := fsys.Stat("/RO.TXT")
	if err != nil {
		t.Fatal(err)
	}
	if !fno.Attr().IsReadonly() {
		t.Fatal("read-only bit not set")
	}
	var fp File
	if err := fsys.OpenFile(&fp, "/RO.TXT", ModeRW); err == nil {
		fp.Close()
		t.Fatal("write open succeeded on a read-only entry")
	}
	if err := v.Ops.Chmod(ctx, v, 0o644); err != nil {
		t.Fatalf("chmod back: %v", err)
	}
	fno, _ = fsys.Stat("/RO.TXT")
	if fno.Attr().IsReadonly() {
		t.Fatal("read-only bit still set")
	}
}
