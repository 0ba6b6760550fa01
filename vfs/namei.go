package vfs

import (
	"context"
	"log/slog"
	"strings"
)

// errCrossMountRoot is the unexported sentinel a driver's Lookup returns
// (as the bare Errno EDOM) for ".." at its own root, telling namei to climb back out
// through the mount stack via BaseOf instead of treating it as a normal
// lookup failure. It corresponds to fs.c's internal use of -EDOM.
var errCrossMountRoot = EDOM

// Namei resolves path starting at proc's root or cwd (depending on whether
// path is absolute), following the exact algorithm of fs.c's
// lookup_vnode/fs_namei_proc: tokenize on '/', skip "." and empty
// components, dispatch each component through the current directory's
// Lookup, detect a mountpoint-root ".." via errCrossMountRoot and restart
// from BaseOf(parent), otherwise descend through TopOf on every successful
// component. A trailing separator forces ODirectory. The final vnode must
// be a directory if ODirectory was requested (explicitly or implicitly).
func (ns *Namespace) Namei(proc *Process, path string, flags OpenFlag) (*Vnode, error) {
	ns.trace("vfs:namei", slog.String("path", path))
	if path == "" {
		return nil, EINVAL
	}

	var start *Vnode
	if strings.HasPrefix(path, "/") {
		start = proc.Root()
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			start.Ref()
			return start, nil
		}
	} else {
		start = proc.Cwd()
	}

	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, "\\") {
		flags |= ODirectory
	}

	return ns.namei(start, path, flags)
}

// NameiAt resolves path like Namei, but a relative path starts at the
// vnode behind file descriptor fd instead of the process cwd. The fd's
// record is referenced for the duration of the walk and released after.
func (ns *Namespace) NameiAt(proc *Process, fd int, path string, flags OpenFlag) (*Vnode, error) {
	if path == "" {
		return nil, EINVAL
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return ns.Namei(proc, path, flags)
	}
	rec, err := proc.RefFD(fd, 1)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Vnode == nil {
		return nil, EBADF
	}
	defer proc.RefFD(fd, -1)
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, "\\") {
		flags |= ODirectory
	}
	return ns.namei(rec.Vnode, path, flags)
}

func (ns *Namespace) namei(root *Vnode, path string, flags OpenFlag) (*Vnode, error) {
	if root.Ops == nil {
		return nil, EINVAL
	}

	root.Ref()
	result := root
	components := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })

	for _, name := range components {
		if name == "." {
			continue
		}

	again:
		orig := result
		vn, err := orig.Ops.Lookup(context.Background(), orig, name)
		if err != nil && err != errCrossMountRoot {
			orig.Unref()
			return nil, err
		}
		if vn == nil {
			orig.Unref()
			return nil, ENOENT
		}

		if err == errCrossMountRoot && name == ".." {
			// The driver is at its own root. By convention vn == orig and no
			// extra reference was taken.
			if vn.isMountBase() {
				continue // ".." at the namespace root stays put.
			}
			// Leave the mount upward: switch to the stack base beneath the
			// mountpoint and retry the lookup of ".." from there.
			base := BaseOf(vn)
			base.Ref()
			orig.Unref()
			result = base
			goto again
		}

		orig.Unref()
		result = TopOf(vn)
		result.Ref()
		vn.Unref()
	}

	if flags&ODirectory != 0 && result.Type != NodeDir {
		result.Unref()
		return nil, ENOTDIR
	}
	return result, nil
}
