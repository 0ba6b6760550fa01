package vfs

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// MountFlag carries mount-time options as an opaque flag word.
type MountFlag uint32

const (
	MountReadOnly MountFlag = 1 << iota
	MountNoExec
)

// Driver is a registrable filesystem type: a name looked up by Mount's
// fsname argument, and a constructor that produces a Superblock. This
// generalizes fs.c's fs_t, whose fs_register/fs_by_name/fs_iterate trio
// walked a global SLIST under a global lock.
type Driver struct {
	Name  string
	Mount func(ns *Namespace, source, target, parm string, flags MountFlag) (*Superblock, error)
}

// Namespace is the VFS subsystem context: the filesystem-type registry, the
// set of live mounts, and the counter handing out mount ids. It replaces the
// single process-wide global the kernel (and the fs.c this is grounded on)
// used, so multiple independent mount namespaces can coexist in one process
// — see DESIGN.md's Open Question log for why.
type Namespace struct {
	log *slog.Logger

	mu      sync.Mutex
	drivers []Driver
	mountID uint32 // monotonically increasing; deliberately not a UUID, see DESIGN.md.

	root *Vnode
}

// NewNamespace constructs an empty namespace. root, if non-nil, becomes the
// initial "/" vnode; a namespace with no root can still register drivers
// and mount onto externally supplied vnodes.
func NewNamespace(root *Vnode, log *slog.Logger) *Namespace {
	return &Namespace{root: root, log: log}
}

// Root returns the namespace's initial root vnode.
func (ns *Namespace) Root() *Vnode { return ns.root }

// Register adds a filesystem driver to the registry. Duplicate names are
// not detected or rejected; the last registered driver with a given name
// wins lookups via ByName.
func (ns *Namespace) Register(d Driver) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.drivers = append(ns.drivers, d)
	ns.trace("vfs:register", slog.String("fsname", d.Name))
}

// ByName looks up a registered driver by name. The scan runs newest-first,
// so when two drivers share a name the most recently registered one wins.
func (ns *Namespace) ByName(name string) (Driver, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for i := len(ns.drivers) - 1; i >= 0; i-- {
		if ns.drivers[i].Name == name {
			return ns.drivers[i], true
		}
	}
	return Driver{}, false
}

// Drivers returns a snapshot of the registered drivers, in registration
// order, mirroring fs_iterate's forward-only walk.
func (ns *Namespace) Drivers() []Driver {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]Driver, len(ns.drivers))
	copy(out, ns.drivers)
	return out
}

func (ns *Namespace) nextMountID() uint32 {
	return atomic.AddUint32(&ns.mountID, 1)
}

// Mount splices a new filesystem's root vnode onto target, making it a
// mountpoint. Mounting over an existing mount stacks: the splice happens at
// TopOf(target), so the new root shadows whatever was visible there before
// and reappears when the new mount is removed. The driver's Mount must
// return a superblock with a non-nil root.
func (ns *Namespace) Mount(target *Vnode, fsname, source, parm string, flags MountFlag) (*Superblock, error) {
	ns.trace("vfs:mount", slog.String("fsname", fsname), slog.String("source", source))
	drv, ok := ns.ByName(fsname)
	if !ok {
		return nil, ENOENT
	}

	sb, err := drv.Mount(ns, source, "", parm, flags)
	if err != nil {
		return nil, err
	}
	root := sb.Root
	if root == nil {
		return nil, EINVAL
	}
	sb.Driver = fsname

	target.Lock()
	defer target.Unlock()
	top := TopOf(target)
	if top != target {
		top.Lock()
		defer top.Unlock()
	}
	root.Lock()
	defer root.Unlock()

	// Splice onto the top of the stack: top.next -> root descends into the
	// new fs, root.prev -> top climbs back to the mountpoint for "..".
	// The superblock pins its mountpoint for the life of the mount.
	sb.Mountpoint = top
	top.Ref()
	top.next = root
	root.prev = top
	root.next = root
	ns.trace("vfs:mounted", slog.Uint64("mount_id", uint64(ns.nextMountID())))
	return sb, nil
}

// Unmount removes the filesystem mounted at target, splicing target back to
// self-linked. It refuses a bare (non-mountpoint) vnode, a busy mounted
// root, and the initial namespace root, which is never unmountable.
func (ns *Namespace) Unmount(target *Vnode) error {
	ns.trace("vfs:unmount")
	if target == nil {
		return EINVAL
	}
	if target.prev == target && target.next == target && target == ns.root {
		// The initial root is the one self-linked vnode with no mount base
		// beneath it; there is nothing to splice it back onto.
		return EBUSY
	}
	target.Lock()
	defer target.Unlock()
	if target.next == target {
		return EINVAL // not a mountpoint.
	}
	root := target.next
	root.Lock()
	defer root.Unlock()
	if root.next != root {
		return EBUSY // something is mounted on top of this mount.
	}
	if root.Refcount() > 1 {
		return EBUSY
	}
	sb := root.Sb
	target.next = target
	root.prev = root
	if sb != nil {
		if sb.Mountpoint != nil {
			sb.Mountpoint.Unref()
			sb.Mountpoint = nil
		}
		if sb.Unmount != nil {
			return sb.Unmount()
		}
	}
	return nil
}
