//go:build !linux

package fuseadapter

import (
	"context"
	"fmt"

	"github.com/zekeos/zekefs/vfs"
)

// Mount is unavailable outside Linux: bazil.org/fuse only talks to the
// Linux and macOS FUSE kernel drivers, and this adapter is grounded on
// and tested against the Linux one.
func Mount(ctx context.Context, mountpoint string, root *vfs.Vnode) error {
	return fmt.Errorf("fuseadapter: FUSE mount is only supported on Linux")
}
