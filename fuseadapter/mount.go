// Package fuseadapter exposes a mounted vfs.Vnode tree as a FUSE
// filesystem, bridging the Namespace/Operations abstraction described in
// the vfs package to bazil.org/fuse's node/handle model.
package fuseadapter

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// PrepareMountpoint ensures path is an existing, empty directory suitable
// for a FUSE mount, creating it if necessary. It reports whether it
// created the directory, so the caller can decide whether to remove it
// again on unmount.
func PrepareMountpoint(path string) (created bool, err error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(path, 0o755); err != nil {
			return false, fmt.Errorf("fuseadapter: create mountpoint %s: %w", path, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("fuseadapter: stat mountpoint %s: %w", path, err)
	}
	if !fi.IsDir() {
		return false, fmt.Errorf("fuseadapter: mountpoint %s is not a directory", path)
	}
	empty, err := isDirEmpty(path)
	if err != nil {
		return false, fmt.Errorf("fuseadapter: check mountpoint %s empty: %w", path, err)
	}
	if !empty {
		return false, fmt.Errorf("fuseadapter: mountpoint %s is not empty", path)
	}
	return false, nil
}

func isDirEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdir(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}
