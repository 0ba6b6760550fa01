//go:build !unix

package blockdev

import "errors"

// FileDevice is unavailable on non-unix platforms: pread/pwrite-based
// concurrent block access needs golang.org/x/sys/unix, which has no
// equivalent here. Use Memory or SparseMap instead.
type FileDevice struct{}

// OpenFileDevice always fails on non-unix platforms. See FileDevice.
func OpenFileDevice(path string, blockSize int) (*FileDevice, error) {
	return nil, errors.New("blockdev: file-backed devices require a unix platform")
}

func (d *FileDevice) BlockSize() int                                       { return 0 }
func (d *FileDevice) Size() int64                                          { return 0 }
func (d *FileDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) { return 0, errUnsupported }
func (d *FileDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	return 0, errUnsupported
}
func (d *FileDevice) EraseBlocks(startBlock, numBlocks int64) error { return errUnsupported }
func (d *FileDevice) Sync() error                                   { return errUnsupported }
func (d *FileDevice) Close() error                                  { return errUnsupported }

var errUnsupported = errors.New("blockdev: unsupported on this platform")
