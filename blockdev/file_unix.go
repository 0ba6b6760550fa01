//go:build unix

package blockdev

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a fat.BlockDevice backed by a real file (a disk image or a
// raw block special file), using pread(2)/pwrite(2) so concurrent access
// from multiple goroutines never races on a shared file offset.
type FileDevice struct {
	f         *os.File
	blockSize int
	size      int64
}

// OpenFileDevice opens path for read-write block access. blockSize must
// evenly divide the file's current size.
func OpenFileDevice(path string, blockSize int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: fstat %s: %w", path, err)
	}
	if st.Size%int64(blockSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("blockdev: %s size %d is not a multiple of block size %d", path, st.Size, blockSize)
	}
	return &FileDevice{f: f, blockSize: blockSize, size: st.Size}, nil
}

func (d *FileDevice) BlockSize() int { return d.blockSize }
func (d *FileDevice) Size() int64    { return d.size }

func (d *FileDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if startBlock < 0 {
		return 0, errNegativeBlock
	}
	off := startBlock * int64(d.blockSize)
	n := 0
	for n < len(dst) {
		m, err := unix.Pread(int(d.f.Fd()), dst[n:], off+int64(n))
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, errors.New("blockdev: short read past end of device")
		}
		n += m
	}
	return n, nil
}

func (d *FileDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if startBlock < 0 {
		return 0, errNegativeBlock
	}
	off := startBlock * int64(d.blockSize)
	n := 0
	for n < len(data) {
		m, err := unix.Pwrite(int(d.f.Fd()), data[n:], off+int64(n))
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

func (d *FileDevice) EraseBlocks(startBlock, numBlocks int64) error {
	if startBlock < 0 || numBlocks <= 0 {
		return errors.New("blockdev: invalid erase range")
	}
	zero := make([]byte, d.blockSize)
	for i := int64(0); i < numBlocks; i++ {
		if _, err := d.WriteBlocks(zero, startBlock+i); err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes the device's writes to stable storage.
func (d *FileDevice) Sync() error {
	return unix.Fsync(int(d.f.Fd()))
}

// Close releases the underlying file descriptor.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
