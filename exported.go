package fat

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Mode represents the file access mode used in Open.
type Mode uint8

// File access modes for calling OpenFile.
const (
	ModeRead  Mode = Mode(faRead)
	ModeWrite Mode = Mode(faWrite)
	ModeRW    Mode = ModeRead | ModeWrite

	ModeCreateNew    Mode = Mode(faCreateNew)
	ModeCreateAlways Mode = Mode(faCreateAlways)
	ModeOpenExisting Mode = Mode(faOpenExisting)
	ModeOpenAppend   Mode = Mode(faOpenAppend)

	allowedModes = ModeRead | ModeWrite | ModeCreateNew | ModeCreateAlways | ModeOpenExisting | ModeOpenAppend
)

var (
	errInvalidMode   = errors.New("invalid fat access mode")
	errForbiddenMode = errors.New("forbidden fat access mode")
)

// Dir represents an open FAT directory.
type Dir struct {
	dir
	inlineInfo FileInfo
}

// Mount mounts the FAT filesystem on the given block device with the given
// sector size. It immediately invalidates any previously open files and
// directories pointing at this FS. Mode should be ModeRead, ModeWrite, or
// both.
func (fsys *FS) Mount(bd BlockDevice, blockSize int, mode Mode) error {
	if mode&^(ModeRead|ModeWrite) != 0 {
		return errInvalidMode
	} else if blockSize > math.MaxUint16 {
		return errors.New("sector size too large")
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.clearVolumeLocks()
	fr := fsys.mountVolume(bd, uint16(blockSize), uint8(mode))
	if fr != frOK {
		return fr
	}
	return nil
}

// MountID identifies the current mount generation of this FS. Handles carry
// the id they were opened under; after a remount they fail with a stale
// handle error instead of touching the new volume.
func (fsys *FS) MountID() uint16 {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.id
}

// SetCodePage selects the OEM code page used to translate long file names
// to and from their on-disk short-name representation. Call it before or
// after Mount; the supported pages are listed in codepage.go. An
// unsupported code page is rejected and the current selection is kept
// (ASCII-only on an FS that never had a page set).
func (fsys *FS) SetCodePage(code uint16) error {
	tbl := oem2uniTable(code)
	if tbl == nil {
		return fmt.Errorf("fat: unsupported code page %d", code)
	}
	fsys.mu.Lock()
	fsys.codePageNum = code
	fsys.codepage = tbl
	fsys.upperExt = upperExtTable(code)
	fsys.dbcTbl = dbcTable(code)
	fsys.mu.Unlock()
	return nil
}

// OpenFile opens the named file for reading or writing, depending on mode.
// The path must be absolute (starting with a slash) and must not contain
// "." or ".." elements.
func (fsys *FS) OpenFile(fp *File, path string, mode Mode) error {
	prohibited := (mode & ModeRW) &^ fsys.perm
	if mode&^allowedModes != 0 {
		return errInvalidMode
	} else if prohibited != 0 {
		return errForbiddenMode
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fr := fsys.open(fp, path, uint8(mode))
	if fr != frOK {
		return fr
	}
	return nil
}

// Read reads up to len(buf) bytes from the File. It implements [io.Reader].
func (fp *File) Read(buf []byte) (int, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fp.err != frOK {
		return 0, fp.err // Sticky I/O error: refuse work until close.
	}
	br, fr := fp.read(buf)
	if fr != frOK {
		fp.err = fr
		return br, fr
	} else if br == 0 && len(buf) > 0 {
		return br, io.EOF
	}
	return br, nil
}

// Write writes len(buf) bytes to the File. It implements [io.Writer].
// A full volume yields a short count with a nil error, mirroring the
// on-disk allocator's graceful stop.
func (fp *File) Write(buf []byte) (int, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fp.err != frOK {
		return 0, fp.err
	}
	bw, fr := fp.write(buf)
	if fr != frOK {
		fp.err = fr
		return bw, fr
	}
	return bw, nil
}

// Close flushes the file and releases its open-file lock slot. The handle
// is unusable afterwards even if the closing flush failed.
func (fp *File) Close() error {
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fr = fp.close()
	if fr != frOK {
		return fr
	}
	return nil
}

// Sync commits the file's data and its directory entry to the device.
func (fp *File) Sync() error {
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fr = fsys.syncFile(fp)
	if fr != frOK {
		return fr
	}
	return nil
}

// Mode returns the lowest 2 bits of the file's permission (read, write or
// both).
func (fp *File) Mode() Mode {
	return Mode(fp.flag & 3)
}

// Size returns the file's current size in bytes.
func (fp *File) Size() int64 {
	return fp.obj.size
}

// Seek moves the file pointer to offset and returns the resulting pointer.
// Read-only handles clip offset to the file size rather than erroring;
// write-enabled handles extend the file by allocation when offset lies past
// the current end of chain.
func (fp *File) Seek(offset int64) (int64, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fp.err != frOK {
		return 0, fp.err
	}
	if fr := fp.seekTo(offset); fr != frOK {
		fp.err = fr
		return fp.ptr, fr
	}
	return fp.ptr, nil
}

// CreateLinkMap scans the file's cluster chain once and attaches a run
// table to the handle, after which Seek finds the target cluster by table
// lookup instead of walking the chain. The map goes stale if another handle
// rewrites this file's chain; it is dropped on close.
func (fp *File) CreateLinkMap() error {
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fr := fp.buildLinkMap(); fr != frOK {
		return fr
	}
	return nil
}

// OpenDir opens the named directory for reading.
func (fsys *FS) OpenDir(dp *Dir, path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fr := fsys.opendir(&dp.dir, path)
	if fr != frOK {
		return fr
	}
	return nil
}

// ForEachFile calls callback for each file in the directory.
func (dp *Dir) ForEachFile(callback func(*FileInfo) error) error {
	fr := dp.obj.validate()
	if fr != frOK {
		return fr
	} else if dp.obj.fs.perm&ModeRead == 0 {
		return errForbiddenMode
	}
	fsys := dp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	fr = dp.setIndex(0)
	if fr != frOK {
		return fr
	}
	for {
		dp.inlineInfo.name[0] = 0
		fr := dp.readNext(&dp.inlineInfo)
		if fr != frOK {
			return fr
		} else if dp.inlineInfo.name[0] == 0 {
			return nil // End of directory.
		}
		err := callback(&dp.inlineInfo)
		if err != nil {
			return err
		}
	}
}

// AlternateName returns the short 8.3 name of the file, empty when it
// coincides with Name.
func (finfo *FileInfo) AlternateName() string {
	return str(finfo.altname[:])
}

// Name returns the name of the file.
func (finfo *FileInfo) Name() string {
	return str(finfo.name[:])
}

// Size returns the size of the file in bytes.
func (finfo *FileInfo) Size() int64 {
	return finfo.size
}

// ModTime returns the modification time of the file.
func (finfo *FileInfo) ModTime() time.Time {
	return datetime{time: finfo.time, date: finfo.date}.Time()
}

// Attr returns the entry's attribute bits.
func (finfo *FileInfo) Attr() Attributes {
	return finfo.attr
}

// IsDir returns true if the file is a directory.
func (finfo *FileInfo) IsDir() bool {
	return finfo.attr.IsSubdirectory()
}

// readOnly reports whether the read-only attribute bit is set.
func (finfo *FileInfo) readOnly() bool {
	return finfo.attr.IsReadonly()
}
