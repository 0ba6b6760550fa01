package vfs

import "fmt"

// Errno is a negated POSIX-style error code, mirroring the convention used
// throughout the kernel's fs.c (functions return -EINVAL, -ENOENT, etc. and
// the caller propagates the int). Wrapped here as a Go error type so the
// vfs package can return idiomatic errors while keeping the exact taxonomy
// named in the on-disk/VFS error handling design.
type Errno int

const (
	EPERM     Errno = 1
	ENOENT    Errno = 2
	EIO       Errno = 5
	EBADF     Errno = 9
	EACCES    Errno = 13
	EEXIST    Errno = 17
	ENOTDIR   Errno = 20
	EISDIR    Errno = 21
	EINVAL    Errno = 22
	ENFILE    Errno = 23
	EMFILE    Errno = 24
	ENOTEMPTY Errno = 39
	ELOOP     Errno = 40
	ENOSYS    Errno = 38
	EBUSY     Errno = 16
	EDOM      Errno = 33 // used internally as the "crossed a mountpoint root via .." sentinel
)

var errnoText = map[Errno]string{
	EPERM:     "operation not permitted",
	ENOENT:    "no such file or directory",
	EIO:       "input/output error",
	EBADF:     "bad file descriptor",
	EACCES:    "permission denied",
	EEXIST:    "file exists",
	ENOTDIR:   "not a directory",
	EISDIR:    "is a directory",
	EINVAL:    "invalid argument",
	ENFILE:    "too many open files in system",
	EMFILE:    "too many open files",
	ENOTEMPTY: "directory not empty",
	ELOOP:     "too many levels of symbolic links",
	ENOSYS:    "function not implemented",
	EBUSY:     "device or resource busy",
	EDOM:      "numerical argument out of domain",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("vfs: errno %d", int(e))
}

// Is allows errors.Is(err, vfs.ENOENT) style comparisons to work through
// wrapping, matching the sentinel-comparison style the FAT driver's
// fileResult type already uses one layer down.
func (e Errno) Is(target error) bool {
	t, ok := target.(Errno)
	return ok && t == e
}
