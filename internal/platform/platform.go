// Package platform wraps OS-specific file primitives.
package platform

// fder is satisfied by *os.File and by afero files backed by one.
type fder interface {
	Fd() uintptr
}

// Preallocate reserves size bytes of disk for f without changing its
// length. It is advisory: files not backed by a descriptor, unsupported
// filesystems, and non-Linux platforms are ignored.
func Preallocate(f any, size int64) {
	if size <= 0 {
		return
	}
	if fd, ok := f.(fder); ok {
		preallocate(fd.Fd(), size)
	}
}
