//go:build linux

package platform

import "golang.org/x/sys/unix"

//nolint:gosec // G115: fd values are small non-negative integers
func preallocate(fd uintptr, size int64) {
	//nolint:errcheck // fallocate is advisory; not supported on all filesystems
	unix.Fallocate(int(fd), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}
