//go:build !linux

package platform

// preallocate is a no-op on non-Linux platforms (fallocate is Linux-only).
func preallocate(_ uintptr, _ int64) {}
