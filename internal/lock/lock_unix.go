//go:build unix

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func defaultDir() string {
	return "/tmp/ftpmirror-locks"
}

// guard takes an exclusive flock on path+".guard", blocking until it is
// free. The returned func releases it.
func guard(path string) (func(), error) {
	f, err := os.OpenFile(path+".guard", os.O_RDONLY|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	_ = f.Chmod(0o666)
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX) //nolint:gosec // G115: fd fits in int
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:gosec // G115: fd fits in int
		_ = f.Close()
	}, nil
}
