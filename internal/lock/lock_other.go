//go:build !unix

package lock

import (
	"os"
	"path/filepath"
)

func defaultDir() string {
	return filepath.Join(os.TempDir(), "ftpmirror-locks")
}

// guard is a no-op where flock is unavailable; the stale-socket check
// is then best effort.
func guard(string) (func(), error) {
	return func() {}, nil
}
