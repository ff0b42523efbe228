package ui

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatRate formats a bytes-per-second rate, e.g. "1.5 MiB/s".
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// FormatBytes formats a byte count with binary units.
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatDuration rounds to whole seconds, e.g. "3m17s".
func FormatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

// StripRoot returns path relative to root, or path unchanged when it lies
// outside root.
func StripRoot(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}
