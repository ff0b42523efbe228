package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a byte count such as "512K", "1.5G", "10MB" or "2MiB".
// A bare K, M, G or T suffix is binary (1024-based); explicit units follow
// humanize, so "MB" is 10^6 and "MiB" is 2^20.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if strings.ContainsAny(s[len(s)-1:], "kKmMgGtT") {
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return int64(n), nil
}
