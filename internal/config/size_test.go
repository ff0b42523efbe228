package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"0":      0,
		"4096":   4096,
		"512b":   512,
		"64K":    64 << 10,
		"64k":    64 << 10,
		"10M":    10 << 20,
		"2G":     2 << 30,
		"1T":     1 << 40,
		"1.5M":   1572864,
		" 256K ": 256 << 10,
		"10MB":   10_000_000,
		"10MiB":  10 << 20,
		"1 GiB":  1 << 30,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			got, err := ParseSize(input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseSize_Invalid(t *testing.T) {
	for _, input := range []string{"", "fast", "M", "-1M", "10 parsecs"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			assert.Error(t, err)
		})
	}
}
