package engine

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBWLimiter(t *testing.T) {
	t.Parallel()

	t.Run("burst capped to rate when rate < 1MB", func(t *testing.T) {
		t.Parallel()
		lim := NewBWLimiter(1024)
		assert.Equal(t, 1024, lim.Burst())
	})

	t.Run("burst is 1MB when rate >= 1MB", func(t *testing.T) {
		t.Parallel()
		lim := NewBWLimiter(10 * 1024 * 1024)
		assert.Equal(t, 1<<20, lim.Burst())
	})
}

func TestRateLimitedWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes all data", func(t *testing.T) {
		t.Parallel()
		data := bytes.Repeat([]byte("x"), 4096)
		var dst bytes.Buffer
		rw := newRateLimitedWriter(context.Background(), &dst, NewBWLimiter(1<<20))

		n, err := io.Copy(rw, bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, data, dst.Bytes())
	})

	t.Run("writes larger than burst are chunked", func(t *testing.T) {
		t.Parallel()
		data := bytes.Repeat([]byte("c"), 3000)
		var dst bytes.Buffer
		rw := newRateLimitedWriter(context.Background(), &dst, NewBWLimiter(1<<20))
		rw.limiter.SetBurst(1024)

		n, err := rw.Write(data)
		require.NoError(t, err)
		assert.Equal(t, 3000, n)
		assert.Equal(t, data, dst.Bytes())
	})

	t.Run("enforces rate limit", func(t *testing.T) {
		t.Parallel()
		// 10 KB at 5 KB/s should take ~1s after the burst.
		dataSize := 10 * 1024
		data := bytes.Repeat([]byte("a"), dataSize)
		var dst bytes.Buffer
		rw := newRateLimitedWriter(context.Background(), &dst, NewBWLimiter(5*1024))

		start := time.Now()
		_, err := io.Copy(rw, bytes.NewReader(data))
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, dataSize, dst.Len())
		assert.Greater(t, elapsed, 500*time.Millisecond,
			"rate limiter should slow writes to ~5KB/s")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rw := newRateLimitedWriter(ctx, io.Discard, NewBWLimiter(1024))

		_, err := rw.Write(bytes.Repeat([]byte("b"), 4096))
		require.Error(t, err)
	})
}

func TestCountingWriter(t *testing.T) {
	var dst bytes.Buffer
	cw := &countingWriter{w: &dst}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("de"))
	assert.Equal(t, int64(5), cw.n)
}
