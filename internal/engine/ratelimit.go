package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter that caps aggregate download
// throughput to bytesPerSec. The burst is set to 1 MB to allow natural
// write-size chunks through without unnecessary blocking on small writes.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedWriter wraps an io.Writer and enforces a shared rate limit.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func newRateLimitedWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) *rateLimitedWriter {
	return &rateLimitedWriter{w: w, limiter: limiter, ctx: ctx}
}

// Write waits for tokens in burst-sized chunks so writes larger than the
// burst do not fail.
func (rw *rateLimitedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := min(len(p), rw.limiter.Burst())
		if err := rw.limiter.WaitN(rw.ctx, chunk); err != nil {
			return written, err
		}
		n, err := rw.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

// countingWriter counts bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
