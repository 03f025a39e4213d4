package transport

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// NewLimiter creates a rate.Limiter that caps throughput to bytesPerSec. The
// burst is 1 MB, or bytesPerSec when that is smaller.
func NewLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// RateLimitedConn throttles writes on the wrapped Conn. Reads are untouched.
type RateLimitedConn struct {
	Conn
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRateLimitedConn wraps conn so writes wait on limiter. Waiting stops with
// an error once ctx is done or the conn is closed.
func NewRateLimitedConn(ctx context.Context, conn Conn, limiter *rate.Limiter) *RateLimitedConn {
	ctx, cancel := context.WithCancel(ctx)
	return &RateLimitedConn{Conn: conn, limiter: limiter, ctx: ctx, cancel: cancel}
}

// Write reserves len(p) tokens in burst-sized steps, then writes p in one
// call so a frame is never split.
func (c *RateLimitedConn) Write(p []byte) (int, error) {
	burst := c.limiter.Burst()
	for remaining := len(p); remaining > 0; {
		n := min(remaining, burst)
		if err := c.limiter.WaitN(c.ctx, n); err != nil {
			if c.ctx.Err() != nil {
				return 0, net.ErrClosed
			}
			return 0, err
		}
		remaining -= n
	}
	return c.Conn.Write(p)
}

// Flush forwards to the wrapped conn.
func (c *RateLimitedConn) Flush() error {
	return Flush(c.Conn)
}

// Close stops pending waits and closes the wrapped conn.
func (c *RateLimitedConn) Close() error {
	c.cancel()
	return c.Conn.Close()
}
