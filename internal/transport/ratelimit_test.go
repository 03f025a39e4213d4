package transport_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bamsammich/botstream/internal/transport"
)

// recordingConn records every Write call.
type recordingConn struct {
	bytes.Buffer
	writes int
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.writes++
	return c.Buffer.Write(p)
}

func (*recordingConn) Close() error { return nil }

func TestNewLimiter(t *testing.T) {
	t.Parallel()

	t.Run("burst capped to rate when rate < 1MB", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1024, transport.NewLimiter(1024).Burst())
	})

	t.Run("burst is 1MB when rate >= 1MB", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1<<20, transport.NewLimiter(10<<20).Burst())
	})
}

func TestRateLimitedConn(t *testing.T) {
	t.Parallel()

	t.Run("frame larger than burst is written once", func(t *testing.T) {
		t.Parallel()
		rec := &recordingConn{}
		lim := rate.NewLimiter(rate.Limit(20000), 1000)
		c := transport.NewRateLimitedConn(context.Background(), rec, lim)

		data := bytes.Repeat([]byte("x"), 3000)
		start := time.Now()
		n, err := c.Write(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, 1, rec.writes)
		assert.Equal(t, data, rec.Bytes())
		assert.Greater(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled context stops the write", func(t *testing.T) {
		t.Parallel()
		rec := &recordingConn{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := transport.NewRateLimitedConn(ctx, rec, transport.NewLimiter(1024))

		_, err := c.Write([]byte("blocked"))
		require.Error(t, err)
		assert.Zero(t, rec.writes)
	})

	t.Run("close interrupts a pending wait", func(t *testing.T) {
		t.Parallel()
		rec := &recordingConn{}
		c := transport.NewRateLimitedConn(context.Background(), rec, rate.NewLimiter(rate.Limit(10), 10))

		_, err := c.Write(bytes.Repeat([]byte("x"), 10))
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := c.Write(bytes.Repeat([]byte("y"), 10))
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, c.Close())

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, net.ErrClosed)
		case <-time.After(500 * time.Millisecond):
			t.Fatal("Write still waiting on the limiter after Close")
		}
		assert.Equal(t, 1, rec.writes)
	})
}
