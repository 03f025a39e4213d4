package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// CompressedConn wraps a Conn with zstd streaming compression. Writes are
// buffered by the encoder until Flush. The encoder and decoder are each used
// by one goroutine at a time, and Close may run concurrently with both.
type CompressedConn struct {
	Conn
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	readMu   sync.Mutex
	writeMu  sync.Mutex
	closed   atomic.Bool
	released bool // decoder released; guarded by readMu
	once     sync.Once
	closeErr error
}

// NewCompressedConn wraps conn with zstd compression. Both peers must wrap
// their ends.
func NewCompressedConn(conn Conn) (*CompressedConn, error) {
	encoder, err := zstd.NewWriter(conn,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(conn, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &CompressedConn{
		Conn:    conn,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (c *CompressedConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.released {
		return 0, net.ErrClosed
	}
	return c.decoder.Read(p)
}

func (c *CompressedConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	return c.encoder.Write(p)
}

// Flush emits a syncable zstd block so the peer can decode everything written
// so far.
func (c *CompressedConn) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	return c.encoder.Flush()
}

// Close closes the underlying conn first, which unblocks an in-flight read or
// write, then releases the encoder and decoder once nobody is using them.
func (c *CompressedConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.Conn.Close()

		c.writeMu.Lock()
		c.encoder.Close()
		c.writeMu.Unlock()

		if c.readMu.TryLock() {
			c.releaseDecoder()
			c.readMu.Unlock()
			return
		}
		// The in-flight read fails now that the conn is closed.
		go func() {
			c.readMu.Lock()
			defer c.readMu.Unlock()
			c.releaseDecoder()
		}()
	})
	return c.closeErr
}

// releaseDecoder closes the decoder once. Caller holds readMu.
func (c *CompressedConn) releaseDecoder() {
	if !c.released {
		c.released = true
		c.decoder.Close()
	}
}
