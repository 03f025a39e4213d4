// Package transport provides the byte-stream connections the streaming
// protocol runs over: WebSocket binary messages and Unix domain sockets,
// optionally wrapped with zstd compression and an outbound rate limit.
package transport

import "io"

// Conn is a duplex byte stream. Reads return incoming bytes in order; each
// Write is delivered to the peer in order and is not interleaved with other
// writes as long as callers serialize them.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Flusher is implemented by connections that buffer writes and need an
// explicit flush before the peer can see them (e.g. compressed connections).
type Flusher interface {
	Flush() error
}

// Flush flushes c if it buffers writes.
func Flush(c Conn) error {
	if f, ok := c.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
