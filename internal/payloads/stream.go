// Package payloads reassembles requests, responses, and content streams from
// interleaved frames, and correlates outgoing requests with their responses.
package payloads

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// PayloadStream is the reader side of one content stream. The receive loop
// appends chunks as they arrive; a single consumer reads them in order.
// Reads block until data is available, the stream ends, or it is cancelled.
type PayloadStream struct {
	err      error
	notify   chan struct{}
	onClose  func()
	buf      bytes.Buffer
	received int64
	mu       sync.Mutex
	end      bool
	closed   bool
}

func newPayloadStream(onClose func()) *PayloadStream {
	return &PayloadStream{
		notify:  make(chan struct{}),
		onClose: onClose,
	}
}

// wake releases every blocked reader. Caller holds s.mu.
func (s *PayloadStream) wake() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *PayloadStream) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || s.end {
		return
	}
	s.received += int64(len(p))
	if !s.closed {
		s.buf.Write(p)
	}
	s.wake()
}

func (s *PayloadStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || s.end {
		return
	}
	s.end = true
	s.wake()
}

// fail drops buffered bytes and makes every subsequent read return err.
func (s *PayloadStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	s.err = err
	s.buf.Reset()
	s.wake()
}

// Received returns the number of bytes appended so far.
func (s *PayloadStream) Received() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// Read implements io.Reader.
func (s *PayloadStream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext reads like Read but gives up when ctx is done.
func (s *PayloadStream) ReadContext(ctx context.Context, p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return 0, err
		}
		if s.buf.Len() > 0 {
			n, _ := s.buf.Read(p) //nolint:errcheck // bytes.Buffer only errors when empty
			s.mu.Unlock()
			return n, nil
		}
		if s.end {
			s.mu.Unlock()
			return 0, io.EOF
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close tells the owning stream manager the consumer is done. Closing a
// stream that has not been fully received cancels it.
func (s *PayloadStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf.Reset()
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
