package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/bamsammich/botstream/internal/metrics"
	"github.com/bamsammich/botstream/internal/protocol"
	"github.com/bamsammich/botstream/internal/transport"
)

// Sender writes frames to a connection. Frames from concurrent callers are
// serialized so a header is always followed directly by its body.
type Sender struct {
	conn transport.Conn
	mu   sync.Mutex
}

// NewSender creates a sender writing to conn.
func NewSender(conn transport.Conn) *Sender {
	return &Sender{conn: conn}
}

// SendFrame writes one frame and flushes the connection if it buffers.
func (s *Sender) SendFrame(h protocol.Header, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := protocol.WriteFrame(s.conn, h, body); err != nil {
		return err
	}
	if err := transport.Flush(s.conn); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	metrics.FrameSent(h.Type.String(), len(body))
	return nil
}

// SendPayload writes body as frames of at most MaxPayloadLength bytes. The
// last frame carries End. An empty body is sent as a single End frame.
func (s *Sender) SendPayload(typ protocol.PayloadType, id uuid.UUID, body []byte) error {
	for {
		n := min(len(body), protocol.MaxPayloadLength)
		last := n == len(body)
		h := protocol.Header{Type: typ, ID: id, End: last}
		if err := s.SendFrame(h, body[:n]); err != nil {
			return err
		}
		if last {
			return nil
		}
		body = body[n:]
	}
}

// SendStream copies c.Body to the peer as Stream frames. When c.Length is
// known at most that many bytes are sent and the frame reaching it carries
// End; otherwise the stream is terminated with an empty End frame. Sending
// stops between frames once ctx is done.
//
//nolint:revive // cognitive-complexity: chunk loop with length and EOF handling
func (s *Sender) SendStream(ctx context.Context, c *protocol.Content) error {
	body := c.Body
	if body == nil {
		body = eofReader{}
	}
	if c.Length >= 0 {
		body = io.LimitReader(body, c.Length)
	}

	buf := make([]byte, protocol.MaxPayloadLength)
	var sent int64
	for {
		if err := context.Cause(ctx); err != nil {
			return err
		}

		n, err := io.ReadFull(body, buf)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return fmt.Errorf("read stream %s: %w", c.ID, err)
		}
		sent += int64(n)
		// Without a declared length a full last chunk is followed by an
		// empty End frame on the next pass.
		end := eof || (c.Length >= 0 && sent >= c.Length)
		h := protocol.Header{Type: protocol.TypeStream, ID: c.ID, End: end}
		if err := s.SendFrame(h, buf[:n]); err != nil {
			return err
		}
		if end {
			return nil
		}
	}
}

// SendCancelAll tells the peer to abandon every pending request and stream.
func (s *Sender) SendCancelAll() error {
	return s.SendFrame(protocol.Header{Type: protocol.TypeCancelAll, End: true}, nil)
}

// SendCancelStream tells the peer to stop sending stream id.
func (s *Sender) SendCancelStream(id uuid.UUID) error {
	return s.SendFrame(protocol.Header{Type: protocol.TypeCancelStream, ID: id, End: true}, nil)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
