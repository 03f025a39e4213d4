package session

import (
	"bufio"
	"io"

	"github.com/bamsammich/botstream/internal/metrics"
	"github.com/bamsammich/botstream/internal/protocol"
)

// FrameFunc handles one incoming frame. It runs on the receive loop and must
// not block on the network.
type FrameFunc func(h protocol.Header, body []byte)

// Receiver reads frames from a connection and hands them to a FrameFunc in
// arrival order.
type Receiver struct {
	r      io.Reader
	handle FrameFunc
}

// NewReceiver creates a receiver reading from r.
func NewReceiver(r io.Reader, handle FrameFunc) *Receiver {
	return &Receiver{r: bufio.NewReaderSize(r, 64*1024), handle: handle}
}

// Run reads frames until the connection fails. A malformed header ends the
// loop with an error wrapping protocol.ErrFraming.
func (r *Receiver) Run() error {
	for {
		h, body, err := protocol.ReadFrame(r.r)
		if err != nil {
			return err
		}
		metrics.FrameReceived(h.Type.String(), len(body))
		r.handle(h, body)
	}
}
