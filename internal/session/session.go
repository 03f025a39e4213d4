// Package session runs the streaming protocol over one connection: it sends
// requests and awaits their responses, hands incoming requests to a
// RequestHandler, and routes cancellation frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/botstream/internal/metrics"
	"github.com/bamsammich/botstream/internal/payloads"
	"github.com/bamsammich/botstream/internal/protocol"
	"github.com/bamsammich/botstream/internal/transport"
)

// RequestHandler processes requests sent by the peer. The request's streams
// are closed after the response has been sent.
type RequestHandler interface {
	ProcessRequest(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.Response, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, req *protocol.ReceiveRequest) (*protocol.Response, error)

func (f RequestHandlerFunc) ProcessRequest(
	ctx context.Context, req *protocol.ReceiveRequest,
) (*protocol.Response, error) {
	return f(ctx, req)
}

// Options configures a Session.
type Options struct {
	// Transport labels the connection in logs and metrics ("websocket", "pipe").
	Transport string
	// Remote identifies the peer in logs.
	Remote string
	// RequestTimeout bounds SendRequest when the caller's context has no
	// deadline. Zero means no limit.
	RequestTimeout time.Duration
}

// Session is one protocol connection.
type Session struct {
	conn       transport.Conn
	handler    RequestHandler
	ctx        context.Context
	err        error
	sender     *Sender
	requests   *payloads.RequestManager
	streams    *payloads.StreamManager
	assemblers *payloads.AssemblerManager
	sends      map[uuid.UUID]context.CancelCauseFunc
	cancel     context.CancelFunc
	done       chan struct{}
	opts       Options
	handlers   sync.WaitGroup
	sendMu     sync.Mutex
	closeOnce  sync.Once
}

// New creates a session on conn. handler may be nil for a client that never
// serves requests; requests from the peer are then answered with 404.
// Call Run to start receiving.
func New(conn transport.Conn, handler RequestHandler, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:     conn,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		sender:   NewSender(conn),
		requests: payloads.NewRequestManager(),
		sends:    make(map[uuid.UUID]context.CancelCauseFunc),
		done:     make(chan struct{}),
		opts:     opts,
	}
	s.streams = payloads.NewStreamManager(s.onStreamCancelled)
	s.assemblers = payloads.NewAssemblerManager(s.streams, s.onRequest, s.onResponse)
	metrics.ConnectionOpened(opts.Transport)
	return s
}

// Run receives frames until the connection ends, ctx is done, or Close is
// called. It returns nil when the peer or Close ended the session cleanly.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown(ctx.Err())
		case <-s.done:
		}
	}()

	slog.Debug("session started", "transport", s.opts.Transport, "remote", s.opts.Remote)
	err := NewReceiver(s.conn, s.dispatch).Run()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	s.shutdown(err)

	// Ended locally by Close or ctx; the read error is only the fallout.
	if err != nil && !errors.Is(s.Err(), err) {
		return nil
	}
	return err
}

// SendRequest sends req and waits for the peer's response envelope. Content
// streams of the response are read lazily from the returned value, which the
// caller must Close.
func (s *Session) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.ReceiveResponse, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("%w: %w", protocol.ErrSessionClosed, s.Err())
	default:
	}

	if _, ok := ctx.Deadline(); !ok && s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	id := uuid.New()
	if !s.requests.Register(id) {
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", protocol.ErrSessionClosed, err)
		}
		return nil, fmt.Errorf("request %s: %w", id, protocol.ErrDuplicateRequest)
	}

	start := time.Now()
	if err := s.sendMessage(ctx, protocol.TypeRequest, id, req.Payload(), req.Streams); err != nil {
		s.requests.Cancel(id)
		metrics.RecordOutgoing("error", time.Since(start))
		return nil, fmt.Errorf("send request %s: %w", id, err)
	}

	resp, err := s.requests.GetResponse(ctx, id)
	if err != nil {
		metrics.RecordOutgoing(outcome(err), time.Since(start))
		return nil, fmt.Errorf("request %s %s: %w", req.Verb, req.Path, err)
	}
	metrics.RecordOutgoing("ok", time.Since(start))
	return resp, nil
}

// CancelAll tells the peer to abandon all work on this connection and fails
// every local pending request and stream with protocol.ErrCancelAll.
func (s *Session) CancelAll() error {
	err := s.sender.SendCancelAll()
	s.cancelAll()
	if err != nil {
		return fmt.Errorf("send cancel all: %w", err)
	}
	return nil
}

// Close ends the session. Pending requests fail with an error wrapping
// protocol.ErrConnectionLost.
func (s *Session) Close() error {
	s.shutdown(protocol.ErrSessionClosed)
	return nil
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session ended, or nil while it is running.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until every request handler started by this session returns,
// along with the cleanup of responses nobody was waiting for.
func (s *Session) Wait() {
	s.handlers.Wait()
}

func (s *Session) dispatch(h protocol.Header, body []byte) {
	switch h.Type {
	case protocol.TypeCancelAll:
		slog.Debug("peer cancelled all", "remote", s.opts.Remote)
		s.cancelAll()
	case protocol.TypeCancelStream:
		slog.Debug("peer cancelled stream", "id", h.ID, "remote", s.opts.Remote)
		s.streams.CancelStream(h.ID)
		s.abortSend(h.ID, protocol.ErrStreamCancelled)
	default:
		s.assemblers.OnReceive(h, body)
	}
}

func (s *Session) cancelAll() {
	// Streams first so responses replaced below close without a network write.
	s.streams.CancelAll(protocol.ErrCancelAll)
	s.assemblers.Reset()
	s.requests.FailAll(protocol.ErrCancelAll)
	s.abortSends(protocol.ErrCancelAll)
}

func (s *Session) onRequest(id uuid.UUID, req *protocol.ReceiveRequest) {
	s.handlers.Go(func() {
		s.handleRequest(id, req)
	})
}

func (s *Session) handleRequest(id uuid.UUID, req *protocol.ReceiveRequest) {
	defer req.Close()

	resp, err := s.process(req)
	result := "ok"
	if err != nil {
		slog.Warn("request handler failed",
			"id", id, "verb", req.Verb, "path", req.Path, "error", err)
		resp = protocol.NewResponse(500)
		result = "error"
	}
	if resp == nil {
		resp = protocol.NewResponse(200)
	}

	if err := s.sendMessage(s.ctx, protocol.TypeResponse, id, resp.Payload(), resp.Streams); err != nil {
		slog.Warn("send response", "id", id, "error", err)
		result = "error"
	}
	metrics.RecordIncoming(result)
}

func (s *Session) process(req *protocol.ReceiveRequest) (*protocol.Response, error) {
	if s.handler == nil {
		return protocol.NewResponse(404), nil
	}
	return s.handler.ProcessRequest(s.ctx, req)
}

func (s *Session) onResponse(id uuid.UUID, resp *protocol.ReceiveResponse) {
	if !s.requests.SignalResponse(id, resp) {
		slog.Warn("response for unknown request", "id", id, "status", resp.StatusCode)
		// Closing an incomplete stream sends CancelStream, which must not
		// block the receive loop.
		s.handlers.Go(resp.Close)
	}
}

// onStreamCancelled runs when a consumer closes a stream before it was fully
// received.
func (s *Session) onStreamCancelled(a *payloads.ContentStreamAssembler) {
	if err := s.sender.SendCancelStream(a.ID); err != nil {
		slog.Debug("send cancel stream", "id", a.ID, "error", err)
	}
}

// sendMessage sends an envelope followed by its content streams. A stream the
// peer cancels is abandoned without failing the message.
func (s *Session) sendMessage(
	ctx context.Context, typ protocol.PayloadType, id uuid.UUID, envelope any, streams []*protocol.Content,
) error {
	body, err := protocol.EncodeEnvelope(envelope)
	if err != nil {
		return err
	}

	// Streams are tracked before the envelope goes out so a CancelStream that
	// races the first chunk still finds them.
	sends := make([]context.Context, len(streams))
	for i, c := range streams {
		sends[i] = s.trackSend(ctx, c.ID)
	}
	defer func() {
		for _, c := range streams {
			s.untrackSend(c.ID)
		}
	}()

	if err := s.sender.SendPayload(typ, id, body); err != nil {
		return err
	}
	for i, c := range streams {
		err := s.sender.SendStream(sends[i], c)
		if err != nil && errors.Is(context.Cause(sends[i]), protocol.ErrStreamCancelled) {
			slog.Debug("stream send stopped by peer", "id", c.ID)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) trackSend(ctx context.Context, id uuid.UUID) context.Context {
	sctx, cancel := context.WithCancelCause(ctx)
	s.sendMu.Lock()
	s.sends[id] = cancel
	s.sendMu.Unlock()
	return sctx
}

func (s *Session) untrackSend(id uuid.UUID) {
	s.sendMu.Lock()
	cancel, ok := s.sends[id]
	delete(s.sends, id)
	s.sendMu.Unlock()
	if ok {
		cancel(nil)
	}
}

func (s *Session) abortSend(id uuid.UUID, cause error) {
	s.sendMu.Lock()
	cancel, ok := s.sends[id]
	s.sendMu.Unlock()
	if ok {
		cancel(cause)
	}
}

func (s *Session) abortSends(cause error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for _, cancel := range s.sends {
		cancel(cause)
	}
}

// shutdown tears the session down once. Every pending request and stream
// fails with an error wrapping ErrConnectionLost.
func (s *Session) shutdown(reason error) {
	s.closeOnce.Do(func() {
		if reason == nil {
			reason = io.EOF
		}
		s.err = reason
		s.cancel()
		s.conn.Close()

		lost := fmt.Errorf("%w: %w", protocol.ErrConnectionLost, reason)
		s.streams.CancelAll(lost)
		s.assemblers.Reset()
		s.requests.Close(lost)
		s.abortSends(lost)

		metrics.ConnectionClosed(s.opts.Transport)
		slog.Debug("session ended", "transport", s.opts.Transport, "remote", s.opts.Remote, "reason", reason)
		close(s.done)
	})
}

func outcome(err error) string {
	switch {
	case errors.Is(err, protocol.ErrCancelAll):
		return "cancelled"
	case errors.Is(err, protocol.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
