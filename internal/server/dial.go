package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bamsammich/botstream/internal/session"
	"github.com/bamsammich/botstream/internal/transport"
)

// DialOptions configures a client connection.
type DialOptions struct {
	// Header is sent with the WebSocket handshake (e.g. Authorization).
	Header http.Header
	// Session configures the client session.
	Session session.Options
	// Compress must match the server's setting.
	Compress bool
	// SendLimit caps outbound bytes per second. Zero means unlimited.
	SendLimit int64
	// HandshakeTimeout bounds the WebSocket handshake. Defaults to 10s.
	HandshakeTimeout time.Duration
}

// DialWebSocket connects to a botstream server at url (ws:// or wss://) and
// returns a running session. handler serves requests the server sends back;
// it may be nil.
func DialWebSocket(
	ctx context.Context, url string, handler session.RequestHandler, opts DialOptions,
) (*session.Session, error) {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	opts.Session.Transport = "websocket"
	opts.Session.Remote = url
	return start(transport.NewWebSocketConn(ws), handler, opts)
}

// DialPipe connects to a botstream server's named pipe at path and returns a
// running session.
func DialPipe(
	ctx context.Context, path string, handler session.RequestHandler, opts DialOptions,
) (*session.Session, error) {
	conn, err := transport.DialPipe(ctx, path)
	if err != nil {
		return nil, err
	}

	opts.Session.Transport = "pipe"
	opts.Session.Remote = path
	return start(conn, handler, opts)
}

func start(conn transport.Conn, handler session.RequestHandler, opts DialOptions) (*session.Session, error) {
	var limiter *rate.Limiter
	if opts.SendLimit > 0 {
		limiter = transport.NewLimiter(opts.SendLimit)
	}

	// Session shutdown closes the limited conn, which ends any pending wait.
	wrapped, err := wrapConn(context.Background(), conn, opts.Compress, limiter)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sess := session.New(wrapped, handler, opts.Session)
	go func() {
		if err := sess.Run(context.Background()); err != nil {
			slog.Warn("session failed", "remote", opts.Session.Remote, "error", err)
		}
	}()
	return sess, nil
}
