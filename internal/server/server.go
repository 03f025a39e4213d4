// Package server accepts streaming-protocol connections over WebSocket and
// named pipes and dials them from the client side.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bamsammich/botstream/internal/session"
	"github.com/bamsammich/botstream/internal/transport"
)

// DefaultPath is the WebSocket upgrade path bots connect to.
const DefaultPath = "/api/messages"

const defaultShutdownGrace = 30 * time.Second

// Options configures a Server.
type Options struct {
	// Listen is the WebSocket listen address (host:port). Empty disables the
	// WebSocket listener.
	Listen string
	// Path is the WebSocket upgrade path. Defaults to DefaultPath.
	Path string
	// Pipe is the Unix socket path for named-pipe connections. Empty disables
	// the pipe listener.
	Pipe string
	// Session is applied to every accepted connection.
	Session session.Options
	// Compress wraps every connection with zstd. Clients must match.
	Compress bool
	// SendLimit caps aggregate outbound bytes per second across all
	// connections. Zero means unlimited.
	SendLimit int64
	// ShutdownGrace is how long open sessions may keep running after Serve's
	// context is cancelled. Defaults to 30s.
	ShutdownGrace time.Duration
}

// Server serves the streaming protocol to a RequestHandler.
type Server struct {
	handler        session.RequestHandler
	wsListener     net.Listener
	pipeListener   net.Listener
	httpServer     *http.Server
	limiter        *rate.Limiter
	sessCtx        context.Context
	cancelSessions context.CancelFunc
	sessions       map[*session.Session]struct{}
	upgrader       websocket.Upgrader
	opts           Options
	wg             sync.WaitGroup
	mu             sync.Mutex
}

// New creates a server and opens its listeners. Call Serve to start
// accepting connections.
func New(handler session.RequestHandler, opts Options) (*Server, error) {
	if opts.Listen == "" && opts.Pipe == "" {
		return nil, errors.New("no listen address or pipe configured")
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}

	s := &Server{
		handler:  handler,
		opts:     opts,
		sessions: make(map[*session.Session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Bots and channel services are not browsers; origin is not meaningful.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.sessCtx, s.cancelSessions = context.WithCancel(context.Background())
	if opts.SendLimit > 0 {
		s.limiter = transport.NewLimiter(opts.SendLimit)
	}

	if opts.Listen != "" {
		ln, err := net.Listen("tcp", opts.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", opts.Listen, err)
		}
		s.wsListener = ln

		mux := http.NewServeMux()
		mux.Handle(opts.Path, s)
		s.httpServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if opts.Pipe != "" {
		ln, err := transport.ListenPipe(opts.Pipe)
		if err != nil {
			if s.wsListener != nil {
				s.wsListener.Close()
			}
			return nil, err
		}
		s.pipeListener = ln
	}

	return s, nil
}

// Addr returns the WebSocket listener's address (useful when listening on :0),
// or nil when WebSocket is disabled.
func (s *Server) Addr() net.Addr {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Addr()
}

// URL returns the ws:// URL clients connect to, or "" when WebSocket is
// disabled.
func (s *Server) URL() string {
	if s.wsListener == nil {
		return ""
	}
	addr := s.wsListener.Addr()
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP.IsUnspecified() {
		// Wildcard listeners are reached over loopback.
		return "ws://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(tcp.Port)) + s.opts.Path
	}
	return "ws://" + addr.String() + s.opts.Path
}

// PipePath returns the named-pipe socket path, or "" when disabled.
func (s *Server) PipePath() string {
	return s.opts.Pipe
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Serve accepts connections until ctx is cancelled, then stops the listeners
// and gives open sessions ShutdownGrace to finish. Blocks until every session
// has ended.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("botstream server listening", "url", s.URL(), "pipe", s.PipePath())

	errCh := make(chan error, 2)
	var loops sync.WaitGroup

	if s.httpServer != nil {
		loops.Go(func() {
			err := s.httpServer.Serve(s.wsListener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("websocket listener: %w", err)
			}
		})
	}
	if s.pipeListener != nil {
		loops.Go(func() {
			if err := s.acceptPipe(); err != nil {
				errCh <- err
			}
		})
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	// Stop accepting, then give open sessions the grace period.
	timer := time.AfterFunc(s.opts.ShutdownGrace, s.cancelSessions)
	defer timer.Stop()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
		//nolint:errcheck // hijacked WebSocket conns are tracked as sessions instead
		s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	if s.pipeListener != nil {
		s.pipeListener.Close()
	}

	loops.Wait()
	s.wg.Wait()
	s.cancelSessions()
	return err
}

// Close ends every open session and stops the listeners immediately.
func (s *Server) Close() error {
	s.cancelSessions()
	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Close())
	}
	if s.pipeListener != nil {
		errs = append(errs, s.pipeListener.Close())
	}
	return errors.Join(errs...)
}

// ServeHTTP upgrades the request to a WebSocket and runs a session on it
// until the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Counted before the hijack so Serve's shutdown waits for this session.
	s.wg.Add(1)
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.serveConn(transport.NewWebSocketConn(ws), "websocket", r.RemoteAddr)
}

func (s *Server) acceptPipe() error {
	for {
		conn, err := s.pipeListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "pipe", s.opts.Pipe, "error", err)
			continue
		}

		s.wg.Go(func() {
			s.serveConn(conn, "pipe", s.opts.Pipe)
		})
	}
}

func (s *Server) serveConn(conn transport.Conn, transportName, remote string) {
	wrapped, err := wrapConn(s.sessCtx, conn, s.opts.Compress, s.limiter)
	if err != nil {
		slog.Warn("connection setup failed", "transport", transportName, "remote", remote, "error", err)
		conn.Close()
		return
	}

	opts := s.opts.Session
	opts.Transport = transportName
	opts.Remote = remote
	sess := session.New(wrapped, s.handler, opts)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	slog.Info("new connection", "transport", transportName, "remote", remote)
	if err := sess.Run(s.sessCtx); err != nil {
		slog.Warn("session failed", "transport", transportName, "remote", remote, "error", err)
	}
	sess.Wait()
	slog.Info("connection closed", "transport", transportName, "remote", remote)
}

// wrapConn applies the configured rate limit and compression. The limit sits
// below compression so it counts wire bytes.
func wrapConn(ctx context.Context, conn transport.Conn, compress bool, limiter *rate.Limiter) (transport.Conn, error) {
	if limiter != nil {
		conn = transport.NewRateLimitedConn(ctx, conn, limiter)
	}
	if compress {
		cc, err := transport.NewCompressedConn(conn)
		if err != nil {
			return nil, err
		}
		conn = cc
	}
	return conn, nil
}
