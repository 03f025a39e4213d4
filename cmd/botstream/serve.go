package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/botstream/internal/config"
	"github.com/bamsammich/botstream/internal/metrics"
	"github.com/bamsammich/botstream/internal/server"
	"github.com/bamsammich/botstream/internal/session"
)

const defaultListen = ":3978"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo bot over the streaming protocol",
	Long: `Run a bot endpoint that accepts streaming-protocol connections over
WebSocket and, optionally, a named pipe (Unix socket).

Every request is answered by streaming its content streams back to the sender.
GET /api/health returns a JSON status document.

The server's endpoints are written to a discovery file under $XDG_RUNTIME_DIR
so that "botstream send" can reach it without flags. Prometheus metrics are
served on --metrics-listen when set.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	serveCmd.Flags().String("listen", defaultListen, "WebSocket listen address (host:port, empty to disable)")
	serveCmd.Flags().String("path", server.DefaultPath, "WebSocket upgrade path")
	serveCmd.Flags().String("pipe", "", "Unix socket path for named-pipe connections")
	serveCmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address")
	serveCmd.Flags().Bool("compress", false, "zstd-compress connections (clients must match)")
	serveCmd.Flags().Var(&sizeFlag{}, "send-limit", "cap outbound bandwidth across all connections (e.g., 10M)")
	serveCmd.Flags().Duration("request-timeout", config.DefaultRequestTimeout,
		"timeout for requests the server sends to clients")
	serveCmd.Flags().Duration("shutdown-grace", 30*time.Second,
		"time open sessions get to finish on shutdown")
}

//nolint:revive // cyclomatic: flag and config merging for every server option
func runServe(cmd *cobra.Command, _ []string) error {
	listen, _ := cmd.Flags().GetString("listen")                //nolint:errcheck // flag name is hardcoded
	path, _ := cmd.Flags().GetString("path")                    //nolint:errcheck // flag name is hardcoded
	pipe, _ := cmd.Flags().GetString("pipe")                    //nolint:errcheck // flag name is hardcoded
	metricsListen, _ := cmd.Flags().GetString("metrics-listen") //nolint:errcheck // flag name is hardcoded
	compress, _ := cmd.Flags().GetBool("compress")              //nolint:errcheck // flag name is hardcoded
	timeout, _ := cmd.Flags().GetDuration("request-timeout")    //nolint:errcheck // flag name is hardcoded
	grace, _ := cmd.Flags().GetDuration("shutdown-grace")       //nolint:errcheck // flag name is hardcoded

	applyServerDefaults(cmd, cfg.Server, &listen, &path, &pipe, &metricsListen)
	if !cmd.Flags().Changed("compress") && cfg.Session.Compress != nil {
		compress = *cfg.Session.Compress
	}
	if !cmd.Flags().Changed("request-timeout") {
		d, err := cfg.Session.Timeout()
		if err != nil {
			return err
		}
		timeout = d
	}
	sendLimit, err := resolveSendLimit(cmd)
	if err != nil {
		return err
	}

	srv, err := server.New(echoBot{}, server.Options{
		Listen:        listen,
		Path:          path,
		Pipe:          pipe,
		Compress:      compress,
		SendLimit:     sendLimit,
		ShutdownGrace: grace,
		Session:       session.Options{RequestTimeout: timeout},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsListen != "" {
		stopMetrics, err := serveMetrics(metricsListen)
		if err != nil {
			srv.Close()
			return err
		}
		defer stopMetrics()
	}

	if err := config.WriteDiscovery(config.Discovery{
		URL:  srv.URL(),
		Pipe: srv.PipePath(),
		PID:  os.Getpid(),
	}); err != nil {
		slog.Warn("failed to write discovery file", "error", err)
	}
	defer config.RemoveDiscovery()

	return srv.Serve(ctx)
}

// applyServerDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyServerDefaults(
	cmd *cobra.Command,
	defaults config.ServerConfig,
	listen, path, pipe, metricsListen *string,
) {
	if !cmd.Flags().Changed("listen") && defaults.Listen != nil {
		*listen = *defaults.Listen
	}
	if !cmd.Flags().Changed("path") && defaults.Path != nil {
		*path = *defaults.Path
	}
	if !cmd.Flags().Changed("pipe") && defaults.Pipe != nil {
		*pipe = *defaults.Pipe
	}
	if !cmd.Flags().Changed("metrics-listen") && defaults.MetricsListen != nil {
		*metricsListen = *defaults.MetricsListen
	}
}

// serveMetrics starts the Prometheus endpoint and returns a function that
// stops it.
func serveMetrics(addr string) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	ms := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	go func() {
		if err := ms.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ms.Shutdown(ctx) //nolint:errcheck // best-effort on exit
	}, nil
}
