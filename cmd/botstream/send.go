package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/botstream/internal/config"
	"github.com/bamsammich/botstream/internal/protocol"
	"github.com/bamsammich/botstream/internal/server"
	"github.com/bamsammich/botstream/internal/session"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one request to a botstream server and print the response",
	Long: `Connect to a botstream server, send a single request, and copy the
response's content streams to stdout. The status code is printed to stderr.

Without --url or --pipe the endpoint of a locally running "botstream serve" is
read from its discovery file.

Exit status is 0 for a 2xx/3xx response, 1 for any other status, and 2 when
the request could not be completed. Interrupting the command cancels all
outstanding work on the connection.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSend,
}

func init() {
	sendCmd.Flags().String("url", "", "server WebSocket URL (ws:// or wss://)")
	sendCmd.Flags().String("pipe", "", "server Unix socket path")
	sendCmd.Flags().String("verb", "POST", "request verb")
	sendCmd.Flags().String("path", "/api/messages", "request path")
	sendCmd.Flags().StringP("data", "d", "", "request body")
	sendCmd.Flags().StringP("file", "f", "", "read request body from FILE (- for stdin)")
	sendCmd.Flags().String("content-type", protocol.ContentTypeJSON, "content type of the body")
	sendCmd.Flags().StringArrayP("header", "H", nil, `WebSocket handshake header ("Name: value")`)
	sendCmd.Flags().Duration("timeout", config.DefaultRequestTimeout, "request timeout (0 for none)")
	sendCmd.Flags().Bool("compress", false, "zstd-compress the connection (must match the server)")
	sendCmd.Flags().Var(&sizeFlag{}, "send-limit", "cap outbound bandwidth (e.g., 1M)")
	sendCmd.MarkFlagsMutuallyExclusive("url", "pipe")
	sendCmd.MarkFlagsMutuallyExclusive("data", "file")
}

//nolint:revive // cyclomatic: endpoint resolution, body setup, and response printing
func runSend(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")                  //nolint:errcheck // flag name is hardcoded
	pipe, _ := cmd.Flags().GetString("pipe")                //nolint:errcheck // flag name is hardcoded
	verb, _ := cmd.Flags().GetString("verb")                //nolint:errcheck // flag name is hardcoded
	path, _ := cmd.Flags().GetString("path")                //nolint:errcheck // flag name is hardcoded
	data, _ := cmd.Flags().GetString("data")                //nolint:errcheck // flag name is hardcoded
	file, _ := cmd.Flags().GetString("file")                //nolint:errcheck // flag name is hardcoded
	contentType, _ := cmd.Flags().GetString("content-type") //nolint:errcheck // flag name is hardcoded
	headers, _ := cmd.Flags().GetStringArray("header")      //nolint:errcheck // flag name is hardcoded
	timeout, _ := cmd.Flags().GetDuration("timeout")        //nolint:errcheck // flag name is hardcoded
	compress, _ := cmd.Flags().GetBool("compress")          //nolint:errcheck // flag name is hardcoded

	if url == "" && pipe == "" {
		d, err := config.ReadDiscovery()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return errors.New("no server given: pass --url or --pipe, or start `botstream serve`")
			}
			return fmt.Errorf("read discovery file: %w", err)
		}
		url, pipe = d.URL, d.Pipe
		slog.Debug("using discovered server", "url", url, "pipe", pipe, "pid", d.PID)
	}

	if !cmd.Flags().Changed("compress") && cfg.Session.Compress != nil {
		compress = *cfg.Session.Compress
	}
	if !cmd.Flags().Changed("timeout") {
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
	header, err := parseHeaders(headers)
	if err != nil {
		return err
	}

	req := protocol.NewRequest(verb, path)
	body, closeBody, err := requestBody(data, file, contentType)
	if err != nil {
		return err
	}
	defer closeBody()
	if body != nil {
		req.AddStream(body)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := server.DialOptions{
		Header:    header,
		Compress:  compress,
		SendLimit: sendLimit,
	}
	var sess *session.Session
	if pipe != "" {
		sess, err = server.DialPipe(ctx, pipe, nil, opts)
	} else {
		sess, err = server.DialWebSocket(ctx, url, nil, opts)
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := sess.SendRequest(reqCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted: tell the server to drop whatever it is still doing.
			if cerr := sess.CancelAll(); cerr != nil {
				slog.Debug("cancel all", "error", cerr)
			}
		}
		return err
	}
	defer resp.Close()

	fmt.Fprintf(os.Stderr, "status %d\n", resp.StatusCode)
	for _, s := range resp.Streams {
		slog.Debug("response stream", "id", s.ID, "type", s.Type, "length", s.Length)
		if _, err := io.Copy(os.Stdout, readerWithContext(reqCtx, s.Body)); err != nil {
			return fmt.Errorf("read response stream %s: %w", s.ID, err)
		}
	}

	if resp.StatusCode >= 400 {
		return &exitError{code: 1}
	}
	return nil
}

// requestBody builds the request's content stream from --data or --file.
// Returns a nil content when neither is set.
func requestBody(data, file, contentType string) (*protocol.Content, func(), error) {
	nop := func() {}
	switch {
	case data != "":
		return protocol.BytesContent(contentType, []byte(data)), nop, nil
	case file == "-":
		return protocol.NewContent(contentType, os.Stdin, protocol.UnknownLength), nop, nil
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return nil, nop, fmt.Errorf("open body: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nop, fmt.Errorf("stat body: %w", err)
		}
		length := protocol.UnknownLength
		if info.Mode().IsRegular() {
			length = info.Size()
		}
		return protocol.NewContent(contentType, f, length), func() { f.Close() }, nil
	default:
		return nil, nop, nil
	}
}

func parseHeaders(values []string) (http.Header, error) {
	if len(values) == 0 {
		return nil, nil
	}
	h := make(http.Header, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q (want \"Name: value\")", v)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

// contextReader bounds each read by ctx when the stream supports it.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

type readerContext interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

func (c *contextReader) Read(p []byte) (int, error) {
	if rc, ok := c.r.(readerContext); ok {
		return rc.ReadContext(c.ctx, p)
	}
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
