package transport_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/botstream/internal/transport"
)

// shortTempDir keeps socket paths under the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bs")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestPipeRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(shortTempDir(t), "bot.sock")
	ln, err := transport.ListenPipe(path)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) //nolint:errcheck // echo until the client closes
	}()

	conn, err := transport.DialPipe(context.Background(), path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	got := make([]byte, 4)
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestListenPipeReplacesStaleSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(shortTempDir(t), "stale.sock")
	first, err := transport.ListenPipe(path)
	require.NoError(t, err)
	// Leave the socket file behind the way a crashed process would.
	if ul, ok := first.(interface{ SetUnlinkOnClose(bool) }); ok {
		ul.SetUnlinkOnClose(false)
	}
	require.NoError(t, first.Close())

	second, err := transport.ListenPipe(path)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestListenPipeRefusesRegularFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(shortTempDir(t), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := transport.ListenPipe(path)
	assert.Error(t, err)
}

func TestDialPipeMissing(t *testing.T) {
	t.Parallel()

	_, err := transport.DialPipe(context.Background(), filepath.Join(shortTempDir(t), "none.sock"))
	assert.Error(t, err)
}
