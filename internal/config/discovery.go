package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// discoveryPathOverride allows tests to redirect the discovery file path.
var discoveryPathOverride string //nolint:gochecknoglobals // test hook

// SetDiscoveryPathOverride sets a test override for the discovery path.
// Pass "" to restore the default.
func SetDiscoveryPathOverride(path string) {
	discoveryPathOverride = path
}

// Discovery holds the endpoints of a running `botstream serve`, so that
// `botstream send` can find it without flags.
type Discovery struct {
	URL  string `toml:"url,omitempty"`
	Pipe string `toml:"pipe,omitempty"`
	PID  int    `toml:"pid"`
}

// DiscoveryPath returns the path to the discovery file, under
// $XDG_RUNTIME_DIR when set.
func DiscoveryPath() string {
	if discoveryPathOverride != "" {
		return discoveryPathOverride
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "botstream", "server.toml")
}

// WriteDiscovery writes the discovery file, creating its directory if needed.
func WriteDiscovery(d Discovery) error {
	path := DiscoveryPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create discovery dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode discovery: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ReadDiscovery reads the discovery file. Returns os.ErrNotExist if no server
// has written one.
func ReadDiscovery() (Discovery, error) {
	var d Discovery
	_, err := toml.DecodeFile(DiscoveryPath(), &d)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Discovery{}, os.ErrNotExist
		}
		return Discovery{}, err
	}
	return d, nil
}

// RemoveDiscovery removes the discovery file (best-effort).
func RemoveDiscovery() {
	os.Remove(DiscoveryPath()) //nolint:errcheck // best-effort cleanup on shutdown
}
