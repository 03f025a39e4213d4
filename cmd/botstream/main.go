package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/botstream/internal/config"
	"github.com/bamsammich/botstream/internal/logging"
)

var version = "dev"

// cfg is loaded by the root command before any subcommand runs.
var cfg config.Config //nolint:gochecknoglobals // shared by subcommands

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		logFile    string
		verbose    bool
		logCloser  io.Closer
	)

	rootCmd := &cobra.Command{
		Use:           "botstream",
		Short:         "Streaming request/response protocol for bot connections",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			cfg, err = loadConfig(configPath)
			if err != nil {
				return err
			}

			level, err := cfg.Log.SlogLevel()
			if err != nil {
				slog.Warn("invalid log level in config", "error", err)
			}
			if verbose {
				level = slog.LevelDebug
			}
			logCloser, err = logging.Setup(os.Stderr, level, logFile)
			return err
		},
	}
	rootCmd.SetVersionTemplate("botstream {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "",
		"config file (default $XDG_CONFIG_HOME/botstream/config.toml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&logFile, "log", "", "write debug log to FILE (JSON)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(docsCmd)

	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		if exitErr, ok := err.(*exitError); ok {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// loadConfig reads the config file at path, or the optional default one when
// path is empty. A broken default config is logged and ignored.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		c, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		return c, nil
	}

	c, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "path", config.Path(), "error", err)
		return config.Config{}, nil
	}
	return c, nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
