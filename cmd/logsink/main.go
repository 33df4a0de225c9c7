package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/logsink/internal/cliconfig"
)

const helpDescription = `
Ship log lines to a recipient in batches without blocking the producer.

Highlights:
  - Buffers events in memory and posts them every period or once a batch is full.
  - Delivers to in-process mailboxes, HTTP collectors or fluentd forward endpoints.
  - Flushes everything still buffered on shutdown.
  - Configure via file ($HOME/.logsink/config.toml), LOGSINK_* env, or flags.
`

var exampleUsage = strings.TrimSpace(`
  tail -F app.log | logsink ship --address https://collector.example.com/ingest
  logsink ship --address forward://127.0.0.1:24224/app /var/log/app.log
  logsink receive --listen :8080 --forward :24224
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// newLogger builds the stderr console logger used for self-diagnostics.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

// loadConfig applies file, then env, on top of cfg, leaving explicitly set
// flags untouched.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) error {
	cfgFile := resolveConfigPath(cfgPath)

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}

	// LOGSINK_* override the file but not flags
	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}

	return cfg.Validate()
}

// resolveConfigPath returns cfgPath, or the default location when it is empty.
func resolveConfigPath(cfgPath string) string {
	if cfgPath != "" {
		return cfgPath
	}
	return cliconfig.DefaultConfigPath()
}

func main() {
	root := &cobra.Command{
		Use:           "logsink",
		Short:         "Batching log shipper",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newShipCommand(), newReceiveCommand())

	if err := root.Execute(); err != nil {
		logger := newLogger("error")
		logger.Error().Err(err).Msg("logsink")
		os.Exit(1)
	}
}
