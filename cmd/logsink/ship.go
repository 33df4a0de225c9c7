package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bft-labs/logsink/internal/cliconfig"
	"github.com/bft-labs/logsink/internal/tail"
	"github.com/bft-labs/logsink/pkg/event"
	"github.com/bft-labs/logsink/pkg/log"
	"github.com/bft-labs/logsink/pkg/sink"
)

func newShipCommand() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var fromStart bool
	var defaultLevel string
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "ship [files...]",
		Short: "Read lines from stdin or follow files and deliver them in batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			flagCfg := cfg
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Files = args
			}
			lineLevel, err := event.ParseLevel(defaultLevel)
			if err != nil {
				return fmt.Errorf("default level: %w", err)
			}

			logger := newLogger(cfg.LogLevel)
			diag := log.NewZerologAdapterWithLogger(logger)
			log.SetSelfLog(diag.Component("sink"))
			defer log.SetSelfLog(nil)

			logger.Info().Interface("config", cfg).Msg("configuration")

			if cfg.MetricsListen != "" {
				srv := launchMetricsListener(cfg.MetricsListen, logger)
				defer srv.Close()
			}

			first, err := newSink(cfg)
			if err != nil {
				return err
			}
			s := newReloadingSink(first)

			// Setup signal handling for graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if watchConfig {
				path := resolveConfigPath(cfgPath)
				if path == "" {
					_ = s.Close()
					return errors.New("--watch-config needs a config file")
				}
				go watchAndReload(ctx, cmd, flagCfg, cfgPath, path, args, s, logger, diag.Component("config"))
			}

			doneCh := make(chan error, 1)
			go func() {
				doneCh <- readInput(ctx, cfg, fromStart, lineLevel, s, diag.Component("tail"))
			}()

			var readErr error
			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, flushing")
				cancel()
			case readErr = <-doneCh:
				logger.Info().Msg("input finished, flushing")
			}

			closeStart := time.Now()
			if err := s.Close(); err != nil {
				return fmt.Errorf("close sink: %w", err)
			}
			logger.Info().Dur("took", time.Since(closeStart)).Msg("flushed")

			if readErr != nil && !errors.Is(readErr, context.Canceled) {
				return readErr
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.logsink/config.toml)")
	flags.StringVar(&cfg.Address, "address", cfg.Address, "recipient address (mailbox://, http(s)://, forward://, fluent://)")
	flags.IntVar(&cfg.BatchPostingLimit, "batch-size", cfg.BatchPostingLimit, "maximum events per batch")
	flags.DurationVar(&cfg.Period, "period", cfg.Period, "time between flushes of a partial batch")
	flags.IntVar(&cfg.QueueLimit, "queue-limit", cfg.QueueLimit, "maximum buffered events, 0 for unbounded")
	flags.DurationVar(&cfg.DeliveryTimeout, "delivery-timeout", cfg.DeliveryTimeout, "bound on a single delivery")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "bound on the final flush")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "extra attempts for a failed batch")
	flags.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "initial retry backoff")
	flags.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "maximum retry backoff")
	flags.StringVar(&cfg.MinimumLevel, "min-level", cfg.MinimumLevel, "drop events below this level")
	flags.BoolVar(&cfg.Gzip, "gzip", cfg.Gzip, "gzip http request bodies")
	flags.StringSliceVar(&cfg.Files, "files", cfg.Files, "files to follow (alternative to arguments)")
	flags.BoolVar(&cfg.Once, "once", cfg.Once, "read input to its end, flush and exit")
	flags.BoolVar(&fromStart, "from-start", false, "read existing file content instead of only new lines")
	flags.StringVar(&defaultLevel, "level", event.Information.String(), "level for lines without a level prefix")
	flags.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "address to serve /metrics on")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "diagnostics log level")
	flags.BoolVar(&watchConfig, "watch-config", false, "rebuild the sink when the config file changes")

	return cmd
}

func newSink(cfg cliconfig.Config) (*sink.Sink, error) {
	sinkCfg, err := cfg.SinkConfig()
	if err != nil {
		return nil, err
	}
	s, err := sink.New(sinkCfg, sink.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	return s, nil
}

// watchAndReload rebuilds the sink from flags, file and env whenever the
// config file changes. Input files, metrics and log settings are fixed at
// startup; only the sink settings follow the file.
func watchAndReload(ctx context.Context, cmd *cobra.Command, flagCfg cliconfig.Config, cfgPath, path string, args []string, s *reloadingSink, logger zerolog.Logger, diag log.Logger) {
	err := cliconfig.WatchFile(ctx, path, 0, diag, func() {
		next := flagCfg
		if err := loadConfig(cmd, &next, cfgPath); err != nil {
			logger.Warn().Err(err).Msg("config reload skipped")
			return
		}
		if len(args) > 0 {
			next.Files = args
		}
		if err := s.Reload(func() (*sink.Sink, error) { return newSink(next) }); err != nil {
			logger.Warn().Err(err).Msg("config reload failed, keeping previous sink")
			return
		}
		logger.Info().Str("address", next.Address).Msg("configuration reloaded")
	})
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("config watcher stopped")
	}
}

type emitter interface {
	Emit(e event.LogEvent)
}

// readInput feeds stdin or the configured files into s until the input
// ends or ctx is canceled.
func readInput(ctx context.Context, cfg cliconfig.Config, fromStart bool, lvl event.Level, s emitter, logger log.Logger) error {
	if len(cfg.Files) == 0 {
		return tail.ReadLines(ctx, os.Stdin, func(text string) {
			s.Emit(parseLine(text, "", lvl))
		})
	}

	f := tail.New(tail.Config{FromStart: fromStart, Once: cfg.Once}, cfg.Files, logger)
	err := f.Run(ctx, func(l tail.Line) {
		s.Emit(parseLine(l.Text, l.Path, lvl))
	})
	if err == nil && !cfg.Once {
		// Run only returns nil early on cancellation
		return context.Canceled
	}
	return err
}
