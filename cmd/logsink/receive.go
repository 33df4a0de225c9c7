package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bft-labs/logsink/pkg/target"
)

func newReceiveCommand() *cobra.Command {
	var listen, forward, logLevel string

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Run HTTP and/or forward receivers that print every message they get",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" && forward == "" {
				return fmt.Errorf("at least one of --listen or --forward is required")
			}
			logger := newLogger(logLevel)
			out := &lockedWriter{w: os.Stdout}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var wg sync.WaitGroup
			errCh := make(chan error, 2)

			if listen != "" {
				srv := &http.Server{Addr: listen, Handler: newHTTPReceiver(out, logger)}
				wg.Add(1)
				go func() {
					defer wg.Done()
					logger.Info().Str("address", listen).Msg("http receiver listening")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- fmt.Errorf("http receiver: %w", err)
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if forward != "" {
				ln, err := net.Listen("tcp", forward)
				if err != nil {
					return fmt.Errorf("forward receiver: %w", err)
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					logger.Info().Str("address", forward).Msg("forward receiver listening")
					serveForward(ctx, ln, out, logger)
				}()
			}

			select {
			case <-ctx.Done():
				logger.Info().Msg("received signal, stopping...")
			case err := <-errCh:
				cancel()
				wg.Wait()
				return err
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address for the HTTP receiver, e.g. :8080")
	cmd.Flags().StringVar(&forward, "forward", "", "address for the forward (msgpack over TCP) receiver, e.g. :24224")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "diagnostics log level")

	return cmd
}

// lockedWriter serialises writes from concurrent receivers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func printMessage(out io.Writer, ts time.Time, level string, msg any) {
	fmt.Fprintf(out, "%s [%s] %v\n", ts.UTC().Format(time.RFC3339Nano), level, msg)
}

// newHTTPReceiver accepts batches posted by an http(s) target.
func newHTTPReceiver(out io.Writer, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		msgs, err := target.DecodeHTTPBatch(r)
		if err != nil {
			logger.Warn().Err(err).Msg("rejecting batch")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Debug().
			Str("batch", r.Header.Get(target.HeaderBatchID)).
			Str("host", r.Header.Get(target.HeaderHostname)).
			Int("count", len(msgs)).
			Msg("batch received")
		for _, m := range msgs {
			printMessage(out, m.Timestamp, m.Level, m.Message)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// serveForward accepts forward-protocol connections until ctx is canceled.
func serveForward(ctx context.Context, ln net.Listener, out io.Writer, logger zerolog.Logger) {
	defer closeOnCancel(ctx, ln)()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("accept failed")
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleForwardConn(ctx, conn, out, logger)
		}()
	}
}

func handleForwardConn(ctx context.Context, conn net.Conn, out io.Writer, logger zerolog.Logger) {
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	fr := target.NewForwardReader(conn)
	for {
		tag, entries, err := fr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("forward stream ended")
			}
			return
		}
		for _, e := range entries {
			level, _ := e.Record["level"].(string)
			printMessage(out, e.Time, tag+" "+level, e.Record["message"])
		}
	}
}

// closeOnCancel closes c when ctx is canceled. The returned func releases
// the watcher and must be called once c is no longer in use.
func closeOnCancel(ctx context.Context, c io.Closer) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
