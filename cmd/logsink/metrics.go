package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// launchMetricsListener serves the default Prometheus registry on /metrics.
func launchMetricsListener(address string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: address, Handler: mux}
	go func() {
		logger.Info().Str("address", address).Msg("listening for metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener")
		}
	}()
	return server
}
