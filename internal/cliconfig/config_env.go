package cliconfig

import (
	"os"
	"strings"
)

// ApplyEnvConfig overlays LOGSINK_* environment variables onto cfg, skipping
// any setting whose flag appears in changed. LOGSINK_FILES is comma separated.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("address", os.Getenv("LOGSINK_ADDRESS"), &cfg.Address)
	s.setString("min-level", os.Getenv("LOGSINK_MINIMUM_LEVEL"), &cfg.MinimumLevel)
	s.setString("metrics-listen", os.Getenv("LOGSINK_METRICS_LISTEN"), &cfg.MetricsListen)
	s.setString("log-level", os.Getenv("LOGSINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setStrings("files", splitList(os.Getenv("LOGSINK_FILES")), &cfg.Files)

	if err := s.setDuration("period", os.Getenv("LOGSINK_PERIOD"), &cfg.Period); err != nil {
		return err
	}
	if err := s.setDuration("delivery-timeout", os.Getenv("LOGSINK_DELIVERY_TIMEOUT"), &cfg.DeliveryTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("LOGSINK_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("retry-backoff", os.Getenv("LOGSINK_RETRY_BACKOFF"), &cfg.RetryBackoff); err != nil {
		return err
	}
	if err := s.setDuration("retry-backoff-max", os.Getenv("LOGSINK_RETRY_BACKOFF_MAX"), &cfg.RetryBackoffMax); err != nil {
		return err
	}

	if err := s.setIntFromString("batch-size", os.Getenv("LOGSINK_BATCH_POSTING_LIMIT"), &cfg.BatchPostingLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-limit", os.Getenv("LOGSINK_QUEUE_LIMIT"), &cfg.QueueLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("max-retries", os.Getenv("LOGSINK_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}

	if err := s.setBoolFromString("gzip", os.Getenv("LOGSINK_GZIP"), &cfg.Gzip); err != nil {
		return err
	}
	return s.setBoolFromString("once", os.Getenv("LOGSINK_ONCE"), &cfg.Once)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
