package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
// Pointer fields distinguish an absent key from an explicit zero.
type FileConfig struct {
	Address           string   `toml:"address"`
	BatchPostingLimit *int     `toml:"batch_posting_limit"`
	Period            string   `toml:"period"`
	QueueLimit        *int     `toml:"queue_limit"`
	DeliveryTimeout   string   `toml:"delivery_timeout"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	MaxRetries        *int     `toml:"max_retries"`
	RetryBackoff      string   `toml:"retry_backoff"`
	RetryBackoffMax   string   `toml:"retry_backoff_max"`
	MinimumLevel      string   `toml:"minimum_level"`
	Gzip              *bool    `toml:"gzip"`
	Files             []string `toml:"files"`
	Once              *bool    `toml:"once"`
	MetricsListen     string   `toml:"metrics_listen"`
	LogLevel          string   `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.logsink/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".logsink", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("address", fc.Address, &cfg.Address)
	s.setString("min-level", fc.MinimumLevel, &cfg.MinimumLevel)
	s.setString("metrics-listen", fc.MetricsListen, &cfg.MetricsListen)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setStrings("files", fc.Files, &cfg.Files)

	if err := s.setDuration("period", fc.Period, &cfg.Period); err != nil {
		return err
	}
	if err := s.setDuration("delivery-timeout", fc.DeliveryTimeout, &cfg.DeliveryTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("retry-backoff", fc.RetryBackoff, &cfg.RetryBackoff); err != nil {
		return err
	}
	if err := s.setDuration("retry-backoff-max", fc.RetryBackoffMax, &cfg.RetryBackoffMax); err != nil {
		return err
	}

	if err := s.setInt("batch-size", fc.BatchPostingLimit, &cfg.BatchPostingLimit); err != nil {
		return err
	}
	if err := s.setInt("queue-limit", fc.QueueLimit, &cfg.QueueLimit); err != nil {
		return err
	}
	if err := s.setInt("max-retries", fc.MaxRetries, &cfg.MaxRetries); err != nil {
		return err
	}

	s.setBool("gzip", fc.Gzip, &cfg.Gzip)
	s.setBool("once", fc.Once, &cfg.Once)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
