package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/logsink/pkg/event"
	"github.com/bft-labs/logsink/pkg/sink"
)

// DefaultAddress is used when no address is configured.
const DefaultAddress = "http://127.0.0.1:8080/ingest"

// Config holds CLI configuration for logsink.
type Config struct {
	Address string

	BatchPostingLimit int
	Period            time.Duration
	QueueLimit        int
	DeliveryTimeout   time.Duration
	ShutdownTimeout   time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	MinimumLevel string
	Gzip         bool

	Files         []string
	Once          bool
	MetricsListen string
	LogLevel      string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Address:           DefaultAddress,
		BatchPostingLimit: sink.DefaultBatchPostingLimit,
		Period:            sink.DefaultPeriod,
		DeliveryTimeout:   sink.DefaultDeliveryTimeout,
		ShutdownTimeout:   sink.DefaultShutdownTimeout,
		RetryBackoff:      sink.DefaultRetryBackoff,
		RetryBackoffMax:   sink.DefaultRetryBackoffMax,
		MinimumLevel:      event.Verbose.String(),
		LogLevel:          "info",
	}
}

// Validate checks the configuration for errors and normalises values.
func (c *Config) Validate() error {
	c.Address = strings.TrimSpace(c.Address)
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.BatchPostingLimit <= 0 {
		return fmt.Errorf("batch posting limit must be positive")
	}
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("queue limit must not be negative")
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive")
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		return fmt.Errorf("retry backoff max %s is below retry backoff %s", c.RetryBackoffMax, c.RetryBackoff)
	}
	if c.MinimumLevel == "" {
		c.MinimumLevel = event.Verbose.String()
	}
	if _, err := event.ParseLevel(c.MinimumLevel); err != nil {
		return fmt.Errorf("minimum level: %w", err)
	}
	return nil
}

// SinkConfig converts the CLI configuration into a sink.Config.
func (c Config) SinkConfig() (sink.Config, error) {
	lvl, err := event.ParseLevel(c.MinimumLevel)
	if err != nil {
		return sink.Config{}, fmt.Errorf("minimum level: %w", err)
	}
	return sink.Config{
		Address:           c.Address,
		BatchPostingLimit: c.BatchPostingLimit,
		Period:            c.Period,
		QueueLimit:        c.QueueLimit,
		DeliveryTimeout:   c.DeliveryTimeout,
		ShutdownTimeout:   c.ShutdownTimeout,
		MaxRetries:        c.MaxRetries,
		RetryBackoff:      c.RetryBackoff,
		RetryBackoffMax:   c.RetryBackoffMax,
		MinimumLevel:      lvl,
		Gzip:              c.Gzip,
	}, nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if present and flag not changed. Zero is kept so
// Validate can judge it; negative counts are rejected here.
func (s *configSetter) setInt(flag string, value *int, dst *int) error {
	if value == nil || s.changed[flag] {
		return nil
	}
	if *value < 0 {
		return fmt.Errorf("%s must not be negative, got %d", flag, *value)
	}
	*dst = *value
	return nil
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	return s.setInt(flag, &i, dst)
}

// setBoolFromString accepts the forms strconv.ParseBool does.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
