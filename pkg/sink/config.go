package sink

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/logsink/pkg/dispatch"
	"github.com/bft-labs/logsink/pkg/event"
)

// Default configuration values.
const (
	DefaultBatchPostingLimit = dispatch.DefaultBatchPostingLimit
	DefaultPeriod            = dispatch.DefaultPeriod
	DefaultDeliveryTimeout   = dispatch.DefaultDeliveryTimeout
	DefaultShutdownTimeout   = dispatch.DefaultShutdownTimeout
	DefaultRetryBackoff      = dispatch.DefaultBackoffInitial
	DefaultRetryBackoffMax   = dispatch.DefaultBackoffMax
)

// ErrInvalidConfig is wrapped by every error Config.Validate returns.
var ErrInvalidConfig = errors.New("logsink: invalid configuration")

// Config holds the sink configuration. It is copied by New and cannot be
// changed afterwards.
type Config struct {
	// Address identifies the recipient, e.g. "mailbox://app/logs",
	// "https://collector.example.com/ingest" or "forward://127.0.0.1:24224/app".
	Address string

	// BatchPostingLimit is the maximum number of events per batch.
	BatchPostingLimit int

	// Period is the time between flushes of a partial batch.
	Period time.Duration

	// QueueLimit bounds the buffer. Zero means unbounded; once the limit is
	// reached new events are dropped.
	QueueLimit int

	// DeliveryTimeout bounds the wait for a single delivery.
	DeliveryTimeout time.Duration

	// ShutdownTimeout bounds Close.
	ShutdownTimeout time.Duration

	// MaxRetries is the number of extra attempts for a failed batch.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// MinimumLevel filters events in Emit.
	MinimumLevel event.Level

	// FormatProvider customises how property values are rendered.
	FormatProvider event.FormatProvider

	// Convert maps an event to the message handed to the recipient.
	// Defaults to rendering the message template with FormatProvider.
	Convert func(event.LogEvent) (any, error)

	// Gzip compresses request bodies for http(s) addresses.
	Gzip bool
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.BatchPostingLimit == 0 {
		c.BatchPostingLimit = DefaultBatchPostingLimit
	}
	if c.Period == 0 {
		c.Period = DefaultPeriod
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if c.BatchPostingLimit <= 0 {
		return fmt.Errorf("%w: batch posting limit must be positive, got %d", ErrInvalidConfig, c.BatchPostingLimit)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", ErrInvalidConfig, c.Period)
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("%w: queue limit must not be negative, got %d", ErrInvalidConfig, c.QueueLimit)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("%w: delivery timeout must be positive, got %s", ErrInvalidConfig, c.DeliveryTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive, got %s", ErrInvalidConfig, c.ShutdownTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		return fmt.Errorf("%w: retry backoff max (%s) is below retry backoff (%s)", ErrInvalidConfig, c.RetryBackoffMax, c.RetryBackoff)
	}
	if c.MinimumLevel < event.Verbose || c.MinimumLevel > event.Fatal {
		return fmt.Errorf("%w: unknown minimum level %d", ErrInvalidConfig, int(c.MinimumLevel))
	}
	return nil
}

func (c Config) dispatchConfig() dispatch.Config {
	convert := dispatch.ConvertFunc(c.Convert)
	if convert == nil {
		convert = dispatch.RenderConverter(c.FormatProvider)
	}
	return dispatch.Config{
		BatchPostingLimit: c.BatchPostingLimit,
		Period:            c.Period,
		DeliveryTimeout:   c.DeliveryTimeout,
		ShutdownTimeout:   c.ShutdownTimeout,
		MaxRetries:        c.MaxRetries,
		RetryBackoff:      c.RetryBackoff,
		RetryBackoffMax:   c.RetryBackoffMax,
		Convert:           convert,
	}
}
