package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/logsink/pkg/batch"
	"github.com/bft-labs/logsink/pkg/event"
	"github.com/bft-labs/logsink/pkg/log"
	"github.com/bft-labs/logsink/pkg/metrics"
	"github.com/bft-labs/logsink/pkg/target"
)

// Default configuration values.
const (
	DefaultBatchPostingLimit = 5
	DefaultPeriod            = 2 * time.Second
	DefaultDeliveryTimeout   = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// ConvertFunc maps an event to the message body handed to the target.
type ConvertFunc func(e event.LogEvent) (any, error)

// RenderConverter returns a ConvertFunc that renders the message template
// to a display string.
func RenderConverter(fp event.FormatProvider) ConvertFunc {
	return func(e event.LogEvent) (any, error) {
		return e.RenderMessage(fp), nil
	}
}

// Config contains the batching policy.
type Config struct {
	BatchPostingLimit int
	Period            time.Duration
	DeliveryTimeout   time.Duration
	ShutdownTimeout   time.Duration

	// MaxRetries is the number of extra attempts for a failed batch.
	// Zero discards a batch after its first failure.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// Convert defaults to RenderConverter(nil).
	Convert ConvertFunc
}

// SetDefaults fills zero values.
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
		c.RetryBackoff = DefaultBackoffInitial
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultBackoffMax
	}
	if c.Convert == nil {
		c.Convert = RenderConverter(nil)
	}
}

// Validate checks the policy values.
func (c Config) Validate() error {
	if c.BatchPostingLimit <= 0 {
		return fmt.Errorf("batch posting limit must be positive, got %d", c.BatchPostingLimit)
	}
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive, got %s", c.Period)
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive, got %s", c.DeliveryTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// Observer is notified of dispatcher activity. Calls are made synchronously
// from the dispatcher goroutine and should return quickly.
type Observer interface {
	OnStateChange(previous, current State)
	OnDeliverySuccess(b *batch.Batch, duration time.Duration)
	OnDeliveryError(b *batch.Batch, err *DeliveryError)
}

// Dispatcher drains a Buffer into a Target.
type Dispatcher struct {
	cfg      Config
	buffer   *batch.Buffer
	target   target.Target
	logger   log.Logger
	metrics  *metrics.Metrics
	observer Observer

	states  *stateMachine
	backoff *retryBackoff
	seq     uint64

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error
	stop     chan struct{}
	done     chan struct{}
}

// New creates a dispatcher in StateIdle. m and observer may be nil.
// cfg must already have defaults applied and be valid.
func New(cfg Config, buf *batch.Buffer, tg target.Target, logger log.Logger, m *metrics.Metrics, observer Observer) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	d := &Dispatcher{
		cfg:      cfg,
		buffer:   buf,
		target:   tg,
		logger:   logger,
		metrics:  m,
		observer: observer,
		backoff:  newRetryBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.states = newStateMachine(logger, func(previous, current State) {
		if d.observer != nil {
			d.observer.OnStateChange(previous, current)
		}
	})
	return d
}

// State returns the current state.
// Safe to call concurrently from any goroutine.
func (d *Dispatcher) State() State {
	return d.states.State()
}

// Done is closed once the dispatcher reaches StateStopped.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Start launches the dispatcher goroutine.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	if err := d.states.TransitionTo(StateWaiting); err != nil {
		return err
	}

	go d.run()
	return nil
}

// Stop closes the buffer, drains it and waits up to ShutdownTimeout.
// Only the first call does any work; later calls return nil.
func (d *Dispatcher) Stop() error {
	first := false
	d.stopOnce.Do(func() {
		first = true
		d.buffer.Close()

		d.mu.Lock()
		if !d.started {
			// never started: drain on a goroutine of our own
			d.started = true
			go func() {
				defer close(d.done)
				d.shutdown()
			}()
		}
		d.mu.Unlock()

		close(d.stop)

		timer := time.NewTimer(d.cfg.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-d.done:
		case <-timer.C:
			d.logger.Warn("shutdown timeout, abandoning drain",
				log.Duration("timeout", d.cfg.ShutdownTimeout),
				log.Int("remaining", d.buffer.Len()),
			)
			d.stopErr = ErrShutdownTimeout
		}
	})

	if !first {
		return nil
	}
	return d.stopErr
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			d.shutdown()
			return
		case <-ticker.C:
			d.cycle()
		case <-d.buffer.Ready():
			// stale signals from a batch already drained are ignored
			if d.buffer.Len() >= d.cfg.BatchPostingLimit {
				d.cycle()
			}
		}
	}
}

// cycle delivers one batch, and keeps going while full batches are waiting.
func (d *Dispatcher) cycle() {
	for {
		events := d.buffer.Drain(d.cfg.BatchPostingLimit)
		if len(events) == 0 {
			return
		}

		_ = d.states.TransitionTo(StateFlushing)
		d.deliver(events, true)
		_ = d.states.TransitionTo(StateWaiting)

		if d.stopping() || d.buffer.Len() < d.cfg.BatchPostingLimit {
			return
		}
	}
}

func (d *Dispatcher) shutdown() {
	_ = d.states.TransitionTo(StateStopping)

	// The buffer is closed before stop is signaled, so this terminates.
	for d.buffer.Len() > 0 {
		for _, chunk := range d.buffer.DrainAll() {
			d.deliver(chunk, false)
		}
	}

	_ = d.states.TransitionTo(StateStopped)
}

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// deliver converts and hands off one batch, applying the failure policy.
func (d *Dispatcher) deliver(events []event.LogEvent, allowRetry bool) {
	d.seq++
	b := batch.New(d.seq, events)
	d.backoff.Reset()

	start := time.Now()
	env, err := d.convert(b)
	attempts := 0
	if err == nil {
		for {
			attempts++
			err = d.send(env)
			if err == nil {
				break
			}
			if !allowRetry || attempts > d.cfg.MaxRetries {
				break
			}

			if d.metrics != nil {
				d.metrics.OnRetry()
			}
			wait := d.backoff.Next()
			d.logger.Warn("delivery failed, retrying",
				log.Uint64("batch", b.Seq),
				log.Int("attempt", attempts),
				log.Duration("backoff", wait),
				log.Err(err),
			)
			ctx, cancel := d.stopContext()
			ok := sleep(ctx, wait)
			cancel()
			if !ok {
				break
			}
		}
	}
	duration := time.Since(start)

	if err == nil {
		if d.metrics != nil {
			d.metrics.OnDelivered(b.Size(), duration)
		}
		d.logger.Debug("delivered batch",
			log.Uint64("batch", b.Seq),
			log.Int("events", b.Size()),
			log.Duration("duration", duration),
		)
		if d.observer != nil {
			d.observer.OnDeliverySuccess(b, duration)
		}
		return
	}

	derr := &DeliveryError{Seq: b.Seq, Size: b.Size(), Attempts: attempts, Err: err}
	if d.metrics != nil {
		d.metrics.OnFailed(b.Size(), duration)
	}
	d.logger.Error("delivery failed, batch discarded",
		log.Uint64("batch", b.Seq),
		log.Int("events", b.Size()),
		log.Int("attempts", attempts),
		log.Err(err),
	)
	if d.observer != nil {
		d.observer.OnDeliveryError(b, derr)
	}
}

func (d *Dispatcher) convert(b *batch.Batch) (env target.Envelope, err error) {
	env = target.Envelope{ID: b.ID, Seq: b.Seq, Messages: make([]target.Message, len(b.Events))}

	i := 0
	defer func() {
		if r := recover(); r != nil {
			err = &conversionError{index: i, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for ; i < len(b.Events); i++ {
		e := b.Events[i]
		body, cerr := d.cfg.Convert(e)
		if cerr != nil {
			return env, &conversionError{index: i, err: cerr}
		}
		env.Messages[i] = target.Message{Timestamp: e.Timestamp, Level: e.Level, Body: body}
	}
	return env, nil
}

// send performs one attempt, giving up after DeliveryTimeout. A call that
// outlives the timeout is abandoned and finishes in the background.
func (d *Dispatcher) send(env target.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("target panicked: %v", r)
			}
		}()
		result <- d.tell(ctx, env)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		// a result that raced the deadline still counts
		select {
		case err := <-result:
			return err
		default:
		}
		return fmt.Errorf("%w after %s", ErrDeliveryTimeout, d.cfg.DeliveryTimeout)
	}
}

func (d *Dispatcher) tell(ctx context.Context, env target.Envelope) error {
	if bt, ok := d.target.(target.BatchTarget); ok {
		return bt.TellBatch(ctx, env)
	}
	for i, msg := range env.Messages {
		if err := d.target.Tell(ctx, msg); err != nil {
			return fmt.Errorf("message %d of %d: %w", i+1, len(env.Messages), err)
		}
	}
	return nil
}

// stopContext is canceled when Stop is called or cancel runs.
func (d *Dispatcher) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// IsConversionError reports whether err came from the Convert function.
func IsConversionError(err error) bool {
	var ce *conversionError
	return errors.As(err, &ce)
}
