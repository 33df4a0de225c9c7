package sink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/logsink/pkg/batch"
	"github.com/bft-labs/logsink/pkg/dispatch"
	"github.com/bft-labs/logsink/pkg/event"
	"github.com/bft-labs/logsink/pkg/log"
	"github.com/bft-labs/logsink/pkg/metrics"
	"github.com/bft-labs/logsink/pkg/target"
)

// resolveTarget is replaced in tests.
var resolveTarget = target.Resolve

// Sink buffers log events and delivers them in batches.
// Use New() to create an instance; it is running when New returns.
type Sink struct {
	config     Config
	buffer     *batch.Buffer
	dispatcher *dispatch.Dispatcher
	target     target.Target
	logger     log.Logger
	metrics    *metrics.Metrics
	handler    EventHandler

	removeGauge func()

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, resolves the target and starts the dispatcher.
// Returns an error wrapping ErrInvalidConfig if configuration is invalid.
func New(cfg Config, opts ...Option) (*Sink, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.Nop()
	}

	tg := o.target
	owned := tg == nil
	if owned {
		targetOpts := append([]target.Option{target.WithGzip(cfg.Gzip)}, o.targetOpts...)
		resolved, err := resolveTarget(cfg.Address, targetOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		tg = resolved
	}

	m, err := metrics.New(o.registerer, cfg.Address)
	if err != nil {
		if owned {
			_ = tg.Close()
		}
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s := &Sink{
		config:  cfg,
		target:  tg,
		logger:  logger,
		metrics: m,
		handler: o.eventHandler,
	}
	s.buffer = batch.NewBuffer(cfg.BatchPostingLimit, cfg.QueueLimit, s.onDrop)
	s.removeGauge = metrics.RegisterQueueLength(o.registerer, cfg.Address, s.buffer.Len)

	s.dispatcher = dispatch.New(cfg.dispatchConfig(), s.buffer, tg, logger, m, observer{s})
	if err := s.dispatcher.Start(); err != nil {
		s.removeGauge()
		if owned {
			_ = tg.Close()
		}
		return nil, err
	}

	logger.Info("sink started",
		log.String("address", cfg.Address),
		log.Int("batch_posting_limit", cfg.BatchPostingLimit),
		log.Duration("period", cfg.Period),
		log.Int("queue_limit", cfg.QueueLimit),
	)
	return s, nil
}

// Emit queues e for delivery. It never blocks on I/O and never fails;
// events below MinimumLevel are ignored and refused events are reported
// through the diagnostics channels.
func (s *Sink) Emit(e event.LogEvent) {
	s.TryEmit(e)
}

// TryEmit is Emit that reports whether e was accepted.
func (s *Sink) TryEmit(e event.LogEvent) bool {
	if e.Level < s.config.MinimumLevel {
		return false
	}
	if !s.buffer.Enqueue(e) {
		return false
	}
	s.metrics.OnEmitted()
	return true
}

// Close stops accepting events, delivers everything still buffered and
// releases the target. It waits up to ShutdownTimeout and returns
// dispatch.ErrShutdownTimeout if the drain did not finish in time.
// Only the first call does any work.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		defer s.removeGauge()
		stopErr := s.dispatcher.Stop()
		if stopErr != nil {
			// the dispatcher still owns the target
			s.closeErr = stopErr
			return
		}
		if err := s.target.Close(); err != nil {
			s.closeErr = fmt.Errorf("close target: %w", err)
		}
		s.logger.Info("sink closed",
			log.Uint64("dropped", s.buffer.Dropped()),
		)
	})
	return s.closeErr
}

// Status returns the current dispatcher state.
// Safe to call concurrently from any goroutine.
func (s *Sink) Status() State {
	return s.dispatcher.State()
}

// Len returns the number of events waiting for delivery.
func (s *Sink) Len() int {
	return s.buffer.Len()
}

// Config returns the effective configuration.
func (s *Sink) Config() Config {
	return s.config
}

func (s *Sink) onDrop(e event.LogEvent, reason error) {
	s.metrics.OnDropped(reason)
	if errors.Is(reason, batch.ErrBufferFull) {
		s.logger.Warn("queue limit reached, dropping event",
			log.Int("queue_limit", s.config.QueueLimit),
			log.Level(e.Level),
		)
	} else {
		s.logger.Warn("sink closed, dropping event",
			log.Level(e.Level),
		)
	}
	if s.handler != nil {
		s.handler.OnDrop(DropEvent{Event: e, Reason: reason})
	}
}

// observer adapts EventHandler to dispatch.Observer.
type observer struct {
	s *Sink
}

func (o observer) OnStateChange(previous, current dispatch.State) {
	if o.s.handler == nil {
		return
	}
	o.s.handler.OnStateChange(StateChangeEvent{
		Previous:  previous,
		Current:   current,
		Timestamp: time.Now(),
	})
}

func (o observer) OnDeliverySuccess(b *batch.Batch, duration time.Duration) {
	if o.s.handler == nil {
		return
	}
	o.s.handler.OnDeliverySuccess(DeliverySuccessEvent{
		Seq:      b.Seq,
		BatchID:  b.ID,
		Count:    b.Size(),
		Duration: duration,
	})
}

func (o observer) OnDeliveryError(b *batch.Batch, err *dispatch.DeliveryError) {
	if o.s.handler == nil {
		return
	}
	o.s.handler.OnDeliveryError(DeliveryErrorEvent{
		Seq:      b.Seq,
		BatchID:  b.ID,
		Count:    b.Size(),
		Attempts: err.Attempts,
		Error:    err,
	})
}
