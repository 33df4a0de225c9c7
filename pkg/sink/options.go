package sink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/logsink/pkg/log"
	"github.com/bft-labs/logsink/pkg/target"
)

// Option configures optional behavior of a Sink.
type Option func(*options)

type options struct {
	logger       log.Logger
	target       target.Target
	eventHandler EventHandler
	registerer   prometheus.Registerer
	targetOpts   []target.Option
}

func defaultOptions() options {
	return options{
		logger: log.Deferred(),
	}
}

// WithLogger sets the logger for the sink's own diagnostics.
// If not provided, messages go to log.SelfLog.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTarget bypasses address resolution and delivers to t.
// Config.Address is still required and used as the metrics label.
func WithTarget(t target.Target) Option {
	return func(o *options) {
		o.target = t
	}
}

// WithEventHandler sets a handler for sink events.
// Delivery and state events are called synchronously from the dispatcher
// goroutine, drop events from the goroutine calling Emit.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithRegisterer registers the sink's Prometheus collectors with reg.
// If not provided, metrics are collected but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithHTTPClient sets the client used for http(s) addresses.
func WithHTTPClient(client target.HTTPClient) Option {
	return func(o *options) {
		o.targetOpts = append(o.targetOpts, target.WithHTTPClient(client))
	}
}

// WithRegistry resolves mailbox addresses against r.
func WithRegistry(r *target.Registry) Option {
	return func(o *options) {
		o.targetOpts = append(o.targetOpts, target.WithRegistry(r))
	}
}
