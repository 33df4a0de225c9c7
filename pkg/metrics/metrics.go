// Package metrics exposes the sink's self-diagnostics as Prometheus metrics.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/logsink/pkg/batch"
)

// Namespace prefixes every metric name.
const Namespace = "logsink"

// Drop reasons used as the "reason" label.
const (
	ReasonClosed = "closed"
	ReasonFull   = "full"
	ReasonOther  = "other"
)

// Metrics holds the collectors for one sink.
type Metrics struct {
	Emitted   prometheus.Counter
	Dropped   *prometheus.CounterVec
	Delivered prometheus.Counter
	Failed    prometheus.Counter
	Batches   *prometheus.CounterVec
	Duration  prometheus.Histogram
}

// New creates collectors labelled with the target address and registers them
// with reg. A nil reg leaves them unregistered. Collectors that are already
// registered under the same labels are reused, so several sinks pointing at
// the same address share counters.
func New(reg prometheus.Registerer, address string) (*Metrics, error) {
	labels := prometheus.Labels{"target": address}

	m := &Metrics{
		Emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "events_emitted_total",
			Help:        "Events accepted into the buffer.",
			ConstLabels: labels,
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "events_dropped_total",
			Help:        "Events refused by the buffer.",
			ConstLabels: labels,
		}, []string{"reason"}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "events_delivered_total",
			Help:        "Events handed off to the target.",
			ConstLabels: labels,
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "events_failed_total",
			Help:        "Events discarded after a failed delivery.",
			ConstLabels: labels,
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "batches_total",
			Help:        "Delivery attempts by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Name:        "delivery_seconds",
			Help:        "Time spent in a delivery attempt.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.Emitted = register(reg, m.Emitted, &err).(prometheus.Counter)
	m.Dropped = register(reg, m.Dropped, &err).(*prometheus.CounterVec)
	m.Delivered = register(reg, m.Delivered, &err).(prometheus.Counter)
	m.Failed = register(reg, m.Failed, &err).(prometheus.Counter)
	m.Batches = register(reg, m.Batches, &err).(*prometheus.CounterVec)
	m.Duration = register(reg, m.Duration, &err).(prometheus.Histogram)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector, errOut *error) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		if *errOut == nil {
			*errOut = err
		}
	}
	return c
}

// RegisterQueueLength adds fn to the logsink_queue_length gauge for address
// and returns a func that removes it again. The gauge reports the sum over
// every live source, so sinks sharing an address share one series.
func RegisterQueueLength(reg prometheus.Registerer, address string, fn func() int) (remove func()) {
	if reg == nil {
		return func() {}
	}

	q := newQueueLength(address)
	if err := reg.Register(q); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return func() {}
		}
		existing, ok := are.ExistingCollector.(*queueLength)
		if !ok {
			return func() {}
		}
		q = existing
	}

	id := q.add(fn)
	return func() { q.remove(id) }
}

type queueLength struct {
	desc *prometheus.Desc

	mu      sync.Mutex
	nextID  int
	sources map[int]func() int
}

func newQueueLength(address string) *queueLength {
	return &queueLength{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "queue_length"),
			"Events waiting in the buffer.",
			nil,
			prometheus.Labels{"target": address},
		),
		sources: make(map[int]func() int),
	}
}

func (q *queueLength) add(fn func() int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.sources[q.nextID] = fn
	return q.nextID
}

func (q *queueLength) remove(id int) {
	q.mu.Lock()
	delete(q.sources, id)
	q.mu.Unlock()
}

func (q *queueLength) Describe(ch chan<- *prometheus.Desc) {
	ch <- q.desc
}

func (q *queueLength) Collect(ch chan<- prometheus.Metric) {
	q.mu.Lock()
	total := 0
	for _, fn := range q.sources {
		total += fn()
	}
	q.mu.Unlock()
	ch <- prometheus.MustNewConstMetric(q.desc, prometheus.GaugeValue, float64(total))
}

// OnEmitted counts one accepted event.
func (m *Metrics) OnEmitted() {
	m.Emitted.Inc()
}

// OnDropped counts one refused event.
func (m *Metrics) OnDropped(reason error) {
	m.Dropped.WithLabelValues(DropReason(reason)).Inc()
}

// OnDelivered records a successful hand-off of n events.
func (m *Metrics) OnDelivered(n int, d time.Duration) {
	m.Delivered.Add(float64(n))
	m.Batches.WithLabelValues("success").Inc()
	m.Duration.Observe(d.Seconds())
}

// OnFailed records a discarded batch of n events.
func (m *Metrics) OnFailed(n int, d time.Duration) {
	m.Failed.Add(float64(n))
	m.Batches.WithLabelValues("failure").Inc()
	m.Duration.Observe(d.Seconds())
}

// OnRetry records a failed attempt that will be retried.
func (m *Metrics) OnRetry() {
	m.Batches.WithLabelValues("retry").Inc()
}

// DropReason maps a buffer drop error to its label value.
func DropReason(err error) string {
	switch {
	case errors.Is(err, batch.ErrBufferClosed):
		return ReasonClosed
	case errors.Is(err, batch.ErrBufferFull):
		return ReasonFull
	default:
		return ReasonOther
	}
}
