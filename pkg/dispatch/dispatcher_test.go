package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logsink/pkg/batch"
	"github.com/bft-labs/logsink/pkg/event"
	"github.com/bft-labs/logsink/pkg/metrics"
	"github.com/bft-labs/logsink/pkg/target"
)

// recordingTarget implements target.BatchTarget and keeps every envelope.
type recordingTarget struct {
	mu      sync.Mutex
	batches [][]target.Message
	// fail, when set, is consulted before recording a batch
	fail  func(call int) error
	calls int
	block chan struct{}
}

func (r *recordingTarget) Tell(ctx context.Context, msg target.Message) error {
	return r.TellBatch(ctx, target.Envelope{Messages: []target.Message{msg}})
}

func (r *recordingTarget) TellBatch(_ context.Context, env target.Envelope) error {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail != nil {
		if err := r.fail(r.calls); err != nil {
			return err
		}
	}
	r.batches = append(r.batches, append([]target.Message(nil), env.Messages...))
	return nil
}

func (r *recordingTarget) Close() error { return nil }

func (r *recordingTarget) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recordingTarget) Sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.batches))
	for i, b := range r.batches {
		out[i] = len(b)
	}
	return out
}

func (r *recordingTarget) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		for _, m := range b {
			out = append(out, m.Body.(string))
		}
	}
	return out
}

// tellOnlyTarget has no TellBatch, so the dispatcher falls back to Tell.
type tellOnlyTarget struct {
	mu     sync.Mutex
	bodies []any
	failAt int
}

func (t *tellOnlyTarget) Tell(_ context.Context, msg target.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failAt > 0 && len(t.bodies)+1 == t.failAt {
		return errors.New("recipient rejected message")
	}
	t.bodies = append(t.bodies, msg.Body)
	return nil
}

func (t *tellOnlyTarget) Close() error { return nil }

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	successes   []uint64
	failures    []*DeliveryError
}

func (o *recordingObserver) OnStateChange(previous, current State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, previous.String()+"->"+current.String())
}

func (o *recordingObserver) OnDeliverySuccess(b *batch.Batch, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.successes = append(o.successes, b.Seq)
}

func (o *recordingObserver) OnDeliveryError(_ *batch.Batch, err *DeliveryError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func (o *recordingObserver) Failures() []*DeliveryError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*DeliveryError(nil), o.failures...)
}

func (o *recordingObserver) Transitions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.transitions...)
}

func testConfig(period time.Duration) Config {
	cfg := Config{
		BatchPostingLimit: 5,
		Period:            period,
		RetryBackoff:      time.Millisecond,
		RetryBackoffMax:   2 * time.Millisecond,
	}
	cfg.SetDefaults()
	return cfg
}

func msg(i int) event.LogEvent {
	return event.New(event.Information, "event {N}", map[string]any{"N": i})
}

func bodies(from, to int) []string {
	var out []string
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("event %d", i))
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "negative limit", mutate: func(c *Config) { c.BatchPostingLimit = -1 }, wantErr: true},
		{name: "negative period", mutate: func(c *Config) { c.Period = -time.Second }, wantErr: true},
		{name: "negative delivery timeout", mutate: func(c *Config) { c.DeliveryTimeout = -1 }, wantErr: true},
		{name: "negative shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = -1 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			cfg.SetDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDispatcher_FlushesPartialBatchOnPeriod(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	d := New(testConfig(30*time.Millisecond), buf, tg, nil, nil, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	for i := 0; i < 3; i++ {
		buf.Enqueue(msg(i))
	}

	require.Eventually(t, func() bool { return tg.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3}, tg.Sizes())
	assert.Equal(t, bodies(0, 3), tg.Bodies())
}

func TestDispatcher_SplitsIntoLimitSizedBatches(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	d := New(testConfig(50*time.Millisecond), buf, tg, nil, nil, nil)

	for i := 0; i < 12; i++ {
		buf.Enqueue(msg(i))
	}
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Eventually(t, func() bool { return tg.Calls() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{5, 5, 2}, tg.Sizes())
	assert.Equal(t, bodies(0, 12), tg.Bodies())
}

func TestDispatcher_FullBatchDoesNotWaitForPeriod(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	d := New(testConfig(time.Hour), buf, tg, nil, nil, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	for i := 0; i < 5; i++ {
		buf.Enqueue(msg(i))
	}

	require.Eventually(t, func() bool { return tg.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{5}, tg.Sizes())
}

func TestDispatcher_NoEmptyBatches(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	d := New(testConfig(10*time.Millisecond), buf, tg, nil, nil, nil)
	require.NoError(t, d.Start())

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, d.Stop())

	assert.Equal(t, 0, tg.Calls())
}

func TestDispatcher_StopDrainsRemainingEvents(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	d := New(testConfig(time.Hour), buf, tg, nil, nil, nil)
	require.NoError(t, d.Start())

	for i := 0; i < 3; i++ {
		buf.Enqueue(msg(i))
	}
	require.NoError(t, d.Stop())

	assert.Equal(t, []int{3}, tg.Sizes())
	assert.Equal(t, StateStopped, d.State())
}

func TestDispatcher_StopDrainsInChunks(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	d := New(testConfig(time.Hour), buf, tg, nil, nil, nil)

	for i := 0; i < 12; i++ {
		buf.Enqueue(msg(i))
	}
	// never started: Stop still drains
	require.NoError(t, d.Stop())

	assert.Equal(t, []int{5, 5, 2}, tg.Sizes())
	assert.Equal(t, bodies(0, 12), tg.Bodies())
	assert.Equal(t, StateStopped, d.State())
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	obs := &recordingObserver{}
	d := New(testConfig(time.Hour), buf, tg, nil, nil, obs)
	require.NoError(t, d.Start())

	buf.Enqueue(msg(0))
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())

	assert.Equal(t, 1, tg.Calls())
	assert.False(t, buf.Enqueue(msg(1)), "buffer accepts nothing after stop")

	stopped := 0
	for _, tr := range obs.Transitions() {
		if tr == "Stopping->Stopped" {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
}

func TestDispatcher_StartTwice(t *testing.T) {
	d := New(testConfig(time.Hour), batch.NewBuffer(5, 0, nil), &recordingTarget{}, nil, nil, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	assert.ErrorIs(t, d.Start(), ErrAlreadyStarted)
}

func TestDispatcher_FailureDoesNotStopLoop(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{fail: func(call int) error {
		if call == 1 {
			return errors.New("recipient unavailable")
		}
		return nil
	}}
	obs := &recordingObserver{}
	m, err := metrics.New(nil, "mailbox://test")
	require.NoError(t, err)

	d := New(testConfig(20*time.Millisecond), buf, tg, nil, m, obs)
	require.NoError(t, d.Start())
	defer d.Stop()

	for i := 0; i < 5; i++ {
		buf.Enqueue(msg(i))
	}
	require.Eventually(t, func() bool { return tg.Calls() == 1 }, time.Second, 5*time.Millisecond)

	for i := 5; i < 8; i++ {
		buf.Enqueue(msg(i))
	}
	require.Eventually(t, func() bool { return tg.Calls() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, bodies(5, 8), tg.Bodies(), "failed batch is discarded, not redelivered")

	failures := obs.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(1), failures[0].Seq)
	assert.Equal(t, 5, failures[0].Size)
	assert.Equal(t, 1, failures[0].Attempts)
	assert.EqualError(t, errors.Unwrap(failures[0]), "recipient unavailable")

	assert.Equal(t, float64(5), testutil.ToFloat64(m.Failed))
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.Delivered) == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return d.State() == StateWaiting }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_RetriesWithBackoff(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{fail: func(call int) error {
		if call <= 2 {
			return errors.New("transient")
		}
		return nil
	}}
	obs := &recordingObserver{}
	m, err := metrics.New(nil, "mailbox://retry")
	require.NoError(t, err)

	cfg := testConfig(20 * time.Millisecond)
	cfg.MaxRetries = 3
	d := New(cfg, buf, tg, nil, m, obs)
	require.NoError(t, d.Start())
	defer d.Stop()

	buf.Enqueue(msg(0))
	require.Eventually(t, func() bool { return len(tg.Sizes()) == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Batches.WithLabelValues("success")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, tg.Calls())
	assert.Empty(t, obs.Failures())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Batches.WithLabelValues("retry")))
}

func TestDispatcher_RetriesExhausted(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{fail: func(int) error { return errors.New("down") }}
	obs := &recordingObserver{}

	cfg := testConfig(20 * time.Millisecond)
	cfg.MaxRetries = 2
	d := New(cfg, buf, tg, nil, nil, obs)
	require.NoError(t, d.Start())
	defer d.Stop()

	buf.Enqueue(msg(0))
	require.Eventually(t, func() bool { return len(obs.Failures()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, tg.Calls())
	assert.Equal(t, 3, obs.Failures()[0].Attempts)
}

func TestDispatcher_BackoffRestartsForEachBatch(t *testing.T) {
	var mu sync.Mutex
	var calls []time.Time
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{fail: func(int) error {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		return errors.New("down")
	}}
	obs := &recordingObserver{}

	cfg := testConfig(10 * time.Millisecond)
	cfg.MaxRetries = 1
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Second
	d := New(cfg, buf, tg, nil, nil, obs)
	require.NoError(t, d.Start())
	defer d.Stop()

	for i := 0; i < 3; i++ {
		buf.Enqueue(msg(i))
		require.Eventually(t, func() bool { return len(obs.Failures()) == i+1 }, 3*time.Second, 5*time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 6)
	for i := 0; i < 3; i++ {
		gap := calls[2*i+1].Sub(calls[2*i])
		// 100ms ±20% plus scheduling slack
		assert.GreaterOrEqual(t, gap, 70*time.Millisecond, "batch %d", i)
		assert.Less(t, gap, 170*time.Millisecond, "batch %d", i)
	}
}

func TestDispatcher_DeliveryTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{block: release}
	obs := &recordingObserver{}

	cfg := testConfig(20 * time.Millisecond)
	cfg.DeliveryTimeout = 20 * time.Millisecond
	cfg.ShutdownTimeout = 200 * time.Millisecond
	d := New(cfg, buf, tg, nil, nil, obs)
	require.NoError(t, d.Start())

	buf.Enqueue(msg(0))
	require.Eventually(t, func() bool { return len(obs.Failures()) == 1 }, time.Second, 5*time.Millisecond)

	err := obs.Failures()[0]
	assert.ErrorIs(t, err, ErrDeliveryTimeout)
	require.Eventually(t, func() bool { return d.State() == StateWaiting }, time.Second, 5*time.Millisecond,
		"loop keeps running after a timeout")

	require.NoError(t, d.Stop())
}

func TestDispatcher_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{block: release}

	cfg := testConfig(time.Hour)
	cfg.ShutdownTimeout = 30 * time.Millisecond
	d := New(cfg, buf, tg, nil, nil, nil)
	require.NoError(t, d.Start())

	buf.Enqueue(msg(0))
	assert.ErrorIs(t, d.Stop(), ErrShutdownTimeout)
	assert.NoError(t, d.Stop())
}

func TestDispatcher_ConversionErrorIsNotRetried(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	obs := &recordingObserver{}
	bad := errors.New("cannot convert")

	cfg := testConfig(20 * time.Millisecond)
	cfg.MaxRetries = 5
	cfg.Convert = func(e event.LogEvent) (any, error) {
		if e.Properties["N"] == 1 {
			return nil, bad
		}
		return e.RenderMessage(nil), nil
	}
	d := New(cfg, buf, tg, nil, nil, obs)
	require.NoError(t, d.Start())
	defer d.Stop()

	buf.Enqueue(msg(0))
	buf.Enqueue(msg(1))
	require.Eventually(t, func() bool { return len(obs.Failures()) == 1 }, time.Second, 5*time.Millisecond)

	err := obs.Failures()[0]
	assert.ErrorIs(t, err, bad)
	assert.True(t, IsConversionError(err))
	assert.Equal(t, 0, err.Attempts)
	assert.Equal(t, 0, tg.Calls())
}

func TestDispatcher_ConvertPanicBecomesFailure(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	obs := &recordingObserver{}

	cfg := testConfig(20 * time.Millisecond)
	cfg.Convert = func(event.LogEvent) (any, error) { panic("boom") }
	d := New(cfg, buf, tg, nil, nil, obs)
	require.NoError(t, d.Start())
	defer d.Stop()

	buf.Enqueue(msg(0))
	require.Eventually(t, func() bool { return len(obs.Failures()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, obs.Failures()[0].Error(), "boom")
}

func TestDispatcher_TellFallback(t *testing.T) {
	tests := []struct {
		name       string
		failAt     int
		wantBodies []any
		wantFailed bool
	}{
		{
			name:       "all delivered in order",
			wantBodies: []any{"event 0", "event 1", "event 2"},
		},
		{
			name:       "failure aborts the rest of the batch",
			failAt:     2,
			wantBodies: []any{"event 0"},
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := batch.NewBuffer(5, 0, nil)
			tg := &tellOnlyTarget{failAt: tt.failAt}
			obs := &recordingObserver{}
			d := New(testConfig(time.Hour), buf, tg, nil, nil, obs)

			for i := 0; i < 3; i++ {
				buf.Enqueue(msg(i))
			}
			require.NoError(t, d.Stop())

			assert.Equal(t, tt.wantBodies, tg.bodies)
			assert.Equal(t, tt.wantFailed, len(obs.Failures()) == 1)
		})
	}
}

func TestDispatcher_StateTransitions(t *testing.T) {
	buf := batch.NewBuffer(5, 0, nil)
	tg := &recordingTarget{}
	obs := &recordingObserver{}
	d := New(testConfig(time.Hour), buf, tg, nil, nil, obs)
	assert.Equal(t, StateIdle, d.State())

	require.NoError(t, d.Start())
	for i := 0; i < 5; i++ {
		buf.Enqueue(msg(i))
	}
	require.Eventually(t, func() bool { return tg.Calls() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop())

	assert.Equal(t, []string{
		"Idle->Waiting",
		"Waiting->Flushing",
		"Flushing->Waiting",
		"Waiting->Stopping",
		"Stopping->Stopped",
	}, obs.Transitions())
}

func TestStateMachine_RejectsInvalidTransition(t *testing.T) {
	m := newStateMachine(nil, nil)
	err := m.TransitionTo(StateFlushing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, m.State())
}
