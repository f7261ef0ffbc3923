package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/metrics"
)

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Sink is one delivery target. Deliver must be safe for concurrent use.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

type Option func(*Dispatcher)

func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMaxAttempts bounds delivery attempts per sink and event.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay; attempt k waits k*delay.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelay = delay }
}

func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.enqueueTimeout = timeout }
}

func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.deliveryTimeout = timeout }
}

// Dispatcher fans events out to every sink from a bounded queue drained by a
// fixed worker pool.
type Dispatcher struct {
	sinks   []Sink
	log     zerolog.Logger
	metrics *metrics.Metrics

	buffer          int
	workers         int
	maxAttempts     int
	retryDelay      time.Duration
	enqueueTimeout  time.Duration
	deliveryTimeout time.Duration

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	stop   context.CancelFunc
}

func NewDispatcher(log zerolog.Logger, m *metrics.Metrics, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:           sinks,
		log:             log.With().Str("component", "notify").Logger(),
		metrics:         m,
		buffer:          1024,
		workers:         2,
		maxAttempts:     3,
		retryDelay:      500 * time.Millisecond,
		enqueueTimeout:  100 * time.Millisecond,
		deliveryTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = make(chan Event, d.buffer)
	return d
}

// Start launches the workers. They run until Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.stop = cancel

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.queue {
				d.metrics.QueueMoved(-1)
				d.deliver(runCtx, ev)
			}
		}()
	}
}

// Publish enqueues ev without waiting for delivery. A full queue is given
// enqueueTimeout to drain before the event is dropped.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.NotificationDropped()
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- ev:
		d.metrics.QueueMoved(1)
		return nil
	default:
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()

	select {
	case d.queue <- ev:
		d.metrics.QueueMoved(1)
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	d.metrics.NotificationDropped()
	d.log.Error().
		Str("event_id", ev.ID.String()).
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Msg("notification queue full, event dropped")
	return errors.New("notification queue full")
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx expires first, in-flight retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if d.stop != nil {
			d.stop()
		}
		return nil
	case <-ctx.Done():
		if d.stop != nil {
			d.stop()
		}
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, sink := range d.sinks {
		d.deliverToSink(ctx, sink, ev)
	}
}

func (d *Dispatcher) deliverToSink(ctx context.Context, sink Sink, ev Event) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * d.retryDelay):
			case <-ctx.Done():
				d.metrics.ObserveDelivery(sink.Name(), "abandoned")
				d.logFailure(sink, ev, attempt-1, ctx.Err())
				return
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
		err = sink.Deliver(attemptCtx, ev)
		cancel()
		if err == nil {
			d.metrics.ObserveDelivery(sink.Name(), metrics.OutcomeSuccess)
			return
		}

		d.log.Warn().
			Err(err).
			Str("sink", sink.Name()).
			Str("event_id", ev.ID.String()).
			Int("attempt", attempt).
			Msg("notification delivery attempt failed")
	}

	d.metrics.ObserveDelivery(sink.Name(), metrics.OutcomeError)
	d.logFailure(sink, ev, d.maxAttempts, err)
}

func (d *Dispatcher) logFailure(sink Sink, ev Event, attempts int, err error) {
	d.log.Error().
		Err(err).
		Str("sink", sink.Name()).
		Str("event_id", ev.ID.String()).
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Int("attempts", attempts).
		Msg("notification delivery failed")
}
