// Package events fans booking lifecycle events out to delivery sinks on a
// bounded worker pool, so committing a booking never waits on a broker.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

// Sink delivers one event somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event scheduler.Event) error
}

// Recorder observes delivery outcomes, e.g. for metrics.
type Recorder interface {
	EventDelivered(sink string, kind string, err error)
	EventDropped(kind string)
}

// ErrClosed is returned by Shutdown when called twice.
var ErrClosed = errors.New("events: dispatcher closed")

// Dispatcher implements scheduler.Publisher with a buffered queue drained by
// a fixed number of workers.
type Dispatcher struct {
	queue    chan scheduler.Event
	sinks    []Sink
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder attaches a delivery observer.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithDeliveryTimeout bounds each sink delivery.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher creates a dispatcher with the given queue size and worker count.
func NewDispatcher(buffer, workers int, logger *slog.Logger, sinks []Sink, opts ...Option) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		queue:   make(chan scheduler.Event, buffer),
		sinks:   sinks,
		workers: workers,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "events"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker goroutines. Workers exit when ctx is cancelled
// or once Shutdown has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Publish enqueues event without blocking. A full queue drops the event.
func (d *Dispatcher) Publish(ctx context.Context, event scheduler.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, event, "closed")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.drop(ctx, event, "queue full")
	}
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Shutdown stops intake and waits for queued events to be delivered or for
// ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.logger.DebugContext(ctx, "event worker started", "worker", id)
	for {
		select {
		case event, ok := <-d.queue:
			if !ok {
				d.logger.DebugContext(ctx, "event worker drained", "worker", id)
				return
			}
			d.deliver(ctx, event)
		case <-ctx.Done():
			d.logger.DebugContext(ctx, "event worker shutting down", "worker", id)
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event scheduler.Event) {
	for _, sink := range d.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(deliverCtx, event)
		cancel()
		if err != nil {
			d.logger.WarnContext(ctx, "event delivery failed",
				"sink", sink.Name(),
				"event", string(event.Type),
				"booking_id", event.BookingID,
				"error", err,
			)
		}
		if d.recorder != nil {
			d.recorder.EventDelivered(sink.Name(), string(event.Type), err)
		}
	}
}

func (d *Dispatcher) drop(ctx context.Context, event scheduler.Event, reason string) {
	d.dropped.Add(1)
	d.logger.WarnContext(ctx, "event dropped", "event", string(event.Type), "booking_id", event.BookingID, "reason", reason)
	if d.recorder != nil {
		d.recorder.EventDropped(string(event.Type))
	}
}

var _ scheduler.Publisher = (*Dispatcher)(nil)
