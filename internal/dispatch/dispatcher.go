// Package dispatch routes normalized events to handler logic under a bounded
// worker pool with per-chat ordering.
//
// Model:
//   - One logical FIFO queue per chat id, created on demand.
//   - A queue is drained by at most one goroutine at a time, so same-chat
//     events are handled strictly in submission order.
//   - At most MaxWorkers queues drain concurrently; the bound protects the
//     store connection pool and the transports from saturation.
//   - A handler panic is caught and logged; the chat queue proceeds to the
//     next event.
//   - A full chat queue rejects further submissions with ErrQueueSaturated,
//     pushing backpressure to the transport receive loop instead of
//     buffering without bound.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warden-bot/warden/internal/domain"
)

// ErrQueueSaturated signals that a chat's backlog hit the configured depth.
// The caller should throttle at the transport rather than retry blindly.
var ErrQueueSaturated = errors.New("chat queue saturated")

// ErrClosed is returned by Submit after Close has begun.
var ErrClosed = errors.New("dispatcher closed")

var (
	evSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_submitted_total",
			Help: "Events accepted into a chat queue, by source transport.",
		},
		[]string{"source"},
	)
	evSaturated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_events_saturated_total",
			Help: "Submissions rejected because the chat queue was full.",
		},
	)
	evPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_handler_panics_total",
			Help: "Handler panics caught by the dispatcher.",
		},
	)
	queuedEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_events_queued",
			Help: "Events currently buffered across all chat queues.",
		},
	)
)

func init() {
	prometheus.MustRegister(evSubmitted, evSaturated, evPanics, queuedEvents)
}

// Handler processes one normalized event. Returned errors are logged, not
// retried: retry semantics belong to Actions, which handlers create.
type Handler func(ctx context.Context, ev domain.Event) error

// Ack confirms an event has been queued for its chat's worker slot. It does
// not imply handler completion.
type Ack struct {
	EventID string
	// QueuePos is the 1-based position in the chat's backlog at admission.
	QueuePos int
}

// Config tunes the dispatcher.
type Config struct {
	// MaxWorkers bounds how many chat queues drain concurrently.
	MaxWorkers int
	// MaxQueueDepth bounds each chat's backlog.
	MaxQueueDepth int
}

// Dispatcher owns the chat queues and the worker pool. Construct with New,
// feed with Submit, stop with Close.
type Dispatcher struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger

	mu     sync.Mutex
	queues map[int64]*chatQueue
	closed bool

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// chatQueue is one chat's FIFO backlog plus its drain state. Guarded by the
// dispatcher mutex; draining holds no lock between events.
type chatQueue struct {
	events  []domain.Event
	running bool
}

// New constructs a Dispatcher. Non-positive config values fall back to
// conservative defaults.
func New(cfg Config, h Handler) *Dispatcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		handler: h,
		logger:  log.With().Str("component", "dispatch").Logger(),
		queues:  make(map[int64]*chatQueue),
		sem:     make(chan struct{}, cfg.MaxWorkers),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit queues ev for its chat and returns an Ack once the event is owned
// by the chat's worker slot. Fails with ErrQueueSaturated when the chat's
// backlog is full and ErrClosed after shutdown has begun.
func (d *Dispatcher) Submit(ev domain.Event) (Ack, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Ack{}, ErrClosed
	}

	q, ok := d.queues[ev.ChatID]
	if !ok {
		q = &chatQueue{}
		d.queues[ev.ChatID] = q
	}
	if len(q.events) >= d.cfg.MaxQueueDepth {
		d.mu.Unlock()
		evSaturated.Inc()
		return Ack{}, ErrQueueSaturated
	}

	q.events = append(q.events, ev)
	pos := len(q.events)
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(ev.ChatID, q)
	}
	d.mu.Unlock()

	evSubmitted.WithLabelValues(string(ev.Source)).Inc()
	queuedEvents.Inc()
	return Ack{EventID: ev.ID, QueuePos: pos}, nil
}

// drain processes one chat's backlog to empty, holding a worker slot for the
// whole run. Only one drain exists per chat at a time, which is the per-chat
// ordering guarantee.
func (d *Dispatcher) drain(chatID int64, q *chatQueue) {
	defer d.wg.Done()

	// Wait for a free worker slot. Shutdown still drains: Close cancels the
	// context only after its grace period.
	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		d.abandon(chatID, q)
		return
	}
	defer func() { <-d.sem }()

	for {
		d.mu.Lock()
		if len(q.events) == 0 || d.ctx.Err() != nil {
			if len(q.events) > 0 {
				d.mu.Unlock()
				d.abandon(chatID, q)
				return
			}
			q.running = false
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		d.mu.Unlock()

		queuedEvents.Dec()
		d.handle(ev)
	}
}

// abandon drops a queue's remaining events on forced shutdown, with a log so
// the loss is visible. Durable state is unaffected: events are transient,
// Actions are not.
func (d *Dispatcher) abandon(chatID int64, q *chatQueue) {
	d.mu.Lock()
	n := len(q.events)
	q.events = nil
	q.running = false
	d.mu.Unlock()
	if n > 0 {
		queuedEvents.Sub(float64(n))
		d.logger.Warn().Int64("chat_id", chatID).Int("dropped", n).
			Msg("dropping queued events on forced shutdown")
	}
}

// handle runs the handler for one event, converting panics into logs so a
// misbehaving handler cannot take down the pool.
func (d *Dispatcher) handle(ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			evPanics.Inc()
			d.logger.Error().
				Interface("panic", r).
				Str("event_id", ev.ID).
				Int64("chat_id", ev.ChatID).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
		}
	}()

	if err := d.handler(d.ctx, ev); err != nil {
		d.logger.Warn().
			Err(err).
			Str("event_id", ev.ID).
			Int64("chat_id", ev.ChatID).
			Str("kind", string(ev.Kind)).
			Msg("handler failed")
	}
}

// Close stops admissions and waits for all queues to drain. If ctx expires
// first, in-flight work is cancelled and remaining backlogs are dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// QueueDepth reports the current backlog for a chat, for tests and the admin
// surface.
func (d *Dispatcher) QueueDepth(chatID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[chatID]; ok {
		return len(q.events)
	}
	return 0
}
