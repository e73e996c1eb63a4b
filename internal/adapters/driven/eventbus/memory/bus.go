// Package memory provides an in-process event bus with at-least-once
// delivery. Events live in process memory only: a crash loses whatever is
// still queued, which a later reindex repairs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// Ensure Bus implements the interface.
var _ driven.EventBus = (*Bus)(nil)

// ErrClosed is returned by Emit after Close.
var ErrClosed = domain.ErrBusClosed

// Options tunes delivery.
type Options struct {
	// Workers is the number of concurrent handler goroutines.
	Workers int

	// MaxDeliveries is how often a failing event is attempted before it is
	// dropped.
	MaxDeliveries int

	// RetryDelay is the wait before the first redelivery; it doubles on
	// every further attempt.
	RetryDelay time.Duration
}

type message struct {
	name     string
	payload  json.RawMessage
	attempts int
	readyAt  time.Time
}

// Bus dispatches events to subscribed handlers inside the process.
// The queue is unbounded so handlers may emit while they run.
type Bus struct {
	opts Options

	mu       sync.Mutex
	handlers map[string]driven.EventHandler
	queue    []*message
	inflight int
	closed   bool
	signal   chan struct{}
}

// New creates a bus. Zero options fall back to 4 workers, 5 deliveries and
// a 100ms retry delay.
func New(opts Options) *Bus {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Bus{
		opts:     opts,
		handlers: make(map[string]driven.EventHandler),
		signal:   make(chan struct{}, 1),
	}
}

// Emit queues an event.
func (b *Bus) Emit(_ context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, &message{name: name, payload: data})
	b.mu.Unlock()

	b.wake()
	return nil
}

// Subscribe registers the handler of an event name, replacing any previous one.
func (b *Bus) Subscribe(name string, handler driven.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
}

// Run delivers events until ctx is cancelled. Handlers in flight finish
// before Run returns.
func (b *Bus) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.opts.Workers; i++ {
		g.Go(func() error {
			b.work(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Close stops accepting events. Queued events are discarded once Run exits.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Pending returns the number of queued and in-flight events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + b.inflight
}

// Wait blocks until no event is queued or in flight, or ctx is done.
func (b *Bus) Wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bus) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Bus) work(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		msg, more, wait := b.next()
		if msg != nil {
			if more {
				b.wake()
			}
			b.deliver(ctx, msg)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		case <-timer.C:
		}
	}
}

// next pops the first ready message and reports whether more are waiting.
// When none is ready it returns how long to sleep before the earliest retry
// becomes due.
func (b *Bus) next() (*message, bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	wait := time.Hour
	for i, msg := range b.queue {
		if !msg.readyAt.After(now) {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			b.inflight++
			return msg, len(b.queue) > 0, 0
		}
		if d := msg.readyAt.Sub(now); d < wait {
			wait = d
		}
	}
	return nil, false, wait
}

func (b *Bus) deliver(ctx context.Context, msg *message) {
	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	b.mu.Lock()
	handler, ok := b.handlers[msg.name]
	b.mu.Unlock()
	if !ok {
		metrics.BusDeliveries.WithLabelValues(msg.name, "unhandled").Inc()
		logger.Warn("bus: no handler for %s, event dropped", msg.name)
		return
	}

	msg.attempts++
	err := safeCall(ctx, handler, msg.payload)
	if err == nil {
		metrics.BusDeliveries.WithLabelValues(msg.name, "ok").Inc()
		return
	}
	if ctx.Err() != nil {
		// Shutting down: keep the event queued for Pending and Wait.
		msg.attempts--
		b.requeue(msg)
		return
	}
	if msg.attempts >= b.opts.MaxDeliveries {
		metrics.BusDeliveries.WithLabelValues(msg.name, "dead").Inc()
		logger.Error("bus: %s dropped after %d attempts: %v", msg.name, msg.attempts, err)
		return
	}

	metrics.BusDeliveries.WithLabelValues(msg.name, "retry").Inc()
	logger.Warn("bus: %s attempt %d failed: %v", msg.name, msg.attempts, err)
	msg.readyAt = time.Now().Add(b.opts.RetryDelay << (msg.attempts - 1))
	b.requeue(msg)
}

func (b *Bus) requeue(msg *message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	b.wake()
}

// safeCall turns a handler panic into an error so one bad event cannot take
// a worker down.
func safeCall(ctx context.Context, handler driven.EventHandler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}
