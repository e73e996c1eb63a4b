// Package redis implements the event bus on Redis Streams. Each event name
// is one stream; every worker process joins the same consumer group, so an
// event is handled by one consumer and redelivered to another when it stays
// unacknowledged.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// Ensure Bus implements the interface.
var _ driven.EventBus = (*Bus)(nil)

// Options configures the stream bus.
type Options struct {
	// Prefix namespaces stream keys, e.g. "queryindex:".
	Prefix string

	// Group is the consumer group shared by all workers.
	Group string

	// Consumer names this process inside the group. Defaults to
	// hostname plus a random suffix.
	Consumer string

	// Workers is the number of concurrent readers in this process.
	Workers int

	// MaxDeliveries caps redelivery of a failing event.
	MaxDeliveries int

	// MaxLen approximately trims each stream.
	MaxLen int64

	// Block is how long one read waits for new entries.
	Block time.Duration

	// ClaimIdle is how long an entry stays unacknowledged before another
	// consumer takes it over.
	ClaimIdle time.Duration
}

func (o *Options) defaults() {
	if o.Prefix == "" {
		o.Prefix = "queryindex:"
	}
	if o.Group == "" {
		o.Group = "queryindex"
	}
	if o.Consumer == "" {
		host, _ := os.Hostname()
		o.Consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.MaxLen <= 0 {
		o.MaxLen = 100000
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = time.Minute
	}
}

// Bus is a Redis Streams consumer-group event bus.
type Bus struct {
	client *goredis.Client
	opts   Options

	mu       sync.RWMutex
	handlers map[string]driven.EventHandler
}

// New creates a bus on an existing client.
func New(client *goredis.Client, opts Options) *Bus {
	opts.defaults()
	return &Bus{
		client:   client,
		opts:     opts,
		handlers: make(map[string]driven.EventHandler),
	}
}

// Open creates a bus on a new client for addr. The connection is made on
// first use.
func Open(addr string, opts Options) *Bus {
	return New(goredis.NewClient(&goredis.Options{Addr: addr}), opts)
}

// Stream returns the stream key of an event name.
func (b *Bus) Stream(name string) string {
	return b.opts.Prefix + "events:" + name
}

func (b *Bus) eventName(stream string) string {
	return strings.TrimPrefix(stream, b.opts.Prefix+"events:")
}

// Emit appends the event to its stream.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	err = b.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.Stream(name),
		MaxLen: b.opts.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if errors.Is(err, goredis.ErrClosed) {
		return domain.ErrBusClosed
	}
	if err != nil {
		return fmt.Errorf("xadd %s: %w", name, err)
	}
	return nil
}

// Subscribe registers the handler of an event name. Call before Run.
func (b *Bus) Subscribe(name string, handler driven.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
}

// Run creates the consumer group of every subscribed stream and consumes
// until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	streams := b.subscribedStreams()
	if len(streams) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, stream := range streams {
		err := b.client.XGroupCreateMkStream(ctx, stream, b.opts.Group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("create group on %s: %w", stream, err)
		}
	}
	logger.Info("bus: consumer %s joined group %s on %d streams", b.opts.Consumer, b.opts.Group, len(streams))

	// XREADGROUP takes every stream key followed by one id per stream.
	args := make([]string, 0, 2*len(streams))
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.opts.Workers; i++ {
		g.Go(func() error {
			return b.read(gctx, args)
		})
	}
	g.Go(func() error {
		return b.reclaim(gctx, streams)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// Close releases the client.
func (b *Bus) Close() error {
	return b.client.Close()
}

func (b *Bus) subscribedStreams() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		out = append(out, b.Stream(name))
	}
	return out
}

func (b *Bus) read(ctx context.Context, streams []string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		results, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			Streams:  streams,
			Count:    10,
			Block:    b.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Error("bus: xreadgroup: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		for _, res := range results {
			for _, msg := range res.Messages {
				b.handle(ctx, res.Stream, msg)
			}
		}
	}
}

// reclaim takes over entries left pending by failed handlers or dead
// consumers, and drops those that reached the delivery cap.
func (b *Bus) reclaim(ctx context.Context, streams []string) error {
	ticker := time.NewTicker(b.opts.ClaimIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for _, stream := range streams {
			if err := b.reclaimStream(ctx, stream); err != nil && ctx.Err() == nil {
				logger.Error("bus: reclaim %s: %v", stream, err)
			}
		}
	}
}

func (b *Bus) reclaimStream(ctx context.Context, stream string) error {
	pending, err := b.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  b.opts.Group,
		Idle:   b.opts.ClaimIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return err
	}

	name := b.eventName(stream)
	var claim []string
	for _, p := range pending {
		if int(p.RetryCount) >= b.opts.MaxDeliveries {
			metrics.BusDeliveries.WithLabelValues(name, "dead").Inc()
			logger.Error("bus: %s entry %s dropped after %d deliveries", name, p.ID, p.RetryCount)
			if err := b.client.XAck(ctx, stream, b.opts.Group, p.ID).Err(); err != nil {
				return err
			}
			continue
		}
		claim = append(claim, p.ID)
	}
	if len(claim) == 0 {
		return nil
	}

	msgs, err := b.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		MinIdle:  b.opts.ClaimIdle,
		Messages: claim,
	}).Result()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		b.handle(ctx, stream, msg)
	}
	return nil
}

// handle runs the handler of one entry and acknowledges it on success.
// Failed entries stay pending until reclaimed.
func (b *Bus) handle(ctx context.Context, stream string, msg goredis.XMessage) {
	name := b.eventName(stream)
	b.mu.RLock()
	handler, ok := b.handlers[name]
	b.mu.RUnlock()

	data, isString := msg.Values["data"].(string)
	if !ok || !isString {
		metrics.BusDeliveries.WithLabelValues(name, "unhandled").Inc()
		logger.Warn("bus: dropping %s entry %s", name, msg.ID)
		b.ack(ctx, stream, msg.ID)
		return
	}

	if err := safeCall(ctx, handler, json.RawMessage(data)); err != nil {
		metrics.BusDeliveries.WithLabelValues(name, "retry").Inc()
		logger.Warn("bus: %s entry %s failed: %v", name, msg.ID, err)
		return
	}
	metrics.BusDeliveries.WithLabelValues(name, "ok").Inc()
	b.ack(ctx, stream, msg.ID)
}

func (b *Bus) ack(ctx context.Context, stream, id string) {
	// Acknowledge even when ctx is cancelled: the work is done.
	if err := b.client.XAck(context.WithoutCancel(ctx), stream, b.opts.Group, id).Err(); err != nil {
		logger.Error("bus: xack %s %s: %v", stream, id, err)
	}
}

func safeCall(ctx context.Context, handler driven.EventHandler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
