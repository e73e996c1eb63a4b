package driven

import (
	"context"
	"encoding/json"
)

// EventHandler consumes one event payload. Returning an error asks the bus to
// redeliver the event later; handlers must be idempotent.
type EventHandler func(ctx context.Context, payload json.RawMessage) error

// EventBus is the event transport. Delivery is at-least-once: the same event
// may reach a handler more than once, in any order relative to other events.
type EventBus interface {
	// Emit publishes an event. The payload is JSON encoded.
	Emit(ctx context.Context, name string, payload any) error

	// Subscribe registers the handler of an event name. One handler per name.
	Subscribe(name string, handler EventHandler)

	// Run consumes events until ctx is cancelled.
	Run(ctx context.Context) error

	// Close stops accepting events and releases resources.
	Close() error
}
