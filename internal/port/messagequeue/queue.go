// Package messagequeue defines the message queue port used to relay
// committed events to processes attached to the same workspace.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects for the cross-process event relay. Only the master process
// publishes; attached clients subscribe.
const (
	// SubjectEventsCommitted carries every StoredEvent after durable
	// persistence, in append order.
	SubjectEventsCommitted = "events.committed"

	// SubjectEventsUI carries ephemeral UI events (not replayable).
	SubjectEventsUI = "events.ui"
)
