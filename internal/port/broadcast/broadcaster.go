// Package broadcast defines the port for the ephemeral UI feed.
//
// This feed carries transient display events (agent text chunks, reasoning,
// status lines) that are never persisted as domain events. The replayable
// feed of StoredEvents is a separate subscription on the event log.
package broadcast

import "context"

// Broadcaster sends a typed ephemeral event to all connected clients.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop is a Broadcaster that discards everything. Used when no UI transport
// is attached.
type Nop struct{}

// BroadcastEvent discards the event.
func (Nop) BroadcastEvent(context.Context, string, any) {}
