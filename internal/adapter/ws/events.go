package ws

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/TaskLoom/internal/service"
)

// Event type constants for WebSocket messages. "log.event" mirrors committed
// domain events; the rest are ephemeral display events that are never
// persisted.
const (
	EventLogEvent     = "log.event"
	EventAgentMessage = "agent.message"
	EventToolResult   = "tool.result"
	EventRunStatus    = "run.status"
)

// BroadcastEvent marshals a typed ephemeral event and broadcasts it. This is
// the broadcast port implementation used by the run-loop.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// MirrorLog subscribes the hub to the committed-event feed and pushes every
// stored event to connected clients until the context is canceled. Clients
// that need gapless history read the HTTP stream endpoints; this feed is for
// live updates, so a lag-induced resubscribe is acceptable.
func (h *Hub) MirrorLog(ctx context.Context, log *service.EventLogService) {
	go func() {
	outer:
		for {
			ch, unsubscribe := log.Subscribe(256)
			for {
				select {
				case <-ctx.Done():
					unsubscribe()
					return
				case ev, ok := <-ch:
					if !ok {
						h.logger.Warn("ws mirror lagged, resubscribing")
						unsubscribe()
						continue outer
					}
					h.BroadcastEvent(ctx, EventLogEvent, ev)
				}
			}
		}
	}()
}
