package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/port/messagequeue"
	"github.com/Strob0t/TaskLoom/internal/service"
)

// Relay publishes every committed event to the queue so that client
// processes and external consumers see the same ordered feed the master
// sees in-process. Ordering is preserved by consuming the log subscription
// from a single goroutine.
type Relay struct {
	log    *service.EventLogService
	queue  messagequeue.Queue
	logger *slog.Logger
	stop   context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a Relay.
func NewRelay(log *service.EventLogService, queue messagequeue.Queue, logger *slog.Logger) *Relay {
	return &Relay{log: log, queue: queue, logger: logger.With("component", "nats-relay")}
}

// Start begins relaying. It returns immediately.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.stop = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop halts the relay and waits for the publisher goroutine.
func (r *Relay) Stop() {
	if r.stop != nil {
		r.stop()
		<-r.done
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	// Relay only events committed after startup; history is already in the
	// stream from previous runs.
	var lastSeen int64
	if events, err := r.log.ReadAll(ctx, 0); err == nil && len(events) > 0 {
		lastSeen = events[len(events)-1].ID
	}

	for {
		ch, unsubscribe := r.log.Subscribe(512)
		lastSeen = r.catchUp(ctx, lastSeen)

		open := true
		for open {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case ev, ok := <-ch:
				if !ok {
					r.logger.Warn("relay lagged behind the event feed")
					open = false
					break
				}
				if ev.ID <= lastSeen {
					continue
				}
				lastSeen = ev.ID
				r.publish(ctx, ev)
			}
		}
		unsubscribe()
	}
}

func (r *Relay) catchUp(ctx context.Context, lastSeen int64) int64 {
	events, err := r.log.ReadAll(ctx, lastSeen)
	if err != nil {
		r.logger.Error("relay catch-up", "error", err)
		return lastSeen
	}
	for i := range events {
		lastSeen = events[i].ID
		r.publish(ctx, events[i])
	}
	return lastSeen
}

func (r *Relay) publish(ctx context.Context, ev event.StoredEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode relayed event", "id", ev.ID, "error", err)
		return
	}
	if err := r.queue.Publish(ctx, messagequeue.SubjectEventsCommitted, data); err != nil {
		r.logger.Error("publish relayed event", "id", ev.ID, "error", err)
	}
}
