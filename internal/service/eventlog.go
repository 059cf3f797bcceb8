package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/TaskLoom/internal/adapter/otel"
	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
)

// EventCache is an optional read-through cache for stored events. Events are
// immutable once persisted, so cached entries never need invalidation.
type EventCache interface {
	GetEvent(ctx context.Context, id int64) (*event.StoredEvent, bool)
	PutEvent(ctx context.Context, ev *event.StoredEvent)
}

// logSubscriber is one registered consumer of the committed-event feed.
type logSubscriber struct {
	id int64
	ch chan event.StoredEvent
}

// EventLogService owns the append path of the event log. All appends are
// serialized by a single mutex so that "assign id -> assign seq -> persist ->
// notify subscribers" is atomic with respect to every other append; readers
// never take this lock and only ever observe fully committed events.
type EventLogService struct {
	store     eventstore.Store
	validator *event.Validator
	cache     EventCache
	metrics   *otel.Metrics

	mu     sync.Mutex // serializes appends; never held while reading
	loaded bool
	nextID int64
	seqs   map[string]int64

	subMu     sync.Mutex
	subs      map[int64]*logSubscriber
	nextSubID int64
}

// NewEventLogService creates the log service over a store.
func NewEventLogService(store eventstore.Store, validator *event.Validator) *EventLogService {
	return &EventLogService{
		store:     store,
		validator: validator,
		seqs:      make(map[string]int64),
		subs:      make(map[int64]*logSubscriber),
	}
}

// SetCache attaches a read-through cache for ReadByID.
func (s *EventLogService) SetCache(c EventCache) { s.cache = c }

// SetMetrics attaches metric instruments.
func (s *EventLogService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Append validates and persists a batch of events on one stream, assigning
// global IDs and per-stream sequence numbers. The batch is all-or-nothing:
// one invalid payload rejects the whole batch before anything is persisted.
// Subscribers are notified only after the batch is durable.
func (s *EventLogService) Append(ctx context.Context, streamID string, events []event.Event) ([]event.StoredEvent, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: empty stream id", domain.ErrValidation)
	}
	if len(events) == 0 {
		return nil, nil
	}

	// Validate the whole batch before taking the append lock.
	for i := range events {
		if err := s.validator.Validate(events[i]); err != nil {
			return nil, fmt.Errorf("event %d of batch: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadCountersLocked(ctx); err != nil {
		return nil, err
	}

	seq, err := s.streamSeqLocked(ctx, streamID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stored := make([]event.StoredEvent, len(events))
	for i := range events {
		s.nextID++
		seq++
		stored[i] = event.StoredEvent{
			ID:        s.nextID,
			StreamID:  streamID,
			Seq:       seq,
			Type:      events[i].Type,
			Payload:   events[i].Payload,
			CreatedAt: now,
		}
	}

	if err := s.store.InsertBatch(ctx, stored); err != nil {
		// Roll back the in-memory counter so IDs stay gapless.
		s.nextID -= int64(len(events))
		return nil, fmt.Errorf("append to %s: %w", streamID, err)
	}
	s.seqs[streamID] = seq

	for i := range stored {
		if s.cache != nil {
			s.cache.PutEvent(ctx, &stored[i])
		}
		if s.metrics != nil {
			s.metrics.EventsAppended.Add(ctx, 1)
		}
	}

	s.publish(stored)
	return stored, nil
}

// ReadAll returns committed events with ID > fromIDExclusive in ascending
// global order. 0 reads from the beginning.
func (s *EventLogService) ReadAll(ctx context.Context, fromIDExclusive int64) ([]event.StoredEvent, error) {
	return s.store.ReadAll(ctx, fromIDExclusive)
}

// ReadStream returns one stream's events with Seq >= fromSeqInclusive.
func (s *EventLogService) ReadStream(ctx context.Context, streamID string, fromSeqInclusive int64) ([]event.StoredEvent, error) {
	return s.store.ReadStream(ctx, streamID, fromSeqInclusive)
}

// ReadByID returns the event with the given global ID, or domain.ErrNotFound.
func (s *EventLogService) ReadByID(ctx context.Context, id int64) (*event.StoredEvent, error) {
	if s.cache != nil {
		if ev, ok := s.cache.GetEvent(ctx, id); ok {
			return ev, nil
		}
	}
	ev, err := s.store.ReadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.PutEvent(ctx, ev)
	}
	return ev, nil
}

// Subscribe registers a consumer of the committed-event feed. Every event is
// delivered exactly once, in append order, after durable persistence. If the
// consumer falls behind by more than buffer events, its channel is closed:
// the consumer is expected to resubscribe and catch up via ReadAll from its
// last seen ID. One slow consumer never blocks the append path or delivery
// to other consumers.
func (s *EventLogService) Subscribe(buffer int) (<-chan event.StoredEvent, func()) {
	if buffer < 1 {
		buffer = 64
	}

	s.subMu.Lock()
	s.nextSubID++
	sub := &logSubscriber{id: s.nextSubID, ch: make(chan event.StoredEvent, buffer)}
	s.subs[sub.id] = sub
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[sub.id]; ok {
			delete(s.subs, sub.id)
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

// publish delivers a committed batch to all subscribers. Called with s.mu
// held, which is what guarantees delivery in append order.
func (s *EventLogService) publish(stored []event.StoredEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, sub := range s.subs {
		lagged := false
		for i := range stored {
			select {
			case sub.ch <- stored[i]:
			default:
				lagged = true
			}
			if lagged {
				break
			}
		}
		if lagged {
			slog.Warn("event subscriber lagged, dropping subscription", "subscriber", id)
			delete(s.subs, id)
			close(sub.ch)
		}
	}
}

// loadCountersLocked initializes the id/seq counters from the store on first
// append after startup. Must be called with s.mu held.
func (s *EventLogService) loadCountersLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	head, err := s.store.Head(ctx)
	if err != nil {
		return fmt.Errorf("load log head: %w", err)
	}
	s.nextID = head

	// Per-stream heads are loaded lazily: a stream not yet in the map is
	// fetched from the store on its first append.
	s.loaded = true
	return nil
}

// streamSeqLocked returns the last sequence of a stream, consulting the
// store the first time a stream is seen after startup.
func (s *EventLogService) streamSeqLocked(ctx context.Context, streamID string) (int64, error) {
	if seq, ok := s.seqs[streamID]; ok {
		return seq, nil
	}
	seq, err := s.store.StreamHead(ctx, streamID)
	if err != nil {
		return 0, fmt.Errorf("load stream head %s: %w", streamID, err)
	}
	s.seqs[streamID] = seq
	return seq, nil
}
