// Package memory provides in-memory implementations of the storage ports,
// used in tests and in single-process runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/run"
	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
)

// EventStore implements eventstore.Store in memory.
type EventStore struct {
	mu     sync.RWMutex
	events []event.StoredEvent
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// InsertBatch persists the batch, all or nothing.
func (s *EventStore) InsertBatch(_ context.Context, events []event.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range events {
		for j := range s.events {
			if s.events[j].ID == events[i].ID {
				return fmt.Errorf("%w: event id %d already exists", domain.ErrConflict, events[i].ID)
			}
			if s.events[j].StreamID == events[i].StreamID && s.events[j].Seq == events[i].Seq {
				return fmt.Errorf("%w: stream %s seq %d already exists", domain.ErrConflict, events[i].StreamID, events[i].Seq)
			}
		}
	}
	s.events = append(s.events, events...)
	return nil
}

// ReadAll returns events with ID > fromIDExclusive in ascending ID order.
func (s *EventStore) ReadAll(_ context.Context, fromIDExclusive int64) ([]event.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.StoredEvent
	for i := range s.events {
		if s.events[i].ID > fromIDExclusive {
			out = append(out, s.events[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadStream returns one stream's events with Seq >= fromSeqInclusive.
func (s *EventStore) ReadStream(_ context.Context, streamID string, fromSeqInclusive int64) ([]event.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.StoredEvent
	for i := range s.events {
		if s.events[i].StreamID == streamID && s.events[i].Seq >= fromSeqInclusive {
			out = append(out, s.events[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ReadByID returns the event with the given global ID.
func (s *EventStore) ReadByID(_ context.Context, id int64) (*event.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].ID == id {
			ev := s.events[i]
			return &ev, nil
		}
	}
	return nil, fmt.Errorf("event %d: %w", id, domain.ErrNotFound)
}

// Head returns the highest assigned global ID.
func (s *EventStore) Head(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var head int64
	for i := range s.events {
		if s.events[i].ID > head {
			head = s.events[i].ID
		}
	}
	return head, nil
}

// StreamHead returns the highest assigned Seq of a stream.
func (s *EventStore) StreamHead(_ context.Context, streamID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var head int64
	for i := range s.events {
		if s.events[i].StreamID == streamID && s.events[i].Seq > head {
			head = s.events[i].Seq
		}
	}
	return head, nil
}

// ProjectionStore implements eventstore.ProjectionStore in memory.
type ProjectionStore struct {
	mu      sync.RWMutex
	records map[string]eventstore.ProjectionRecord
}

// NewProjectionStore creates an empty ProjectionStore.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{records: make(map[string]eventstore.ProjectionRecord)}
}

// LoadProjection returns the record for name, or domain.ErrNotFound.
func (s *ProjectionStore) LoadProjection(_ context.Context, name string) (*eventstore.ProjectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("projection %s: %w", name, domain.ErrNotFound)
	}
	copied := rec
	return &copied, nil
}

// SaveProjection upserts the record.
func (s *ProjectionStore) SaveProjection(_ context.Context, rec *eventstore.ProjectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = *rec
	return nil
}

// AuditLog implements eventstore.AuditLog in memory.
type AuditLog struct {
	mu      sync.RWMutex
	nextID  int64
	entries []eventstore.AuditEntry
}

// NewAuditLog creates an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// AppendAudit appends one entry and assigns its ID.
func (s *AuditLog) AppendAudit(_ context.Context, entry *eventstore.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, *entry)
	return nil
}

// ListAuditByCall returns the trail of one call in insertion order.
func (s *AuditLog) ListAuditByCall(_ context.Context, callID string) ([]eventstore.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventstore.AuditEntry
	for i := range s.entries {
		if s.entries[i].CallID == callID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// ListAuditByTask returns the trail of one task in insertion order.
func (s *AuditLog) ListAuditByTask(_ context.Context, taskID string) ([]eventstore.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventstore.AuditEntry
	for i := range s.entries {
		if s.entries[i].TaskID == taskID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// SnapshotStore implements snapshotstore.Store in memory.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]run.Snapshot
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]run.Snapshot)}
}

// SaveSnapshot upserts the snapshot for a task.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap *run.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.TaskID] = *snap
	return nil
}

// LoadSnapshot returns the snapshot for a task, or domain.ErrNotFound.
func (s *SnapshotStore) LoadSnapshot(_ context.Context, taskID string) (*run.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[taskID]
	if !ok {
		return nil, fmt.Errorf("snapshot of %s: %w", taskID, domain.ErrNotFound)
	}
	copied := snap
	return &copied, nil
}

// DeleteSnapshot removes the snapshot for a task.
func (s *SnapshotStore) DeleteSnapshot(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, taskID)
	return nil
}
