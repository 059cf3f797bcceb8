// Package eventstore defines the port interfaces for the append-only event
// log, projection records, and the tool-call audit trail.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Strob0t/TaskLoom/internal/domain/event"
)

// Store persists stored events. Implementations only persist and read;
// global ID and per-stream sequence assignment is owned by the log service,
// which serializes all appends.
type Store interface {
	// InsertBatch persists a batch atomically: either every event in the
	// batch is durable or none is.
	InsertBatch(ctx context.Context, events []event.StoredEvent) error

	// ReadAll returns events with ID > fromIDExclusive in ascending ID order.
	// fromIDExclusive = 0 reads from the beginning.
	ReadAll(ctx context.Context, fromIDExclusive int64) ([]event.StoredEvent, error)

	// ReadStream returns events of one stream with Seq >= fromSeqInclusive in
	// ascending Seq order.
	ReadStream(ctx context.Context, streamID string, fromSeqInclusive int64) ([]event.StoredEvent, error)

	// ReadByID returns the event with the given global ID, or
	// domain.ErrNotFound.
	ReadByID(ctx context.Context, id int64) (*event.StoredEvent, error)

	// Head returns the highest assigned global ID (0 for an empty log).
	Head(ctx context.Context) (int64, error)

	// StreamHead returns the highest assigned Seq of a stream (0 if the
	// stream does not exist).
	StreamHead(ctx context.Context, streamID string) (int64, error)
}

// ProjectionRecord is the persisted cursor+state pair of a named projection.
type ProjectionRecord struct {
	Name          string          `json:"name"`
	CursorEventID int64           `json:"cursor_event_id"`
	State         json.RawMessage `json:"state"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProjectionStore persists projection records. Save must write cursor and
// state atomically together.
type ProjectionStore interface {
	LoadProjection(ctx context.Context, name string) (*ProjectionRecord, error)
	SaveProjection(ctx context.Context, rec *ProjectionRecord) error
}

// AuditEntry is one tool-call lifecycle record. Entries exist for every call
// regardless of outcome, including calls that were never executed, so that
// "why didn't this run" is always reconstructable.
type AuditEntry struct {
	ID         int64           `json:"id"`
	CallID     string          `json:"call_id"`
	Tool       string          `json:"tool"`
	TaskID     string          `json:"task_id,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Phase      string          `json:"phase"` // requested, completed, error, denied, rejected, canceled
	Risk       string          `json:"risk,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditLog is the append-only tool-call audit trail, kept separate from the
// domain event log.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAuditByCall(ctx context.Context, callID string) ([]AuditEntry, error)
	ListAuditByTask(ctx context.Context, taskID string) ([]AuditEntry, error)
}
