// Package event defines the domain event model for the append-only log.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of domain event. The set is closed: the log
// rejects events whose type has no registered payload schema.
type Type string

const (
	TypeTaskCreated          Type = "task.created"
	TypeTaskStarted          Type = "task.started"
	TypeTaskPaused           Type = "task.paused"
	TypeTaskResumed          Type = "task.resumed"
	TypeTaskCompleted        Type = "task.completed"
	TypeTaskFailed           Type = "task.failed"
	TypeTaskCanceled         Type = "task.canceled"
	TypeTaskInstructionAdded Type = "task.instruction_added"
	TypeTaskNeedsRebase      Type = "task.needs_rebase"

	TypeInteractionRequested Type = "interaction.requested"
	TypeInteractionResponded Type = "interaction.responded"

	TypePatchProposed Type = "patch.proposed"
	TypePatchApplied  Type = "patch.applied"
	TypePatchRejected Type = "patch.rejected"

	TypeArtifactChanged Type = "artifact.changed"
)

// ArtifactStreamPrefix prefixes stream IDs that carry filesystem change
// notifications rather than task lifecycle events.
const ArtifactStreamPrefix = "artifact:"

// ArtifactStream returns the stream ID for change notifications of path.
func ArtifactStream(path string) string {
	return ArtifactStreamPrefix + path
}

// Event is an immutable domain fact prior to persistence.
type Event struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StoredEvent is an Event after admission to the log. ID is the global
// sequence (strictly increasing, gapless across the whole log); Seq is the
// per-stream sequence starting at 1. StoredEvents are never mutated or
// deleted; corrections are appended as compensating events.
type StoredEvent struct {
	ID        int64           `json:"id"`
	StreamID  string          `json:"stream_id"`
	Seq       int64           `json:"seq"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an Event of the given type by marshaling payload.
func New(t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: data}, nil
}
