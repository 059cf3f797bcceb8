// Package task defines the Task view entity and its state machine.
// Tasks are never stored directly; the view is a projection folded from the
// event log, so every rule here must be a deterministic function of
// (state, event).
package task

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/TaskLoom/internal/domain/event"
)

// Status represents the current state of a task.
type Status string

const (
	StatusOpen         Status = "open"
	StatusInProgress   Status = "in_progress"
	StatusAwaitingUser Status = "awaiting_user"
	StatusPaused       Status = "paused"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// Terminal reports whether the status accepts no further transitions other
// than task.instruction_added, which re-opens the task.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// Task is the derived view of one task stream.
type Task struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Intent               string    `json:"intent,omitempty"`
	CreatedBy            string    `json:"created_by"`
	AgentID              string    `json:"agent_id,omitempty"`
	Priority             int       `json:"priority,omitempty"`
	Status               Status    `json:"status"`
	ParentTaskID         string    `json:"parent_task_id,omitempty"`
	ChildTaskIDs         []string  `json:"child_task_ids,omitempty"`
	PendingInteractionID string    `json:"pending_interaction_id,omitempty"`
	LastInteractionID    string    `json:"last_interaction_id,omitempty"`
	NeedsRebase          bool      `json:"needs_rebase,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// View is the projection state for all tasks, keyed by task ID.
type View struct {
	Tasks map[string]*Task `json:"tasks"`
}

// NewView returns an empty task view.
func NewView() *View {
	return &View{Tasks: make(map[string]*Task)}
}

// Get returns the task with the given ID, or nil.
func (v *View) Get(id string) *Task {
	return v.Tasks[id]
}

// Apply folds one stored event into the view. Event types outside the
// transition table are no-ops, which keeps old views forward-compatible with
// new event types.
func (v *View) Apply(ev event.StoredEvent) *View {
	if v.Tasks == nil {
		v.Tasks = make(map[string]*Task)
	}

	switch ev.Type {
	case event.TypeTaskCreated:
		var p event.TaskCreatedPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return v
		}
		if _, exists := v.Tasks[p.TaskID]; exists {
			return v // creation is idempotent
		}
		t := &Task{
			ID:           p.TaskID,
			Title:        p.Title,
			Intent:       p.Intent,
			CreatedBy:    p.CreatedBy,
			AgentID:      p.AgentID,
			Priority:     p.Priority,
			Status:       StatusOpen,
			ParentTaskID: p.ParentTaskID,
			CreatedAt:    ev.CreatedAt,
			UpdatedAt:    ev.CreatedAt,
		}
		v.Tasks[p.TaskID] = t
		if parent := v.Tasks[p.ParentTaskID]; parent != nil {
			parent.ChildTaskIDs = append(parent.ChildTaskIDs, p.TaskID)
		}

	case event.TypeTaskStarted:
		if t := v.mutable(ev.StreamID); t != nil {
			var p event.TaskStartedPayload
			if json.Unmarshal(ev.Payload, &p) == nil && p.AgentID != "" {
				t.AgentID = p.AgentID
			}
			t.transition(StatusInProgress, ev.CreatedAt)
		}

	case event.TypeTaskPaused:
		if t := v.mutable(ev.StreamID); t != nil {
			t.transition(StatusPaused, ev.CreatedAt)
		}

	case event.TypeTaskResumed:
		if t := v.mutable(ev.StreamID); t != nil {
			t.transition(StatusInProgress, ev.CreatedAt)
		}

	case event.TypeTaskCompleted:
		if t := v.mutable(ev.StreamID); t != nil {
			t.PendingInteractionID = ""
			t.transition(StatusDone, ev.CreatedAt)
		}

	case event.TypeTaskFailed:
		if t := v.mutable(ev.StreamID); t != nil {
			t.PendingInteractionID = ""
			t.transition(StatusFailed, ev.CreatedAt)
		}

	case event.TypeTaskCanceled:
		if t := v.mutable(ev.StreamID); t != nil {
			t.PendingInteractionID = ""
			t.transition(StatusCanceled, ev.CreatedAt)
		}

	case event.TypeTaskInstructionAdded:
		// The one transition terminal tasks accept: a follow-up instruction
		// re-opens the task for iterative work.
		if t := v.Tasks[ev.StreamID]; t != nil {
			t.transition(StatusInProgress, ev.CreatedAt)
		}

	case event.TypeTaskNeedsRebase:
		if t := v.mutable(ev.StreamID); t != nil {
			t.NeedsRebase = true
			t.UpdatedAt = ev.CreatedAt
		}

	case event.TypeInteractionRequested:
		if t := v.mutable(ev.StreamID); t != nil {
			var p event.InteractionRequestedPayload
			if json.Unmarshal(ev.Payload, &p) != nil {
				return v
			}
			t.PendingInteractionID = p.InteractionID
			t.transition(StatusAwaitingUser, ev.CreatedAt)
		}

	case event.TypeInteractionResponded:
		if t := v.mutable(ev.StreamID); t != nil {
			var p event.InteractionRespondedPayload
			if json.Unmarshal(ev.Payload, &p) != nil {
				return v
			}
			t.LastInteractionID = p.InteractionID
			if t.PendingInteractionID == p.InteractionID {
				t.PendingInteractionID = ""
				t.transition(StatusInProgress, ev.CreatedAt)
			}
			// Responses to stale interaction IDs only record LastInteractionID.
			t.UpdatedAt = ev.CreatedAt
		}
	}

	return v
}

// mutable returns the task for a stream if it exists and is non-terminal.
func (v *View) mutable(taskID string) *Task {
	t := v.Tasks[taskID]
	if t == nil || t.Status.Terminal() {
		return nil
	}
	return t
}

func (t *Task) transition(to Status, at time.Time) {
	t.Status = to
	t.UpdatedAt = at
}
