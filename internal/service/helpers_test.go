package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Strob0t/TaskLoom/internal/adapter/memory"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// kernel is the shared in-memory service fixture.
type kernel struct {
	store         *memory.EventStore
	projections   *memory.ProjectionStore
	audit         *memory.AuditLog
	snapshots     *memory.SnapshotStore
	log           *EventLogService
	projectionSvc *ProjectionService
	tasks         *TaskService
	interactions  *InteractionService
}

func newKernel(t *testing.T) *kernel {
	t.Helper()

	validator, err := event.NewValidator()
	if err != nil {
		t.Fatalf("compile payload schemas: %v", err)
	}

	k := &kernel{
		store:       memory.NewEventStore(),
		projections: memory.NewProjectionStore(),
		audit:       memory.NewAuditLog(),
		snapshots:   memory.NewSnapshotStore(),
	}
	k.log = NewEventLogService(k.store, validator)
	k.projectionSvc = NewProjectionService(k.log, k.projections)
	k.tasks = NewTaskService(k.log, k.projectionSvc, testLogger())
	k.interactions = NewInteractionService(k.log, k.tasks, testLogger(), 10*time.Millisecond, time.Second)
	return k
}

// createTask appends task.created and returns the new ID.
func (k *kernel) createTask(t *testing.T, title string) string {
	t.Helper()
	id, err := k.tasks.Create(context.Background(), CreateParams{Title: title, CreatedBy: "tester"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return id
}

// mustAppend appends one event to a stream.
func (k *kernel) mustAppend(t *testing.T, streamID string, typ event.Type, payload any) event.StoredEvent {
	t.Helper()
	ev, err := event.New(typ, payload)
	if err != nil {
		t.Fatalf("build %s: %v", typ, err)
	}
	stored, err := k.log.Append(context.Background(), streamID, []event.Event{ev})
	if err != nil {
		t.Fatalf("append %s: %v", typ, err)
	}
	return stored[0]
}
