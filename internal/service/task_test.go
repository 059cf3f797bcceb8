package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
)

func TestTaskCreateValidation(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	if _, err := k.tasks.Create(ctx, CreateParams{CreatedBy: "u"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}
	if _, err := k.tasks.Create(ctx, CreateParams{Title: "t"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty created_by, got %v", err)
	}
	if _, err := k.tasks.Create(ctx, CreateParams{Title: "t", CreatedBy: "u", ParentTaskID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing parent, got %v", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	id := k.createTask(t, "build feature")

	if err := k.tasks.Start(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.tasks.Pause(ctx, id, "lunch"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := k.tasks.Resume(ctx, id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := k.tasks.Complete(ctx, id, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := k.tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if got.AgentID != "agent-1" {
		t.Fatalf("expected agent recorded on start, got %q", got.AgentID)
	}
}

func TestTaskIllegalTransitions(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(id string)
		op      func(id string) error
	}{
		{
			name:    "start an in-progress task",
			prepare: func(id string) { _ = k.tasks.Start(ctx, id, "a") },
			op:      func(id string) error { return k.tasks.Start(ctx, id, "b") },
		},
		{
			name:    "pause an open task",
			prepare: func(id string) {},
			op:      func(id string) error { return k.tasks.Pause(ctx, id, "") },
		},
		{
			name:    "resume a task that is not paused",
			prepare: func(id string) { _ = k.tasks.Start(ctx, id, "a") },
			op:      func(id string) error { return k.tasks.Resume(ctx, id) },
		},
		{
			name: "complete a canceled task",
			prepare: func(id string) {
				_ = k.tasks.Cancel(ctx, id, "nope")
			},
			op: func(id string) error { return k.tasks.Complete(ctx, id, "") },
		},
		{
			name: "cancel a failed task",
			prepare: func(id string) {
				_ = k.tasks.Start(ctx, id, "a")
				_ = k.tasks.Fail(ctx, id, "boom")
			},
			op: func(id string) error { return k.tasks.Cancel(ctx, id, "") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := k.createTask(t, tt.name)
			tt.prepare(id)
			if err := tt.op(id); !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
		})
	}
}

func TestTaskInstructionReopensTerminal(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	id := k.createTask(t, "one more thing")

	if err := k.tasks.Start(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.tasks.Complete(ctx, id, "v1 shipped"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := k.tasks.AddInstruction(ctx, id, "also update the docs", "user"); err != nil {
		t.Fatalf("add instruction: %v", err)
	}

	got, err := k.tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusInProgress {
		t.Fatalf("expected instruction to re-open task, got %s", got.Status)
	}
}

func TestTaskGetNotFound(t *testing.T) {
	k := newKernel(t)
	if _, err := k.tasks.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTaskListFiltersByStatus(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	a := k.createTask(t, "a")
	b := k.createTask(t, "b")
	c := k.createTask(t, "c")
	if err := k.tasks.Start(ctx, b, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	open, err := k.tasks.List(ctx, task.StatusOpen)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open tasks, got %d", len(open))
	}
	// Newest first.
	if open[0].ID != c || open[1].ID != a {
		t.Fatalf("unexpected order: %s, %s", open[0].ID, open[1].ID)
	}

	all, err := k.tasks.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
}

func TestTaskHistory(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	id := k.createTask(t, "trace me")
	if err := k.tasks.Start(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	events, err := k.tasks.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, ev.Seq)
		}
	}
}
