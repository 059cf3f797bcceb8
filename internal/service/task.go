package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
)

// TaskProjectionName is the persisted read-model name for the task view.
const TaskProjectionName = "tasks"

// TaskService exposes the task lifecycle. Every mutation is an append to the
// task's stream; the current state is always re-derived from the projection
// before validating a transition, so two processes sharing the log agree on
// what is legal.
type TaskService struct {
	log         *EventLogService
	projections *ProjectionService
	logger      *slog.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(log *EventLogService, projections *ProjectionService, logger *slog.Logger) *TaskService {
	return &TaskService{log: log, projections: projections, logger: logger.With("component", "task")}
}

// CreateParams carries the caller-supplied fields of a new task.
type CreateParams struct {
	Title        string
	Intent       string
	CreatedBy    string
	AgentID      string
	Priority     int
	ParentTaskID string
}

// Create appends task.created and returns the new task's ID.
func (s *TaskService) Create(ctx context.Context, p CreateParams) (string, error) {
	if p.Title == "" {
		return "", fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if p.CreatedBy == "" {
		return "", fmt.Errorf("%w: created_by is required", domain.ErrValidation)
	}
	if p.ParentTaskID != "" {
		view, err := s.View(ctx)
		if err != nil {
			return "", err
		}
		if view.Get(p.ParentTaskID) == nil {
			return "", fmt.Errorf("%w: parent task %s", domain.ErrNotFound, p.ParentTaskID)
		}
	}

	id := uuid.NewString()
	ev, err := event.New(event.TypeTaskCreated, event.TaskCreatedPayload{
		TaskID:       id,
		Title:        p.Title,
		Intent:       p.Intent,
		CreatedBy:    p.CreatedBy,
		AgentID:      p.AgentID,
		Priority:     p.Priority,
		ParentTaskID: p.ParentTaskID,
	})
	if err != nil {
		return "", fmt.Errorf("build task.created: %w", err)
	}
	if _, err := s.log.Append(ctx, id, []event.Event{ev}); err != nil {
		return "", err
	}
	s.logger.Info("task created", "task_id", id, "title", p.Title, "created_by", p.CreatedBy)
	return id, nil
}

// Start moves an open or paused task to in_progress, optionally assigning an
// agent.
func (s *TaskService) Start(ctx context.Context, taskID, agentID string) error {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	switch t.Status {
	case task.StatusOpen, task.StatusPaused:
	case task.StatusInProgress:
		return fmt.Errorf("%w: task %s already in progress", domain.ErrConflict, taskID)
	default:
		return fmt.Errorf("%w: cannot start task in status %s", domain.ErrConflict, t.Status)
	}

	ev, err := event.New(event.TypeTaskStarted, event.TaskStartedPayload{TaskID: taskID, AgentID: agentID})
	if err != nil {
		return fmt.Errorf("build task.started: %w", err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return err
	}
	s.logger.Info("task started", "task_id", taskID, "agent_id", agentID)
	return nil
}

// Pause suspends an in_progress or awaiting_user task.
func (s *TaskService) Pause(ctx context.Context, taskID, reason string) error {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusInProgress && t.Status != task.StatusAwaitingUser {
		return fmt.Errorf("%w: cannot pause task in status %s", domain.ErrConflict, t.Status)
	}
	return s.appendLifecycle(ctx, taskID, event.TypeTaskPaused, event.TaskPausedPayload{TaskID: taskID, Reason: reason})
}

// Resume moves a paused task back to in_progress.
func (s *TaskService) Resume(ctx context.Context, taskID string) error {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.StatusPaused {
		return fmt.Errorf("%w: cannot resume task in status %s", domain.ErrConflict, t.Status)
	}
	return s.appendLifecycle(ctx, taskID, event.TypeTaskResumed, event.TaskResumedPayload{TaskID: taskID})
}

// Complete records successful completion of a non-terminal task.
func (s *TaskService) Complete(ctx context.Context, taskID, output string) error {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s already %s", domain.ErrConflict, taskID, t.Status)
	}
	return s.appendLifecycle(ctx, taskID, event.TypeTaskCompleted, event.TaskCompletedPayload{TaskID: taskID, Output: output})
}

// Fail records failure of a non-terminal task with a reason.
func (s *TaskService) Fail(ctx context.Context, taskID, reason string) error {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s already %s", domain.ErrConflict, taskID, t.Status)
	}
	return s.appendLifecycle(ctx, taskID, event.TypeTaskFailed, event.TaskFailedPayload{TaskID: taskID, Reason: reason})
}

// Cancel aborts a non-terminal task.
func (s *TaskService) Cancel(ctx context.Context, taskID, reason string) error {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s already %s", domain.ErrConflict, taskID, t.Status)
	}
	return s.appendLifecycle(ctx, taskID, event.TypeTaskCanceled, event.TaskCanceledPayload{TaskID: taskID, Reason: reason})
}

// AddInstruction appends a follow-up instruction. This is the only operation
// accepted on a terminal task: it re-opens the task to in_progress.
func (s *TaskService) AddInstruction(ctx context.Context, taskID, instruction, addedBy string) error {
	if instruction == "" {
		return fmt.Errorf("%w: instruction is required", domain.ErrValidation)
	}
	if _, err := s.Get(ctx, taskID); err != nil {
		return err
	}
	if err := s.appendLifecycle(ctx, taskID, event.TypeTaskInstructionAdded, event.TaskInstructionAddedPayload{
		TaskID:      taskID,
		Instruction: instruction,
		AddedBy:     addedBy,
	}); err != nil {
		return err
	}
	s.logger.Info("instruction added", "task_id", taskID, "added_by", addedBy)
	return nil
}

// View folds the task projection up to the log head and returns it.
func (s *TaskService) View(ctx context.Context) (*task.View, error) {
	return RunProjection(ctx, s.projections, TaskProjectionName, task.NewView(),
		func(v *task.View, ev event.StoredEvent) *task.View { return v.Apply(ev) })
}

// Get returns the current view of one task.
func (s *TaskService) Get(ctx context.Context, taskID string) (*task.Task, error) {
	view, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	t := view.Get(taskID)
	if t == nil {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	return t, nil
}

// List returns all tasks, newest first, optionally filtered by status.
func (s *TaskService) List(ctx context.Context, status task.Status) ([]*task.Task, error) {
	view, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(view.Tasks))
	for _, t := range view.Tasks {
		if status != "" && t.Status != status {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// History returns the full event stream of one task.
func (s *TaskService) History(ctx context.Context, taskID string) ([]event.StoredEvent, error) {
	if _, err := s.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return s.log.ReadStream(ctx, taskID, 1)
}

func (s *TaskService) appendLifecycle(ctx context.Context, taskID string, t event.Type, payload any) error {
	ev, err := event.New(t, payload)
	if err != nil {
		return fmt.Errorf("build %s: %w", t, err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return err
	}
	s.logger.Info("task transition", "task_id", taskID, "event", t)
	return nil
}
