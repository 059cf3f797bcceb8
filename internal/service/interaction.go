package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TaskLoom/internal/adapter/otel"
	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/interaction"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
)

// InteractionService implements the ask/answer protocol between a running
// agent and the user. Both sides of the exchange are log facts, so a process
// restart between question and answer loses nothing.
type InteractionService struct {
	log     *EventLogService
	tasks   *TaskService
	logger  *slog.Logger
	metrics *otel.Metrics

	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewInteractionService creates an InteractionService. pollInterval and
// waitTimeout govern WaitForResponse.
func NewInteractionService(log *EventLogService, tasks *TaskService, logger *slog.Logger, pollInterval, waitTimeout time.Duration) *InteractionService {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &InteractionService{
		log:          log,
		tasks:        tasks,
		logger:       logger.With("component", "interaction"),
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
	}
}

// SetMetrics attaches metric instruments.
func (s *InteractionService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Request opens a question against a task and returns the interaction ID.
// The task moves to awaiting_user.
func (s *InteractionService) Request(ctx context.Context, taskID string, req interaction.Request) (string, error) {
	switch req.Kind {
	case interaction.KindConfirm, interaction.KindSelect, interaction.KindInput:
	default:
		return "", fmt.Errorf("%w: unknown interaction kind %q", domain.ErrValidation, req.Kind)
	}
	if req.Display == "" {
		return "", fmt.Errorf("%w: display text is required", domain.ErrValidation)
	}
	if (req.Kind == interaction.KindConfirm || req.Kind == interaction.KindSelect) && len(req.Options) == 0 {
		return "", fmt.Errorf("%w: %s interaction needs options", domain.ErrValidation, req.Kind)
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	if t.Status.Terminal() {
		return "", fmt.Errorf("%w: task %s is %s", domain.ErrConflict, taskID, t.Status)
	}

	id := uuid.NewString()
	ev, err := event.New(event.TypeInteractionRequested, event.InteractionRequestedPayload{
		InteractionID: id,
		TaskID:        taskID,
		Kind:          string(req.Kind),
		Purpose:       req.Purpose,
		Display:       req.Display,
		Options:       req.Options,
		Validation:    req.Validation,
	})
	if err != nil {
		return "", fmt.Errorf("build interaction.requested: %w", err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.InteractionsOpened.Add(ctx, 1)
	}
	s.logger.Info("interaction requested", "task_id", taskID, "interaction_id", id, "kind", req.Kind, "purpose", req.Purpose)
	return id, nil
}

// Respond records the user's answer to an interaction. Answers to stale or
// unknown interaction IDs are still appended (the log keeps every fact) but
// the call returns domain.ErrConflict so the caller can tell the answer did
// not unblock anything.
func (s *InteractionService) Respond(ctx context.Context, taskID, interactionID string, resp interaction.Response) error {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}

	ev, err := event.New(event.TypeInteractionResponded, event.InteractionRespondedPayload{
		InteractionID:    interactionID,
		SelectedOptionID: resp.SelectedOptionID,
		InputValue:       resp.InputValue,
		Comment:          resp.Comment,
		RespondedBy:      resp.RespondedBy,
	})
	if err != nil {
		return fmt.Errorf("build interaction.responded: %w", err)
	}
	if _, err := s.log.Append(ctx, taskID, []event.Event{ev}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.InteractionsResolved.Add(ctx, 1)
	}
	s.logger.Info("interaction responded", "task_id", taskID, "interaction_id", interactionID, "responded_by", resp.RespondedBy)

	if t.PendingInteractionID != interactionID {
		return fmt.Errorf("%w: interaction %s is not pending on task %s", domain.ErrConflict, interactionID, taskID)
	}
	return nil
}

// GetPending returns the latest unanswered interaction of a task, or
// domain.ErrNotFound when nothing is pending. Only the newest open question
// is surfaced; older unanswered ones are superseded.
func (s *InteractionService) GetPending(ctx context.Context, taskID string) (*interaction.Interaction, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusAwaitingUser || t.PendingInteractionID == "" {
		return nil, fmt.Errorf("%w: no pending interaction on task %s", domain.ErrNotFound, taskID)
	}

	events, err := s.log.ReadStream(ctx, taskID, 1)
	if err != nil {
		return nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != event.TypeInteractionRequested {
			continue
		}
		var p event.InteractionRequestedPayload
		if err := json.Unmarshal(events[i].Payload, &p); err != nil {
			return nil, fmt.Errorf("decode interaction.requested: %w", err)
		}
		if p.InteractionID != t.PendingInteractionID {
			continue
		}
		return &interaction.Interaction{
			InteractionID: p.InteractionID,
			TaskID:        p.TaskID,
			Kind:          interaction.Kind(p.Kind),
			Purpose:       p.Purpose,
			Display:       p.Display,
			Options:       p.Options,
			Validation:    p.Validation,
		}, nil
	}
	return nil, fmt.Errorf("%w: pending interaction %s not in stream %s", domain.ErrNotFound, t.PendingInteractionID, taskID)
}

// FindResponse scans a task stream for the answer to one interaction.
func (s *InteractionService) FindResponse(ctx context.Context, taskID, interactionID string) (*interaction.Response, error) {
	events, err := s.log.ReadStream(ctx, taskID, 1)
	if err != nil {
		return nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != event.TypeInteractionResponded {
			continue
		}
		var p event.InteractionRespondedPayload
		if err := json.Unmarshal(events[i].Payload, &p); err != nil {
			return nil, fmt.Errorf("decode interaction.responded: %w", err)
		}
		if p.InteractionID != interactionID {
			continue
		}
		return &interaction.Response{
			SelectedOptionID: p.SelectedOptionID,
			InputValue:       p.InputValue,
			Comment:          p.Comment,
			RespondedBy:      p.RespondedBy,
		}, nil
	}
	return nil, fmt.Errorf("%w: no response to interaction %s", domain.ErrNotFound, interactionID)
}

// WaitForResponse polls until the interaction is answered or the caller's
// context is canceled. When the configured wait window elapses unanswered it
// returns (nil, nil): the question is still open, and the caller decides
// whether to wait again. No locks are held while waiting.
func (s *InteractionService) WaitForResponse(ctx context.Context, taskID, interactionID string) (*interaction.Response, error) {
	parent := ctx
	if s.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.waitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := s.FindResponse(ctx, taskID, interactionID)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return nil, fmt.Errorf("wait for interaction %s: %w", interactionID, parent.Err())
			}
			return nil, nil
		case <-ticker.C:
		}
	}
}
