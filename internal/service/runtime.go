package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/TaskLoom/internal/adapter/otel"
	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/interaction"
	"github.com/Strob0t/TaskLoom/internal/domain/run"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
	"github.com/Strob0t/TaskLoom/internal/domain/tool"
	"github.com/Strob0t/TaskLoom/internal/port/broadcast"
	"github.com/Strob0t/TaskLoom/internal/port/llm"
	"github.com/Strob0t/TaskLoom/internal/port/snapshotstore"
	"github.com/Strob0t/TaskLoom/internal/port/toolregistry"
)

// Budget failure reasons recorded on task.failed.
const (
	FailReasonIterationLimit = "iteration_limit"
	FailReasonTokenLimit     = "token_limit"
)

const systemPrompt = "You are a coding agent working on one task. Use the " +
	"available tools to inspect and modify the workspace. When the task is " +
	"complete, reply without tool calls and summarize what you did."

// RuntimeConfig bounds one run.
type RuntimeConfig struct {
	MaxIterations    int
	MaxTokens        int
	Profile          string
	WorkspaceConsent bool
}

// RuntimeService drives agent run-loops. A run is advanced by discrete Step
// calls; between steps the full resume state lives in the snapshot store, so
// a run suspended on a confirmation (or by a process restart) continues from
// exactly where it yielded and no tool call is ever executed twice.
type RuntimeService struct {
	tasks        *TaskService
	interactions *InteractionService
	gate         *ToolGateService
	snapshots    snapshotstore.Store
	client       llm.Client
	registry     toolregistry.Registry
	broadcaster  broadcast.Broadcaster
	counter      *TokenCounter
	logger       *slog.Logger
	cfg          RuntimeConfig
}

// NewRuntimeService creates a RuntimeService.
func NewRuntimeService(
	tasks *TaskService,
	interactions *InteractionService,
	gate *ToolGateService,
	snapshots snapshotstore.Store,
	client llm.Client,
	registry toolregistry.Registry,
	broadcaster broadcast.Broadcaster,
	counter *TokenCounter,
	logger *slog.Logger,
	cfg RuntimeConfig,
) *RuntimeService {
	if broadcaster == nil {
		broadcaster = broadcast.Nop{}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200_000
	}
	return &RuntimeService{
		tasks:        tasks,
		interactions: interactions,
		gate:         gate,
		snapshots:    snapshots,
		client:       client,
		registry:     registry,
		broadcaster:  broadcaster,
		counter:      counter,
		logger:       logger.With("component", "runtime"),
		cfg:          cfg,
	}
}

// StartRun initializes (or resumes) the run-loop state for a task. An
// existing non-terminal snapshot is kept as-is so a restart never loses a
// suspension point; a terminal or absent one is replaced by a fresh run
// seeded from the task's intent and accumulated instructions.
func (s *RuntimeService) StartRun(ctx context.Context, taskID, agentID string) (*run.Snapshot, error) {
	if existing, err := s.snapshots.LoadSnapshot(ctx, taskID); err == nil {
		if !existing.Phase.Terminal() {
			return existing, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	snap := &run.Snapshot{
		TaskID:  taskID,
		AgentID: agentID,
		Phase:   run.PhaseReady,
	}
	snap.AppendMessage(run.Message{Role: "system", Content: systemPrompt})
	snap.AppendMessage(run.Message{Role: "user", Content: s.taskBrief(ctx, t)})

	if err := s.save(ctx, snap); err != nil {
		return nil, err
	}
	s.logger.Info("run started", "task_id", taskID, "agent_id", agentID)
	return snap, nil
}

// Step advances the run-loop by exactly one state transition and persists
// the resulting snapshot. It is safe to call on a suspended run: a run
// awaiting approval whose interaction is still unanswered is returned
// unchanged.
func (s *RuntimeService) Step(ctx context.Context, taskID string) (*run.Snapshot, error) {
	snap, err := s.snapshots.LoadSnapshot(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if snap.Phase.Terminal() {
		return snap, nil
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() && t.Status != task.StatusDone {
		// Canceled or failed out from under the run: stop without side effects.
		snap.Phase = run.PhaseFailed
		return snap, s.save(ctx, snap)
	}
	if t.Status == task.StatusPaused {
		return snap, nil
	}

	switch snap.Phase {
	case run.PhaseAwaitingApproval:
		err = s.stepAwaitingApproval(ctx, snap)
	case run.PhaseReady:
		err = s.stepReady(ctx, snap)
	default:
		return nil, fmt.Errorf("%w: run phase %s", domain.ErrConflict, snap.Phase)
	}
	if err != nil {
		return snap, err
	}
	return snap, s.save(ctx, snap)
}

// RunToCompletion steps the run until it terminates, blocking on pending
// confirmations by polling the log for the user's answer. Pausing or
// canceling the task stops the loop between steps.
func (s *RuntimeService) RunToCompletion(ctx context.Context, taskID string) (*run.Snapshot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := s.Step(ctx, taskID)
		if err != nil {
			return snap, err
		}
		if snap.Phase.Terminal() {
			return snap, nil
		}

		t, err := s.tasks.Get(ctx, taskID)
		if err != nil {
			return snap, err
		}
		if t.Status == task.StatusPaused || t.Status.Terminal() {
			s.logger.Info("run suspended", "task_id", taskID, "task_status", t.Status)
			return snap, nil
		}

		if snap.Phase == run.PhaseAwaitingApproval {
			if _, err := s.interactions.WaitForResponse(ctx, taskID, snap.PendingInteractionID); err != nil {
				return snap, err
			}
		}
	}
}

// Snapshot returns the current run state of a task.
func (s *RuntimeService) Snapshot(ctx context.Context, taskID string) (*run.Snapshot, error) {
	return s.snapshots.LoadSnapshot(ctx, taskID)
}

// stepReady drains one queued tool call, or, when none are queued, checks the
// budgets and asks the model for the next move.
func (s *RuntimeService) stepReady(ctx context.Context, snap *run.Snapshot) error {
	if tc := snap.PopQueuedCall(); tc != nil {
		return s.handleToolCall(ctx, snap, tc, "")
	}

	if snap.Iteration >= s.cfg.MaxIterations {
		return s.failRun(ctx, snap, FailReasonIterationLimit)
	}
	if snap.TokensUsed >= s.cfg.MaxTokens {
		return s.failRun(ctx, snap, FailReasonTokenLimit)
	}

	_, span := otel.StartStepSpan(ctx, snap.TaskID, snap.Iteration)
	resp, err := s.client.Complete(ctx, &llm.Request{
		Messages: snap.Conversation,
		Tools:    s.toolSchemas(),
		Profile:  s.cfg.Profile,
	})
	span.End()
	if err != nil {
		if ctx.Err() != nil {
			// Canceled or paused out from under the call: the run stays
			// resumable, so this is not a failure of the task.
			return err
		}
		s.logger.Error("model call failed", "task_id", snap.TaskID, "iteration", snap.Iteration, "error", err)
		return s.failRun(ctx, snap, fmt.Sprintf("model call failed: %v", err))
	}

	snap.Iteration++
	s.accountTokens(snap, resp)
	snap.AppendMessage(run.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	if resp.Content != "" {
		s.broadcaster.BroadcastEvent(ctx, "agent.message", map[string]any{
			"task_id": snap.TaskID,
			"content": resp.Content,
		})
	}

	if len(resp.ToolCalls) == 0 {
		// No tool calls: the model is done.
		snap.Phase = run.PhaseDone
		if err := s.tasks.Complete(ctx, snap.TaskID, resp.Content); err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
		s.logger.Info("run finished", "task_id", snap.TaskID, "iterations", snap.Iteration, "tokens", snap.TokensUsed)
		return nil
	}

	snap.QueuedCalls = append(snap.QueuedCalls, resp.ToolCalls...)
	return nil
}

// stepAwaitingApproval consumes the user's answer to the pending confirm
// interaction. Unanswered means no transition.
func (s *RuntimeService) stepAwaitingApproval(ctx context.Context, snap *run.Snapshot) error {
	resp, err := s.interactions.FindResponse(ctx, snap.TaskID, snap.PendingInteractionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	tc := snap.PendingCall
	interactionID := snap.PendingInteractionID
	snap.PendingCall = nil
	snap.PendingInteractionID = ""
	snap.Phase = run.PhaseReady
	if tc == nil {
		return nil
	}

	if !resp.Approved() {
		s.logger.Info("tool call rejected by user", "task_id", snap.TaskID, "call_id", tc.ID, "tool", tc.Name)
		snap.AppendMessage(run.Message{
			Role:       "tool",
			ToolCallID: tc.ID,
			Content:    "user rejected this call" + commentSuffix(resp.Comment),
		})
		return nil
	}
	return s.handleToolCall(ctx, snap, tc, interactionID)
}

// handleToolCall routes one call through the gate. A confirmation demand
// suspends the run instead of failing it.
func (s *RuntimeService) handleToolCall(ctx context.Context, snap *run.Snapshot, tc *run.ToolCall, confirmedInteractionID string) error {
	call := tool.CallRequest{CallID: tc.ID, Tool: tc.Name, Arguments: tc.Arguments}
	tctx := tool.ExecContext{
		TaskID:                 snap.TaskID,
		AgentID:                snap.AgentID,
		Actor:                  "agent:" + snap.AgentID,
		ConfirmedInteractionID: confirmedInteractionID,
		WorkspaceConsent:       s.cfg.WorkspaceConsent,
	}

	result, err := s.gate.Execute(ctx, call, tctx)
	if errors.Is(err, domain.ErrConfirmationRequired) {
		return s.suspendForApproval(ctx, snap, tc)
	}
	if err != nil {
		return err
	}

	snap.AppendMessage(run.Message{
		Role:       "tool",
		ToolCallID: result.CallID,
		Content:    result.Output,
	})
	s.broadcaster.BroadcastEvent(ctx, "tool.result", map[string]any{
		"task_id":  snap.TaskID,
		"call_id":  result.CallID,
		"tool":     tc.Name,
		"is_error": result.IsError,
	})
	return nil
}

// suspendForApproval opens a confirm interaction describing the call and
// parks the run on it.
func (s *RuntimeService) suspendForApproval(ctx context.Context, snap *run.Snapshot, tc *run.ToolCall) error {
	display := fmt.Sprintf("Agent wants to run %s with arguments:\n%s", tc.Name, indentArgs(tc.Arguments))
	id, err := s.interactions.Request(ctx, snap.TaskID, interaction.Request{
		Kind:    interaction.KindConfirm,
		Purpose: interaction.PurposeConfirmRiskyAction,
		Display: display,
		Options: interaction.ConfirmOptions(),
	})
	if err != nil {
		return fmt.Errorf("open confirmation for call %s: %w", tc.ID, err)
	}

	snap.PendingCall = tc
	snap.PendingInteractionID = id
	snap.Phase = run.PhaseAwaitingApproval
	s.logger.Info("run awaiting approval", "task_id", snap.TaskID, "call_id", tc.ID, "tool", tc.Name, "interaction_id", id)
	return nil
}

// failRun terminates the run and marks the task failed. Errors inside the
// loop end here: they become a task outcome, never an error thrown across
// the loop boundary.
func (s *RuntimeService) failRun(ctx context.Context, snap *run.Snapshot, reason string) error {
	snap.Phase = run.PhaseFailed
	s.logger.Warn("run failed", "task_id", snap.TaskID, "reason", reason, "iterations", snap.Iteration, "tokens", snap.TokensUsed)
	if err := s.tasks.Fail(ctx, snap.TaskID, reason); err != nil && !errors.Is(err, domain.ErrConflict) {
		return err
	}
	return nil
}

// accountTokens prefers exact usage reported by the backend and falls back
// to counting the conversation locally.
func (s *RuntimeService) accountTokens(snap *run.Snapshot, resp *llm.Response) {
	if resp.TokensIn > 0 || resp.TokensOut > 0 {
		snap.TokensUsed += resp.TokensIn + resp.TokensOut
		return
	}
	if s.counter == nil {
		return
	}
	n, err := s.counter.CountMessages(snap.Conversation)
	if err != nil {
		s.logger.Warn("token count failed", "task_id", snap.TaskID, "error", err)
		return
	}
	snap.TokensUsed = n
}

func (s *RuntimeService) toolSchemas() []llm.ToolSchema {
	tools := s.registry.List()
	schemas := make([]llm.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return schemas
}

// taskBrief renders the task intent plus every follow-up instruction into
// the opening user message.
func (s *RuntimeService) taskBrief(ctx context.Context, t *task.Task) string {
	brief := "Task: " + t.Title
	if t.Intent != "" {
		brief += "\n\n" + t.Intent
	}
	events, err := s.tasks.History(ctx, t.ID)
	if err != nil {
		return brief
	}
	for i := range events {
		if events[i].Type != event.TypeTaskInstructionAdded {
			continue
		}
		var p struct {
			Instruction string `json:"instruction"`
		}
		if json.Unmarshal(events[i].Payload, &p) == nil && p.Instruction != "" {
			brief += "\n\nAdditional instruction: " + p.Instruction
		}
	}
	return brief
}

func (s *RuntimeService) save(ctx context.Context, snap *run.Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save run snapshot of %s: %w", snap.TaskID, err)
	}
	return nil
}

func indentArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

func commentSuffix(comment string) string {
	if comment == "" {
		return ""
	}
	return ": " + comment
}
