package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/TaskLoom/internal/adapter/tools"
	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/interaction"
	"github.com/Strob0t/TaskLoom/internal/domain/run"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
	"github.com/Strob0t/TaskLoom/internal/port/llm"
)

// scriptedClient replays a fixed sequence of model responses, then keeps
// answering with a final message.
type scriptedClient struct {
	responses []*llm.Response
	calls     int
	err       error
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.calls >= len(c.responses) {
		return &llm.Response{Content: "all done"}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func toolCallResponse(callID, name, args string) *llm.Response {
	return &llm.Response{
		ToolCalls: []run.ToolCall{{ID: callID, Name: name, Arguments: json.RawMessage(args)}},
	}
}

func newRuntime(k *kernel, client llm.Client, cfg RuntimeConfig, fts ...*fakeTool) *RuntimeService {
	reg := tools.NewRegistry()
	for _, ft := range fts {
		reg.Register(ft)
	}
	gate := NewToolGateService(reg, k.audit, testLogger())
	return NewRuntimeService(k.tasks, k.interactions, gate, k.snapshots, client, reg, nil, nil, testLogger(), cfg)
}

func startedTask(t *testing.T, k *kernel, title string) string {
	t.Helper()
	id := k.createTask(t, title)
	if err := k.tasks.Start(context.Background(), id, "agent-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return id
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	client := &scriptedClient{responses: []*llm.Response{{Content: "nothing to do", TokensIn: 10, TokensOut: 5}}}
	rt := newRuntime(k, client, RuntimeConfig{})
	id := startedTask(t, k, "trivial")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	snap, err := rt.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Phase != run.PhaseDone {
		t.Fatalf("expected done, got %s", snap.Phase)
	}
	if snap.TokensUsed != 15 {
		t.Fatalf("expected backend usage accounted, got %d", snap.TokensUsed)
	}

	tk, err := k.tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.Status != task.StatusDone {
		t.Fatalf("expected task done, got %s", tk.Status)
	}
}

func TestRunExecutesSafeToolCall(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	ft := &fakeTool{name: "read_file", schema: pathSchema, output: "package main"}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "read_file", `{"path":"main.go"}`),
	}}
	rt := newRuntime(k, client, RuntimeConfig{}, ft)
	id := startedTask(t, k, "read something")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	snap, err := rt.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Phase != run.PhaseDone {
		t.Fatalf("expected done, got %s", snap.Phase)
	}
	if ft.calls != 1 {
		t.Fatalf("expected one tool execution, got %d", ft.calls)
	}

	var toolMsg *run.Message
	for i := range snap.Conversation {
		if snap.Conversation[i].Role == "tool" {
			toolMsg = &snap.Conversation[i]
		}
	}
	if toolMsg == nil || toolMsg.Content != "package main" || toolMsg.ToolCallID != "c1" {
		t.Fatalf("tool result missing from conversation: %+v", toolMsg)
	}
}

func TestRunSuspendsOnRiskyCallAndResumesOnApproval(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	ft := &fakeTool{name: "write_file", risk: "risky", output: "written"}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "write_file", `{}`),
	}}
	rt := newRuntime(k, client, RuntimeConfig{}, ft)
	id := startedTask(t, k, "risky edit")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}

	// First step queues the call, second step hits the gate and suspends.
	if _, err := rt.Step(ctx, id); err != nil {
		t.Fatalf("step 1: %v", err)
	}
	snap, err := rt.Step(ctx, id)
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if snap.Phase != run.PhaseAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", snap.Phase)
	}
	if ft.calls != 0 {
		t.Fatal("risky call must not execute before approval")
	}

	pending, err := k.interactions.GetPending(ctx, id)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if pending.Kind != interaction.KindConfirm || !strings.Contains(pending.Display, "write_file") {
		t.Fatalf("unexpected confirmation interaction: %+v", pending)
	}

	// An unanswered interaction leaves the run parked.
	snap, err = rt.Step(ctx, id)
	if err != nil {
		t.Fatalf("parked step: %v", err)
	}
	if snap.Phase != run.PhaseAwaitingApproval {
		t.Fatalf("expected run to stay parked, got %s", snap.Phase)
	}

	err = k.interactions.Respond(ctx, id, pending.InteractionID, interaction.Response{
		SelectedOptionID: interaction.OptionApprove,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	snap, err = rt.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if snap.Phase != run.PhaseDone {
		t.Fatalf("expected done after approval, got %s", snap.Phase)
	}
	if ft.calls != 1 {
		t.Fatalf("expected exactly one execution after approval, got %d", ft.calls)
	}
}

func TestRunRejectionFeedsBackToModel(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	ft := &fakeTool{name: "write_file", risk: "risky"}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "write_file", `{}`),
	}}
	rt := newRuntime(k, client, RuntimeConfig{}, ft)
	id := startedTask(t, k, "denied edit")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := rt.Step(ctx, id); err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if _, err := rt.Step(ctx, id); err != nil {
		t.Fatalf("step 2: %v", err)
	}

	pending, err := k.interactions.GetPending(ctx, id)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	err = k.interactions.Respond(ctx, id, pending.InteractionID, interaction.Response{
		SelectedOptionID: interaction.OptionReject,
		Comment:          "not on a friday",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	snap, err := rt.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if snap.Phase != run.PhaseDone {
		t.Fatalf("expected done, got %s", snap.Phase)
	}
	if ft.calls != 0 {
		t.Fatal("rejected call must never execute")
	}

	var rejected bool
	for _, m := range snap.Conversation {
		if m.Role == "tool" && strings.Contains(m.Content, "rejected") && strings.Contains(m.Content, "not on a friday") {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected rejection message in conversation")
	}
}

func TestRunIterationBudget(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	ft := &fakeTool{name: "read_file", output: "data"}
	// The model never stops asking for tools.
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "read_file", `{}`),
		toolCallResponse("c2", "read_file", `{}`),
		toolCallResponse("c3", "read_file", `{}`),
	}}
	rt := newRuntime(k, client, RuntimeConfig{MaxIterations: 2}, ft)
	id := startedTask(t, k, "spinning")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	snap, err := rt.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Phase != run.PhaseFailed {
		t.Fatalf("expected failed, got %s", snap.Phase)
	}
	if snap.Iteration != 2 {
		t.Fatalf("expected 2 iterations, got %d", snap.Iteration)
	}

	tk, err := k.tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.Status != task.StatusFailed {
		t.Fatalf("expected task failed, got %s", tk.Status)
	}
}

func TestRunTokenBudget(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	client := &scriptedClient{responses: []*llm.Response{
		{Content: "thinking", ToolCalls: []run.ToolCall{{ID: "c1", Name: "read_file"}}, TokensIn: 900, TokensOut: 200},
	}}
	ft := &fakeTool{name: "read_file", output: "data"}
	rt := newRuntime(k, client, RuntimeConfig{MaxTokens: 1000}, ft)
	id := startedTask(t, k, "expensive")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	snap, err := rt.RunToCompletion(ctx, id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if snap.Phase != run.PhaseFailed {
		t.Fatalf("expected token budget failure, got %s", snap.Phase)
	}
}

func TestStartRunKeepsSuspendedSnapshot(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	ft := &fakeTool{name: "write_file", risk: "risky"}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse("c1", "write_file", `{}`),
	}}
	rt := newRuntime(k, client, RuntimeConfig{}, ft)
	id := startedTask(t, k, "interrupted")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := rt.Step(ctx, id); err != nil {
		t.Fatalf("step 1: %v", err)
	}
	suspended, err := rt.Step(ctx, id)
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if suspended.Phase != run.PhaseAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", suspended.Phase)
	}

	// A restart calls StartRun again; the suspension point must survive.
	resumed, err := rt.StartRun(ctx, id, "agent-1")
	if err != nil {
		t.Fatalf("restart run: %v", err)
	}
	if resumed.Phase != run.PhaseAwaitingApproval || resumed.PendingInteractionID != suspended.PendingInteractionID {
		t.Fatalf("restart lost suspension point: %+v", resumed)
	}
}

func TestStepStopsWhenTaskCanceled(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	client := &scriptedClient{}
	rt := newRuntime(k, client, RuntimeConfig{})
	id := startedTask(t, k, "doomed")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := k.tasks.Cancel(ctx, id, "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	snap, err := rt.Step(ctx, id)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if snap.Phase != run.PhaseFailed {
		t.Fatalf("expected failed after cancel, got %s", snap.Phase)
	}
	if client.calls != 0 {
		t.Fatal("canceled run must not call the model")
	}
}

func TestRunFailsTaskOnBackendError(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	client := &scriptedClient{err: errors.New("backend unavailable")}
	rt := newRuntime(k, client, RuntimeConfig{})
	id := startedTask(t, k, "unlucky")

	if _, err := rt.StartRun(ctx, id, "agent-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	snap, err := rt.Step(ctx, id)
	if err != nil {
		t.Fatalf("a model failure must not escape the loop: %v", err)
	}
	if snap.Phase != run.PhaseFailed {
		t.Fatalf("expected failed run, got %s", snap.Phase)
	}

	tk, err := k.tasks.Get(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.Status != task.StatusFailed {
		t.Fatalf("expected task failed, got %s", tk.Status)
	}

	var reason string
	history, err := k.tasks.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for i := range history {
		if history[i].Type != event.TypeTaskFailed {
			continue
		}
		var p event.TaskFailedPayload
		if err := json.Unmarshal(history[i].Payload, &p); err != nil {
			t.Fatalf("decode task.failed: %v", err)
		}
		reason = p.Reason
	}
	if !strings.Contains(reason, "backend unavailable") {
		t.Fatalf("expected the backend error in the failure reason, got %q", reason)
	}
}

func TestStepOnMissingSnapshot(t *testing.T) {
	k := newKernel(t)
	rt := newRuntime(k, &scriptedClient{}, RuntimeConfig{})
	if _, err := rt.Step(context.Background(), "no-run"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
