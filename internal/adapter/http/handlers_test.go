package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	tlhttp "github.com/Strob0t/TaskLoom/internal/adapter/http"
	"github.com/Strob0t/TaskLoom/internal/adapter/memory"
	"github.com/Strob0t/TaskLoom/internal/adapter/tools"
	"github.com/Strob0t/TaskLoom/internal/adapter/workspace"
	"github.com/Strob0t/TaskLoom/internal/domain/event"
	"github.com/Strob0t/TaskLoom/internal/domain/interaction"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
	"github.com/Strob0t/TaskLoom/internal/service"
)

// testAPI wires the full service stack over in-memory stores behind a chi
// router.
type testAPI struct {
	router       chi.Router
	tasks        *service.TaskService
	interactions *service.InteractionService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	validator, err := event.NewValidator()
	if err != nil {
		t.Fatalf("compile schemas: %v", err)
	}
	log := service.NewEventLogService(memory.NewEventStore(), validator)
	projections := service.NewProjectionService(log, memory.NewProjectionStore())
	taskSvc := service.NewTaskService(log, projections, logger)
	interactions := service.NewInteractionService(log, taskSvc, logger, 10*time.Millisecond, time.Second)

	files, err := workspace.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("workspace store: %v", err)
	}
	artifacts := service.NewArtifactService(log, taskSvc, files, logger)

	registry := tools.NewRegistry()
	gate := service.NewToolGateService(registry, memory.NewAuditLog(), logger)
	runtime := service.NewRuntimeService(taskSvc, interactions, gate, memory.NewSnapshotStore(),
		nil, registry, nil, nil, logger, service.RuntimeConfig{})

	h := &tlhttp.Handlers{
		Tasks:        taskSvc,
		Interactions: interactions,
		Artifacts:    artifacts,
		Runtime:      runtime,
		Gate:         gate,
		Log:          log,
	}
	r := chi.NewRouter()
	tlhttp.MountRoutes(r, h)
	return &testAPI{router: r, tasks: taskSvc, interactions: interactions}
}

// appendInteraction opens a confirm interaction on the task and returns its ID.
func appendInteraction(t *testing.T, a *testAPI, taskID string) string {
	t.Helper()
	id, err := a.interactions.Request(context.Background(), taskID, interaction.Request{
		Kind:    interaction.KindConfirm,
		Purpose: interaction.PurposeConfirmRiskyAction,
		Display: "proceed?",
		Options: interaction.ConfirmOptions(),
	})
	if err != nil {
		t.Fatalf("request interaction: %v", err)
	}
	return id
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	} else if method == http.MethodPost {
		buf.WriteString("{}")
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func createTask(t *testing.T, a *testAPI, title string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"title":      title,
		"created_by": "tester",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode[map[string]string](t, rec)["task_id"]
}

func TestTaskEndpoints(t *testing.T) {
	a := newTestAPI(t)

	id := createTask(t, a, "ship it")

	rec := a.do(t, http.MethodGet, "/api/v1/tasks/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get task: status %d", rec.Code)
	}
	got := decode[task.Task](t, rec)
	if got.Title != "ship it" || got.Status != task.StatusOpen {
		t.Fatalf("unexpected task: %+v", got)
	}

	if rec = a.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/start", map[string]any{"agent_id": "a1"}); rec.Code != http.StatusNoContent {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodGet, "/api/v1/tasks?status=in_progress", nil)
	listed := decode[[]task.Task](t, rec)
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("unexpected list: %+v", listed)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/tasks/"+id+"/events", nil)
	events := decode[[]event.StoredEvent](t, rec)
	if len(events) != 2 || events[0].Type != event.TypeTaskCreated || events[1].Type != event.TypeTaskStarted {
		t.Fatalf("unexpected history: %+v", events)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{"created_by": "tester"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestDomainErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	id := createTask(t, a, "conflicted")

	if rec := a.do(t, http.MethodGet, "/api/v1/tasks/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	// Pausing an open task is an illegal transition.
	if rec := a.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/pause", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestInteractionEndpoints(t *testing.T) {
	a := newTestAPI(t)
	id := createTask(t, a, "needs input")

	if rec := a.do(t, http.MethodGet, "/api/v1/tasks/"+id+"/interaction", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without pending interaction, got %d", rec.Code)
	}

	// Raise a question through the service and answer it over HTTP.
	iid := appendInteraction(t, a, id)

	rec := a.do(t, http.MethodGet, "/api/v1/tasks/"+id+"/interaction", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get pending: status %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/interactions/%s/respond", id, iid),
		map[string]any{"selected_option_id": "approve", "responded_by": "user"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("respond: status %d body %s", rec.Code, rec.Body.String())
	}

	// Answering again targets a no-longer-pending interaction.
	rec = a.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/interactions/%s/respond", id, iid),
		map[string]any{"selected_option_id": "approve"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale response, got %d", rec.Code)
	}
}

func TestPatchEndpoints(t *testing.T) {
	a := newTestAPI(t)
	id := createTask(t, a, "edit files")

	rec := a.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/patches",
		map[string]any{"path": "main.go", "diff": "+package main"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose: status %d body %s", rec.Code, rec.Body.String())
	}
	proposalID := decode[map[string]string](t, rec)["proposal_id"]

	rec = a.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/patches/%s/apply", id, proposalID),
		map[string]any{"content": "package main\n"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("apply: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/tasks/%s/patches/%s/reject", id, proposalID), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 rejecting applied proposal, got %d", rec.Code)
	}
}

func TestEventFeed(t *testing.T) {
	a := newTestAPI(t)
	createTask(t, a, "one")
	createTask(t, a, "two")

	rec := a.do(t, http.MethodGet, "/api/v1/events", nil)
	all := decode[[]event.StoredEvent](t, rec)
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}

	rec = a.do(t, http.MethodGet, "/api/v1/events?after=1", nil)
	tail := decode[[]event.StoredEvent](t, rec)
	if len(tail) != 1 || tail[0].ID != 2 {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	if rec := a.do(t, http.MethodGet, "/api/v1/events?after=nope", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/events/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get event: status %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/events/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing event, got %d", rec.Code)
	}
}
