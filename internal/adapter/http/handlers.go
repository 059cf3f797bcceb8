// Package http implements the REST API of the kernel.
package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/TaskLoom/internal/domain/interaction"
	"github.com/Strob0t/TaskLoom/internal/domain/task"
	"github.com/Strob0t/TaskLoom/internal/service"
)

// Handlers bundles the services behind the REST API.
type Handlers struct {
	Tasks        *service.TaskService
	Interactions *service.InteractionService
	Artifacts    *service.ArtifactService
	Runtime      *service.RuntimeService
	Gate         *service.ToolGateService
	Log          *service.EventLogService
}

// CreateTask handles POST /tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Title        string `json:"title"`
		Intent       string `json:"intent"`
		CreatedBy    string `json:"created_by"`
		AgentID      string `json:"agent_id"`
		Priority     int    `json:"priority"`
		ParentTaskID string `json:"parent_task_id"`
	}](w, r)
	if !ok {
		return
	}

	id, err := h.Tasks.Create(r.Context(), service.CreateParams{
		Title:        body.Title,
		Intent:       body.Intent,
		CreatedBy:    body.CreatedBy,
		AgentID:      body.AgentID,
		Priority:     body.Priority,
		ParentTaskID: body.ParentTaskID,
	})
	if err != nil {
		writeDomainError(w, err, "parent task not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
}

// ListTasks handles GET /tasks?status=.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.List(r.Context(), task.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// StartTask handles POST /tasks/{id}/start.
func (h *Handlers) StartTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		AgentID string `json:"agent_id"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Tasks.Start(r.Context(), urlParam(r, "id"), body.AgentID); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseTask handles POST /tasks/{id}/pause.
func (h *Handlers) PauseTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Reason string `json:"reason"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Tasks.Pause(r.Context(), urlParam(r, "id"), body.Reason); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeTask handles POST /tasks/{id}/resume.
func (h *Handlers) ResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.Resume(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /tasks/{id}/cancel.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Reason string `json:"reason"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Tasks.Cancel(r.Context(), urlParam(r, "id"), body.Reason); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddInstruction handles POST /tasks/{id}/instructions.
func (h *Handlers) AddInstruction(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Instruction string `json:"instruction"`
		AddedBy     string `json:"added_by"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Tasks.AddInstruction(r.Context(), urlParam(r, "id"), body.Instruction, body.AddedBy); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTaskEvents handles GET /tasks/{id}/events.
func (h *Handlers) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Tasks.History(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetPendingInteraction handles GET /tasks/{id}/interaction.
func (h *Handlers) GetPendingInteraction(w http.ResponseWriter, r *http.Request) {
	in, err := h.Interactions.GetPending(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no pending interaction")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// RespondInteraction handles POST /tasks/{id}/interactions/{interactionID}/respond.
func (h *Handlers) RespondInteraction(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		SelectedOptionID string `json:"selected_option_id"`
		InputValue       string `json:"input_value"`
		Comment          string `json:"comment"`
		RespondedBy      string `json:"responded_by"`
	}](w, r)
	if !ok {
		return
	}

	err := h.Interactions.Respond(r.Context(), urlParam(r, "id"), urlParam(r, "interactionID"), interaction.Response{
		SelectedOptionID: body.SelectedOptionID,
		InputValue:       body.InputValue,
		Comment:          body.Comment,
		RespondedBy:      body.RespondedBy,
	})
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRunSnapshot handles GET /tasks/{id}/run.
func (h *Handlers) GetRunSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Runtime.Snapshot(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no run for task")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListTaskAudit handles GET /tasks/{id}/audit.
func (h *Handlers) ListTaskAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Gate.AuditByTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ReadEvents handles GET /events?after=N — the replayable global feed.
func (h *Handlers) ReadEvents(w http.ResponseWriter, r *http.Request) {
	after := int64(0)
	if s := r.URL.Query().Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}
	events, err := h.Log.ReadAll(r.Context(), after)
	if err != nil {
		writeDomainError(w, err, "events not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(urlParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event id must be an integer")
		return
	}
	ev, err := h.Log.ReadByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ProposePatch handles POST /tasks/{id}/patches.
func (h *Handlers) ProposePatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Path string `json:"path"`
		Diff string `json:"diff"`
	}](w, r)
	if !ok {
		return
	}
	id, err := h.Artifacts.Propose(r.Context(), urlParam(r, "id"), body.Path, body.Diff)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"proposal_id": id})
}

// ApplyPatch handles POST /tasks/{id}/patches/{proposalID}/apply.
func (h *Handlers) ApplyPatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Content string `json:"content"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Artifacts.Apply(r.Context(), urlParam(r, "id"), urlParam(r, "proposalID"), []byte(body.Content)); err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RejectPatch handles POST /tasks/{id}/patches/{proposalID}/reject.
func (h *Handlers) RejectPatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Reason string `json:"reason"`
	}](w, r)
	if !ok {
		return
	}
	if err := h.Artifacts.Reject(r.Context(), urlParam(r, "id"), urlParam(r, "proposalID"), body.Reason); err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
