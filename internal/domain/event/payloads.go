package event

// Typed payloads for every event in the closed set. Field additions must be
// optional; removing or retyping a field is a breaking change and requires a
// new event type instead.

// TaskCreatedPayload records the birth of a task.
type TaskCreatedPayload struct {
	TaskID       string `json:"task_id"`
	Title        string `json:"title"`
	Intent       string `json:"intent,omitempty"`
	CreatedBy    string `json:"created_by"`
	AgentID      string `json:"agent_id,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
}

// TaskStartedPayload records that an agent picked up a task.
type TaskStartedPayload struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id,omitempty"`
}

// TaskPausedPayload records a pause at a non-terminal point.
type TaskPausedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// TaskResumedPayload records resumption of a paused task.
type TaskResumedPayload struct {
	TaskID string `json:"task_id"`
}

// TaskCompletedPayload records successful completion.
type TaskCompletedPayload struct {
	TaskID string `json:"task_id"`
	Output string `json:"output,omitempty"`
}

// TaskFailedPayload records failure with a human-readable reason.
type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// TaskCanceledPayload records cancellation.
type TaskCanceledPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// TaskInstructionAddedPayload records a follow-up instruction. On a terminal
// task this re-opens it back to in_progress.
type TaskInstructionAddedPayload struct {
	TaskID      string `json:"task_id"`
	Instruction string `json:"instruction"`
	AddedBy     string `json:"added_by,omitempty"`
}

// TaskNeedsRebasePayload is emitted by the drift detector when a pending
// proposal's base revision no longer matches the artifact on disk.
type TaskNeedsRebasePayload struct {
	TaskID        string   `json:"task_id"`
	ProposalID    string   `json:"proposal_id"`
	AffectedPaths []string `json:"affected_paths"`
	Reason        string   `json:"reason"`
}

// InteractionOption is one selectable answer of a select/confirm interaction.
type InteractionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// InteractionRequestedPayload opens a user-facing question.
type InteractionRequestedPayload struct {
	InteractionID string              `json:"interaction_id"`
	TaskID        string              `json:"task_id"`
	Kind          string              `json:"kind"`
	Purpose       string              `json:"purpose"`
	Display       string              `json:"display"`
	Options       []InteractionOption `json:"options,omitempty"`
	Validation    string              `json:"validation,omitempty"`
}

// InteractionRespondedPayload answers a previously requested interaction.
type InteractionRespondedPayload struct {
	InteractionID    string `json:"interaction_id"`
	SelectedOptionID string `json:"selected_option_id,omitempty"`
	InputValue       string `json:"input_value,omitempty"`
	Comment          string `json:"comment,omitempty"`
	RespondedBy      string `json:"responded_by,omitempty"`
}

// PatchProposedPayload records an agent-proposed edit against a base revision.
type PatchProposedPayload struct {
	ProposalID   string `json:"proposal_id"`
	TaskID       string `json:"task_id"`
	TargetPath   string `json:"target_path"`
	BaseRevision string `json:"base_revision,omitempty"`
	Diff         string `json:"diff,omitempty"`
}

// PatchAppliedPayload records that a proposal landed on disk.
type PatchAppliedPayload struct {
	ProposalID  string `json:"proposal_id"`
	TaskID      string `json:"task_id"`
	TargetPath  string `json:"target_path"`
	NewRevision string `json:"new_revision,omitempty"`
}

// PatchRejectedPayload records that a proposal was discarded.
type PatchRejectedPayload struct {
	ProposalID string `json:"proposal_id"`
	TaskID     string `json:"task_id"`
	Reason     string `json:"reason,omitempty"`
}

// ArtifactChangedPayload notifies that a workspace file changed on disk.
type ArtifactChangedPayload struct {
	Path        string `json:"path"`
	NewRevision string `json:"new_revision"`
	Op          string `json:"op,omitempty"`
}
