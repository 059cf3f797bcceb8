// Package run defines the resumable state of one agent run-loop.
//
// A run is modeled as an explicit state machine driven by repeated Step calls
// rather than a long-lived goroutine: the Snapshot is persisted at every
// suspension point, so a process restart reconstructs the exact point at which
// the loop yielded, and no tool ever executes twice for one logical call.
package run

import (
	"encoding/json"
	"time"
)

// Phase is the run-loop's explicit state.
type Phase string

const (
	// PhaseReady means the next step calls the LLM (or drains queued tool
	// calls left over from the previous response).
	PhaseReady Phase = "ready"
	// PhaseAwaitingApproval means a risky tool call is suspended on a
	// pending confirm interaction.
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseDone             Phase = "done"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether the run-loop has finished.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Message is one turn of the agent conversation.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Snapshot is everything needed to resume a suspended run: the conversation,
// queued tool calls from the last model response, the risky call awaiting
// approval, and the interaction that will unblock it.
type Snapshot struct {
	TaskID               string     `json:"task_id"`
	AgentID              string     `json:"agent_id,omitempty"`
	Phase                Phase      `json:"phase"`
	Conversation         []Message  `json:"conversation"`
	QueuedCalls          []ToolCall `json:"queued_calls,omitempty"`
	PendingCall          *ToolCall  `json:"pending_call,omitempty"`
	PendingInteractionID string     `json:"pending_interaction_id,omitempty"`
	Iteration            int        `json:"iteration"`
	TokensUsed           int        `json:"tokens_used"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// AppendMessage appends a conversation turn.
func (s *Snapshot) AppendMessage(m Message) {
	s.Conversation = append(s.Conversation, m)
}

// PopQueuedCall removes and returns the next queued tool call, or nil.
func (s *Snapshot) PopQueuedCall() *ToolCall {
	if len(s.QueuedCalls) == 0 {
		return nil
	}
	tc := s.QueuedCalls[0]
	s.QueuedCalls = s.QueuedCalls[1:]
	return &tc
}
