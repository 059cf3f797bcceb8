// Package llm defines the port for LLM completion backends.
package llm

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/TaskLoom/internal/domain/run"
)

// ToolSchema describes one tool made visible to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one completion call: the accumulated conversation plus the tool
// schemas the agent instance is allowed to see.
type Request struct {
	Messages  []run.Message `json:"messages"`
	Tools     []ToolSchema  `json:"tools,omitempty"`
	Profile   string        `json:"profile"` // model/profile name understood by the backend
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// Response is the model's reply. An empty ToolCalls slice means the model is
// done and Content is the final answer.
type Response struct {
	Content   string         `json:"content"`
	ToolCalls []run.ToolCall `json:"tool_calls,omitempty"`
	TokensIn  int            `json:"tokens_in,omitempty"`
	TokensOut int            `json:"tokens_out,omitempty"`
}

// Client is the port interface for completion backends.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
