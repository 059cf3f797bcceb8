// Package toolregistry defines the port for the tool catalog consumed by the
// run-loop and the execution gate.
package toolregistry

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/TaskLoom/internal/domain/tool"
)

// Tool is one executable capability.
type Tool interface {
	// Name is the unique tool identifier.
	Name() string

	// Description is shown to the model.
	Description() string

	// Schema is the JSON Schema of the tool's arguments.
	Schema() json.RawMessage

	// Risk classifies this specific call. It must be a pure function of the
	// call and context: some tools are risky unless a contextual
	// precondition (such as standing workspace consent) holds.
	Risk(call tool.CallRequest, tctx tool.ExecContext) tool.RiskLevel

	// Execute runs the tool. Errors are converted to error results by the
	// gate; implementations should not panic.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry is the tool catalog.
type Registry interface {
	// Get returns the named tool, or false.
	Get(name string) (Tool, bool)

	// List returns all visible tools in a stable order.
	List() []Tool

	// SchemaOf returns the argument schema of the named tool, or false.
	SchemaOf(name string) (json.RawMessage, bool)
}

// Visibility restricts which tools an agent instance may see. A nil
// Visibility means everything is visible.
type Visibility func(name string) bool
