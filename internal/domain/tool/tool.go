// Package tool defines tool call entities and the risk model enforced by the
// execution gate.
package tool

import (
	"context"
	"encoding/json"
)

// RiskLevel classifies a tool call's blast radius.
type RiskLevel string

const (
	RiskSafe  RiskLevel = "safe"
	RiskRisky RiskLevel = "risky"
)

// CallRequest is one tool invocation requested by an agent.
type CallRequest struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallResult is the outcome of a tool invocation, or of its refusal.
type CallResult struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// ErrorResult builds an error CallResult for the given call.
func ErrorResult(callID, msg string) CallResult {
	return CallResult{CallID: callID, Output: msg, IsError: true}
}

type ctxKey struct{}

// WithExecContext returns ctx carrying the call's ExecContext. The gate
// attaches it before Execute so tools can see who they are acting for.
func WithExecContext(ctx context.Context, tctx ExecContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tctx)
}

// ExecContextFrom extracts the ExecContext attached by the gate.
func ExecContextFrom(ctx context.Context) (ExecContext, bool) {
	tctx, ok := ctx.Value(ctxKey{}).(ExecContext)
	return tctx, ok
}

// ExecContext carries the authorization context of a tool call. A risky call
// executes only when ConfirmedInteractionID proves the user approved this
// specific call.
type ExecContext struct {
	TaskID                 string
	AgentID                string
	Actor                  string
	ConfirmedInteractionID string
	// WorkspaceConsent marks a standing consent (e.g. "auto-approve edits
	// inside the workspace") that downgrades some tools from risky to safe.
	WorkspaceConsent bool
}
