package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/TaskLoom/internal/adapter/otel"
	"github.com/Strob0t/TaskLoom/internal/domain"
	"github.com/Strob0t/TaskLoom/internal/domain/tool"
	"github.com/Strob0t/TaskLoom/internal/port/eventstore"
	"github.com/Strob0t/TaskLoom/internal/port/toolregistry"
)

// Audit phases recorded by the gate.
const (
	auditPhaseRequested = "requested"
	auditPhaseCompleted = "completed"
	auditPhaseError     = "error"
	auditPhaseDenied    = "denied"
	auditPhaseCanceled  = "canceled"
)

// ToolGateService is the single entry point for tool execution. Every call
// passes the same sequence: cancellation check, lookup, argument validation,
// risk evaluation, confirmation check, then execution. No tool side effect
// can happen before all checks pass, and an audit record is written both when
// the call arrives and when its outcome is known, whatever that outcome is.
type ToolGateService struct {
	registry toolregistry.Registry
	audit    eventstore.AuditLog
	logger   *slog.Logger
	metrics  *otel.Metrics

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewToolGateService creates a ToolGateService.
func NewToolGateService(registry toolregistry.Registry, audit eventstore.AuditLog, logger *slog.Logger) *ToolGateService {
	return &ToolGateService{
		registry: registry,
		audit:    audit,
		logger:   logger.With("component", "toolgate"),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// SetMetrics attaches metric instruments.
func (s *ToolGateService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Execute runs one tool call through the gate and returns its result. A
// refused call returns an error CallResult describing the refusal; a risky
// call lacking confirmation additionally returns domain.ErrConfirmationRequired
// so the run-loop knows to open a confirmation interaction instead of
// reporting a plain failure to the model.
func (s *ToolGateService) Execute(ctx context.Context, call tool.CallRequest, tctx tool.ExecContext) (tool.CallResult, error) {
	start := time.Now()
	ctx, span := otel.StartToolCallSpan(ctx, call.CallID, call.Tool)
	defer span.End()

	s.record(ctx, call, tctx, auditPhaseRequested, "", nil, 0)
	if s.metrics != nil {
		s.metrics.ToolCalls.Add(ctx, 1)
	}

	if err := ctx.Err(); err != nil {
		res := tool.ErrorResult(call.CallID, "call canceled before execution")
		s.record(ctx, call, tctx, auditPhaseCanceled, "", nil, time.Since(start))
		return res, nil
	}

	t, ok := s.registry.Get(call.Tool)
	if !ok {
		res := tool.ErrorResult(call.CallID, fmt.Sprintf("unknown tool %q", call.Tool))
		s.deny(ctx, call, tctx, "", "unknown tool", time.Since(start))
		return res, nil
	}

	args, err := s.validateArguments(t, call.Arguments)
	if err != nil {
		res := tool.ErrorResult(call.CallID, fmt.Sprintf("invalid arguments: %v", err))
		s.deny(ctx, call, tctx, "", "invalid arguments", time.Since(start))
		return res, nil
	}

	risk := t.Risk(call, tctx)
	if risk == tool.RiskRisky && tctx.ConfirmedInteractionID == "" {
		res := tool.ErrorResult(call.CallID, fmt.Sprintf("tool %q requires user confirmation", call.Tool))
		s.deny(ctx, call, tctx, string(risk), "confirmation required", time.Since(start))
		return res, fmt.Errorf("tool %q: %w", call.Tool, domain.ErrConfirmationRequired)
	}

	output, execErr := s.executeSafely(tool.WithExecContext(ctx, tctx), t, args)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ToolCallDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(otel.ToolAttr(call.Tool)))
	}

	if execErr != nil {
		s.logger.Warn("tool call failed", "tool", call.Tool, "call_id", call.CallID, "error", execErr)
		s.record(ctx, call, tctx, auditPhaseError, string(risk), json.RawMessage(mustJSON(execErr.Error())), elapsed)
		return tool.ErrorResult(call.CallID, execErr.Error()), nil
	}

	s.record(ctx, call, tctx, auditPhaseCompleted, string(risk), nil, elapsed)
	s.logger.Debug("tool call completed", "tool", call.Tool, "call_id", call.CallID, "duration_ms", elapsed.Milliseconds())
	return tool.CallResult{CallID: call.CallID, Output: output}, nil
}

// Classify returns the risk level the gate would assign to a call without
// executing anything.
func (s *ToolGateService) Classify(call tool.CallRequest, tctx tool.ExecContext) (tool.RiskLevel, error) {
	t, ok := s.registry.Get(call.Tool)
	if !ok {
		return "", fmt.Errorf("%w: tool %s", domain.ErrNotFound, call.Tool)
	}
	return t.Risk(call, tctx), nil
}

// AuditByCall returns the audit trail of one call.
func (s *ToolGateService) AuditByCall(ctx context.Context, callID string) ([]eventstore.AuditEntry, error) {
	return s.audit.ListAuditByCall(ctx, callID)
}

// AuditByTask returns the audit trail of one task.
func (s *ToolGateService) AuditByTask(ctx context.Context, taskID string) ([]eventstore.AuditEntry, error) {
	return s.audit.ListAuditByTask(ctx, taskID)
}

// executeSafely runs the tool, converting a panic into an error so one
// misbehaving tool cannot take down the run-loop.
func (s *ToolGateService) executeSafely(ctx context.Context, t toolregistry.Tool, args map[string]any) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return t.Execute(ctx, args)
}

// validateArguments checks the raw arguments against the tool's schema and
// decodes them. Compiled schemas are cached per tool name.
func (s *ToolGateService) validateArguments(t toolregistry.Tool, raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}

	sch, err := s.compiledSchema(t)
	if err != nil {
		return nil, err
	}
	if sch != nil {
		if err := sch.Validate(value); err != nil {
			return nil, err
		}
	}

	args, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

func (s *ToolGateService) compiledSchema(t toolregistry.Tool) (*jsonschema.Schema, error) {
	raw := t.Schema()
	if len(raw) == 0 {
		return nil, nil
	}

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if sch, ok := s.schemas[t.Name()]; ok {
		return sch, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema of %s: %w", t.Name(), err)
	}
	compiler := jsonschema.NewCompiler()
	url := "taskloom:///tools/" + t.Name() + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("register schema of %s: %w", t.Name(), err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema of %s: %w", t.Name(), err)
	}
	s.schemas[t.Name()] = sch
	return sch, nil
}

func (s *ToolGateService) deny(ctx context.Context, call tool.CallRequest, tctx tool.ExecContext, risk, reason string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ToolCallsDenied.Add(ctx, 1)
	}
	s.logger.Warn("tool call denied", "tool", call.Tool, "call_id", call.CallID, "reason", reason)
	s.record(ctx, call, tctx, auditPhaseDenied, risk, json.RawMessage(mustJSON(reason)), elapsed)
}

// record appends one audit entry. Audit failures are logged but never fail
// the call: losing one trail entry is preferable to wedging the run-loop.
func (s *ToolGateService) record(ctx context.Context, call tool.CallRequest, tctx tool.ExecContext, phase, risk string, detail json.RawMessage, elapsed time.Duration) {
	entry := &eventstore.AuditEntry{
		CallID:     call.CallID,
		Tool:       call.Tool,
		TaskID:     tctx.TaskID,
		Actor:      tctx.Actor,
		Phase:      phase,
		Risk:       risk,
		Detail:     detail,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("append audit entry", "call_id", call.CallID, "phase", phase, "error", err)
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`null`)
	}
	return data
}
