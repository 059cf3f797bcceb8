package event

import (
	"errors"
	"testing"

	"github.com/Strob0t/TaskLoom/internal/domain"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("compile schemas: %v", err)
	}
	return v
}

func TestValidatorAcceptsWellFormedPayloads(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		typ     Type
		payload any
	}{
		{TypeTaskCreated, TaskCreatedPayload{TaskID: "t1", Title: "build", CreatedBy: "u"}},
		{TypeTaskStarted, TaskStartedPayload{TaskID: "t1", AgentID: "a1"}},
		{TypeTaskFailed, TaskFailedPayload{TaskID: "t1", Reason: "boom"}},
		{TypeTaskInstructionAdded, TaskInstructionAddedPayload{TaskID: "t1", Instruction: "more"}},
		{TypeInteractionRequested, InteractionRequestedPayload{
			InteractionID: "i1", TaskID: "t1", Kind: "confirm", Purpose: "p", Display: "?",
			Options: []InteractionOption{{ID: "approve", Label: "Approve"}},
		}},
		{TypeInteractionResponded, InteractionRespondedPayload{InteractionID: "i1"}},
		{TypePatchProposed, PatchProposedPayload{ProposalID: "p1", TaskID: "t1", TargetPath: "a.go"}},
		{TypeTaskNeedsRebase, TaskNeedsRebasePayload{
			TaskID: "t1", ProposalID: "p1", AffectedPaths: []string{"a.go"}, Reason: "drift",
		}},
		{TypeArtifactChanged, ArtifactChangedPayload{Path: "a.go", NewRevision: "rev"}},
		// A removal has no content, so no revision.
		{TypeArtifactChanged, ArtifactChangedPayload{Path: "a.go", Op: "remove"}},
	}
	for _, tt := range tests {
		ev, err := New(tt.typ, tt.payload)
		if err != nil {
			t.Fatalf("build %s: %v", tt.typ, err)
		}
		if err := v.Validate(ev); err != nil {
			t.Errorf("%s: expected valid, got %v", tt.typ, err)
		}
	}
}

func TestValidatorRejectsBadPayloads(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		typ     Type
		payload string
	}{
		{"missing title", TypeTaskCreated, `{"task_id":"t1","created_by":"u"}`},
		{"empty task id", TypeTaskStarted, `{"task_id":""}`},
		{"failure without reason", TypeTaskFailed, `{"task_id":"t1"}`},
		{"unknown interaction kind", TypeInteractionRequested,
			`{"interaction_id":"i1","task_id":"t1","kind":"guess","purpose":"p","display":"?"}`},
		{"extra field", TypeTaskResumed, `{"task_id":"t1","who":"me"}`},
		{"rebase without paths", TypeTaskNeedsRebase,
			`{"task_id":"t1","proposal_id":"p1","affected_paths":[],"reason":"drift"}`},
		{"not json", TypeTaskStarted, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Event{Type: tt.typ, Payload: []byte(tt.payload)}
			if err := v.Validate(ev); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestValidatorRejectsUnknownType(t *testing.T) {
	v := newTestValidator(t)
	ev := Event{Type: "task.teleported", Payload: []byte(`{}`)}
	if err := v.Validate(ev); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEverySchemaCompiles(t *testing.T) {
	v := newTestValidator(t)
	if len(v.schemas) != len(schemaSources) {
		t.Fatalf("expected %d compiled schemas, got %d", len(schemaSources), len(v.schemas))
	}
}
