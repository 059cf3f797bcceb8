package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/Strob0t/TaskLoom/internal/domain/tool"
)

// recordingPatchService captures the patch-lifecycle calls the tools make.
type recordingPatchService struct {
	proposedTask, proposedPath, proposedDiff string
	appliedTask, appliedProposal             string
	appliedContent                           []byte
}

func (r *recordingPatchService) Propose(_ context.Context, taskID, targetPath, diff string) (string, error) {
	r.proposedTask, r.proposedPath, r.proposedDiff = taskID, targetPath, diff
	return "prop-1", nil
}

func (r *recordingPatchService) Apply(_ context.Context, taskID, proposalID string, content []byte) error {
	r.appliedTask, r.appliedProposal, r.appliedContent = taskID, proposalID, content
	return nil
}

func TestWorkspaceToolRiskLevels(t *testing.T) {
	tests := []struct {
		tool    string
		consent bool
		want    tool.RiskLevel
	}{
		{"read_file", false, tool.RiskSafe},
		{"list_dir", false, tool.RiskSafe},
		{"propose_patch", false, tool.RiskSafe},
		{"apply_patch", false, tool.RiskRisky},
		{"apply_patch", true, tool.RiskSafe},
		{"write_file", false, tool.RiskRisky},
		// Direct writes stay risky even under standing consent.
		{"write_file", true, tool.RiskRisky},
	}

	r := NewRegistry()
	RegisterWorkspaceTools(r, nil, nil)

	for _, tt := range tests {
		got, ok := r.Get(tt.tool)
		if !ok {
			t.Fatalf("tool %s not registered", tt.tool)
		}
		risk := got.Risk(tool.CallRequest{Tool: tt.tool}, tool.ExecContext{WorkspaceConsent: tt.consent})
		if risk != tt.want {
			t.Errorf("%s consent=%v: expected %s, got %s", tt.tool, tt.consent, tt.want, risk)
		}
	}
}

func TestPatchToolsDriveThePatchLifecycle(t *testing.T) {
	recorder := &recordingPatchService{}
	r := NewRegistry()
	RegisterWorkspaceTools(r, nil, recorder)

	ctx := tool.WithExecContext(context.Background(), tool.ExecContext{TaskID: "task-1"})

	proposer, _ := r.Get("propose_patch")
	out, err := proposer.Execute(ctx, map[string]any{"path": "main.go", "diff": "@@ -1 +1 @@"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !strings.Contains(out, "prop-1") {
		t.Fatalf("expected proposal id in output, got %q", out)
	}
	if recorder.proposedTask != "task-1" || recorder.proposedPath != "main.go" || recorder.proposedDiff != "@@ -1 +1 @@" {
		t.Fatalf("unexpected propose call: %+v", recorder)
	}

	applier, _ := r.Get("apply_patch")
	if _, err := applier.Execute(ctx, map[string]any{"proposal_id": "prop-1", "content": "package main"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if recorder.appliedTask != "task-1" || recorder.appliedProposal != "prop-1" || string(recorder.appliedContent) != "package main" {
		t.Fatalf("unexpected apply call: %+v", recorder)
	}
}

func TestPatchToolsRequireABoundTask(t *testing.T) {
	r := NewRegistry()
	RegisterWorkspaceTools(r, nil, &recordingPatchService{})

	for _, name := range []string{"propose_patch", "apply_patch"} {
		got, _ := r.Get(name)
		if _, err := got.Execute(context.Background(), map[string]any{}); err == nil {
			t.Errorf("%s: expected error without a task in context", name)
		}
	}
}

func TestWorkspaceToolSchemasPresent(t *testing.T) {
	r := NewRegistry()
	RegisterWorkspaceTools(r, nil, nil)

	for _, name := range []string{"read_file", "list_dir", "propose_patch", "apply_patch", "write_file"} {
		schema, ok := r.SchemaOf(name)
		if !ok || len(schema) == 0 {
			t.Errorf("tool %s has no argument schema", name)
		}
	}
}
