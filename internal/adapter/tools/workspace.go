package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/TaskLoom/internal/domain/tool"
	"github.com/Strob0t/TaskLoom/internal/port/artifactstore"
)

// PatchService is the slice of the patch lifecycle the workspace tools
// drive: recording an intended edit and committing it later.
type PatchService interface {
	Propose(ctx context.Context, taskID, targetPath, diff string) (string, error)
	Apply(ctx context.Context, taskID, proposalID string, content []byte) error
}

// RegisterWorkspaceTools adds the built-in workspace tools to the registry.
func RegisterWorkspaceTools(r *Registry, files artifactstore.Store, artifacts PatchService) {
	r.Register(&readFileTool{files: files})
	r.Register(&listDirTool{files: files})
	r.Register(&proposePatchTool{artifacts: artifacts})
	r.Register(&applyPatchTool{artifacts: artifacts})
	r.Register(&writeFileTool{files: files})
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// readFileTool reads one workspace file. Always safe.
type readFileTool struct {
	files artifactstore.Store
}

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) Description() string { return "Read the contents of a file in the workspace." }

func (t *readFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (t *readFileTool) Risk(tool.CallRequest, tool.ExecContext) tool.RiskLevel {
	return tool.RiskSafe
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	data, err := t.files.ReadFile(ctx, stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// listDirTool lists a workspace directory. Always safe.
type listDirTool struct {
	files artifactstore.Store
}

func (t *listDirTool) Name() string        { return "list_dir" }
func (t *listDirTool) Description() string { return "List the entries of a workspace directory." }

func (t *listDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative directory path, \".\" for the root"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)
}

func (t *listDirTool) Risk(tool.CallRequest, tool.ExecContext) tool.RiskLevel {
	return tool.RiskSafe
}

func (t *listDirTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	entries, err := t.files.ListDir(ctx, stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&b, "%s/\n", e.Name)
		} else {
			fmt.Fprintf(&b, "%s\t%d\n", e.Name, e.Size)
		}
	}
	return b.String(), nil
}

// proposePatchTool records an intended edit without touching the file.
// Safe: proposing commits nothing.
type proposePatchTool struct {
	artifacts PatchService
}

func (t *proposePatchTool) Name() string { return "propose_patch" }
func (t *proposePatchTool) Description() string {
	return "Record a proposed edit to a workspace file. Returns a proposal ID to apply later."
}

func (t *proposePatchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative target file"},
			"diff": {"type": "string", "description": "Unified diff or description of the intended change"}
		},
		"required": ["path", "diff"],
		"additionalProperties": false
	}`)
}

func (t *proposePatchTool) Risk(tool.CallRequest, tool.ExecContext) tool.RiskLevel {
	return tool.RiskSafe
}

func (t *proposePatchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	tctx, ok := tool.ExecContextFrom(ctx)
	if !ok || tctx.TaskID == "" {
		return "", fmt.Errorf("no task bound to this call")
	}
	id, err := t.artifacts.Propose(ctx, tctx.TaskID, stringArg(args, "path"), stringArg(args, "diff"))
	if err != nil {
		return "", err
	}
	return "proposal " + id, nil
}

// applyPatchTool writes a proposal's content to disk. Risky unless the user
// granted standing workspace consent.
type applyPatchTool struct {
	artifacts PatchService
}

func (t *applyPatchTool) Name() string { return "apply_patch" }
func (t *applyPatchTool) Description() string {
	return "Apply a previously proposed edit: write the full new file content to its target path."
}

func (t *applyPatchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"proposal_id": {"type": "string", "description": "ID returned by propose_patch"},
			"content": {"type": "string", "description": "Complete new file content"}
		},
		"required": ["proposal_id", "content"],
		"additionalProperties": false
	}`)
}

func (t *applyPatchTool) Risk(_ tool.CallRequest, tctx tool.ExecContext) tool.RiskLevel {
	if tctx.WorkspaceConsent {
		return tool.RiskSafe
	}
	return tool.RiskRisky
}

func (t *applyPatchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	tctx, ok := tool.ExecContextFrom(ctx)
	if !ok || tctx.TaskID == "" {
		return "", fmt.Errorf("no task bound to this call")
	}
	proposalID := stringArg(args, "proposal_id")
	if err := t.artifacts.Apply(ctx, tctx.TaskID, proposalID, []byte(stringArg(args, "content"))); err != nil {
		return "", err
	}
	return "applied " + proposalID, nil
}

// writeFileTool writes a file directly, bypassing the proposal cycle. Always
// risky: there is no base revision to drift-check against.
type writeFileTool struct {
	files artifactstore.Store
}

func (t *writeFileTool) Name() string { return "write_file" }
func (t *writeFileTool) Description() string {
	return "Write a workspace file directly. Prefer propose_patch plus apply_patch for tracked edits."
}

func (t *writeFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"content": {"type": "string", "description": "Complete file content"}
		},
		"required": ["path", "content"],
		"additionalProperties": false
	}`)
}

func (t *writeFileTool) Risk(tool.CallRequest, tool.ExecContext) tool.RiskLevel {
	return tool.RiskRisky
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if err := t.files.WriteFile(ctx, path, []byte(stringArg(args, "content"))); err != nil {
		return "", err
	}
	return "wrote " + path, nil
}
