package event

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Strob0t/TaskLoom/internal/domain"
)

// schemaSources maps each event type to the JSON Schema its payload must
// satisfy before the log accepts it. The set is closed: an event type absent
// here is rejected outright.
var schemaSources = map[Type]string{
	TypeTaskCreated: `{
		"type": "object",
		"required": ["task_id", "title", "created_by"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"title": {"type": "string", "minLength": 1},
			"intent": {"type": "string"},
			"created_by": {"type": "string", "minLength": 1},
			"agent_id": {"type": "string"},
			"priority": {"type": "integer"},
			"parent_task_id": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeTaskStarted: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"agent_id": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeTaskPaused: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeTaskResumed: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	TypeTaskCompleted: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"output": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeTaskFailed: `{
		"type": "object",
		"required": ["task_id", "reason"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	TypeTaskCanceled: `{
		"type": "object",
		"required": ["task_id"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeTaskInstructionAdded: `{
		"type": "object",
		"required": ["task_id", "instruction"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"instruction": {"type": "string", "minLength": 1},
			"added_by": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeTaskNeedsRebase: `{
		"type": "object",
		"required": ["task_id", "proposal_id", "affected_paths", "reason"],
		"properties": {
			"task_id": {"type": "string", "minLength": 1},
			"proposal_id": {"type": "string", "minLength": 1},
			"affected_paths": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"reason": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	TypeInteractionRequested: `{
		"type": "object",
		"required": ["interaction_id", "task_id", "kind", "purpose", "display"],
		"properties": {
			"interaction_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1},
			"kind": {"enum": ["confirm", "select", "input"]},
			"purpose": {"type": "string", "minLength": 1},
			"display": {"type": "string"},
			"options": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "label"],
					"properties": {
						"id": {"type": "string", "minLength": 1},
						"label": {"type": "string"}
					},
					"additionalProperties": false
				}
			},
			"validation": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeInteractionResponded: `{
		"type": "object",
		"required": ["interaction_id"],
		"properties": {
			"interaction_id": {"type": "string", "minLength": 1},
			"selected_option_id": {"type": "string"},
			"input_value": {"type": "string"},
			"comment": {"type": "string"},
			"responded_by": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypePatchProposed: `{
		"type": "object",
		"required": ["proposal_id", "task_id", "target_path"],
		"properties": {
			"proposal_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1},
			"target_path": {"type": "string", "minLength": 1},
			"base_revision": {"type": "string"},
			"diff": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypePatchApplied: `{
		"type": "object",
		"required": ["proposal_id", "task_id", "target_path"],
		"properties": {
			"proposal_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1},
			"target_path": {"type": "string", "minLength": 1},
			"new_revision": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypePatchRejected: `{
		"type": "object",
		"required": ["proposal_id", "task_id"],
		"properties": {
			"proposal_id": {"type": "string", "minLength": 1},
			"task_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	TypeArtifactChanged: `{
		"type": "object",
		"required": ["path", "new_revision"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"new_revision": {"type": "string"},
			"op": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

// Validator checks event payloads against the registered schemas.
type Validator struct {
	schemas map[Type]*jsonschema.Schema
}

// NewValidator compiles all registered payload schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[Type]*jsonschema.Schema, len(schemaSources))

	for t, src := range schemaSources {
		url := "taskloom:///" + string(t) + ".json"
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", t, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", t, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", t, err)
		}
		compiled[t] = sch
	}

	return &Validator{schemas: compiled}, nil
}

// Validate checks ev against the schema for its type. Unknown types and
// invalid payloads return domain.ErrValidation.
func (v *Validator) Validate(ev Event) error {
	sch, ok := v.schemas[ev.Type]
	if !ok {
		return fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, ev.Type)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(ev.Payload))
	if err != nil {
		return fmt.Errorf("%w: payload of %s is not valid JSON: %v", domain.ErrValidation, ev.Type, err)
	}

	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: payload of %s: %v", domain.ErrValidation, ev.Type, err)
	}
	return nil
}
