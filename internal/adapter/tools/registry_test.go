package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/TaskLoom/internal/domain/tool"
	"github.com/Strob0t/TaskLoom/internal/port/toolregistry"
)

type stubTool struct {
	name string
}

func (s *stubTool) Name() string            { return s.name }
func (s *stubTool) Description() string     { return "stub" }
func (s *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (s *stubTool) Risk(tool.CallRequest, tool.ExecContext) tool.RiskLevel {
	return tool.RiskSafe
}

func (s *stubTool) Execute(context.Context, map[string]any) (string, error) {
	return "", nil
}

func TestRegistryGetAndList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "beta"})
	r.Register(&stubTool{name: "alpha"})

	if _, ok := r.Get("alpha"); !ok {
		t.Fatal("expected alpha registered")
	}
	if _, ok := r.Get("gamma"); ok {
		t.Fatal("unexpected tool gamma")
	}

	list := r.List()
	if len(list) != 2 || list[0].Name() != "alpha" || list[1].Name() != "beta" {
		t.Fatalf("expected sorted list, got %v", names(list))
	}
}

func TestRegistryVisibility(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "read_file"})
	r.Register(&stubTool{name: "write_file"})
	r.SetVisibility(func(name string) bool { return name == "read_file" })

	if _, ok := r.Get("write_file"); ok {
		t.Fatal("hidden tool must not be gettable")
	}
	if _, ok := r.Get("read_file"); !ok {
		t.Fatal("visible tool must be gettable")
	}

	list := r.List()
	if len(list) != 1 || list[0].Name() != "read_file" {
		t.Fatalf("expected only read_file listed, got %v", names(list))
	}

	if _, ok := r.SchemaOf("write_file"); ok {
		t.Fatal("hidden tool's schema must not be exposed")
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first := &stubTool{name: "dup"}
	second := &stubTool{name: "dup"}
	r.Register(first)
	r.Register(second)

	got, ok := r.Get("dup")
	if !ok || got != second {
		t.Fatal("expected later registration to replace the earlier one")
	}
}

func names(list []toolregistry.Tool) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Name()
	}
	return out
}
