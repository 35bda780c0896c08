package registry

import (
	"context"
	"encoding/json"
	"testing"
)

func echoExec(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestToolsRegisterAndLookup(t *testing.T) {
	tools := NewTools()

	err := tools.Register(Descriptor{Name: "echo", Description: "echoes args"}, echoExec)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	desc, exec, ok := tools.Lookup("echo")
	if !ok {
		t.Fatal("expected tool found")
	}
	if desc.Description != "echoes args" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	out, err := exec(context.Background(), json.RawMessage(`{"x":1}`))
	if err != nil || string(out) != `{"x":1}` {
		t.Fatalf("unexpected exec result: %s %v", out, err)
	}
}

func TestToolsDuplicateRegistration(t *testing.T) {
	tools := NewTools()

	if err := tools.Register(Descriptor{Name: "echo"}, echoExec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := tools.Register(Descriptor{Name: "echo"}, echoExec); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestToolsValidation(t *testing.T) {
	tools := NewTools()

	if err := tools.Register(Descriptor{}, echoExec); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := tools.Register(Descriptor{Name: "echo"}, nil); err == nil {
		t.Fatal("expected error for nil executor")
	}
}

func TestToolsListOrder(t *testing.T) {
	tools := NewTools()
	tools.MustRegister(Descriptor{Name: "a"}, echoExec)
	tools.MustRegister(Descriptor{Name: "b"}, echoExec)
	tools.MustRegister(Descriptor{Name: "c"}, echoExec)

	descs := tools.List()
	if len(descs) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(descs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if descs[i].Name != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, descs[i].Name)
		}
	}
}

func TestBuiltinTools(t *testing.T) {
	tools := NewTools()
	RegisterBuiltinTools(tools)

	for _, name := range []string{"project_list", "project_create", "agent_spawn"} {
		if _, _, ok := tools.Lookup(name); !ok {
			t.Fatalf("expected builtin tool %s", name)
		}
	}
}
