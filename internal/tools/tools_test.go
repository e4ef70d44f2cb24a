package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the message back",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			msg, _ := args["message"].(string)
			if msg == "" {
				return "", fmt.Errorf("message is required")
			}
			return msg, nil
		},
	}
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	out, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hi" {
		t.Errorf("Execute = %q, want %q", out, "hi")
	}

	if _, err := r.Execute(context.Background(), "nope", nil); err == nil {
		t.Error("unknown tool should error")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	if r.Get("echo") == nil {
		t.Error("Get(echo) = nil")
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&Tool{Name: name, Handler: func(context.Context, map[string]any) (string, error) { return "", nil }})
	}

	names := r.Names()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegistry_Gate(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	r.Register(&Tool{
		Name:    "danger",
		Handler: func(context.Context, map[string]any) (string, error) { return "boom", nil },
	})

	// No gate: everything enabled.
	if !r.Enabled("echo") || !r.Enabled("danger") {
		t.Error("nil gate should enable all registered tools")
	}
	if r.Enabled("ghost") {
		t.Error("unregistered tool should never be enabled")
	}

	r.SetGate(func(name string) bool { return !strings.HasPrefix(name, "danger") })

	if r.Enabled("danger") {
		t.Error("gate should disable danger")
	}
	if !r.Enabled("echo") {
		t.Error("gate should keep echo enabled")
	}

	if _, err := r.Execute(context.Background(), "danger", nil); err == nil {
		t.Error("Execute should refuse a gated-off tool")
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "echo" {
		t.Errorf("Names = %v, want [echo]", names)
	}

	list := r.List()
	if len(list) != 1 || list[0].Name != "echo" {
		t.Errorf("List = %v, want just echo", list)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	r.Register(&Tool{
		Name:    "echo",
		Handler: func(context.Context, map[string]any) (string, error) { return "v2", nil },
	})

	out, err := r.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "v2" {
		t.Errorf("Execute = %q, want v2", out)
	}
}
