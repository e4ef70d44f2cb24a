package xmlbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/probelabs/probe-agent/internal/mcp"
	"github.com/probelabs/probe-agent/internal/tools"
)

// Result is the outcome of executing a parsed XML tool call. Failures
// are carried in Error; ExecuteFromXML never propagates them.
type Result struct {
	Success bool   `json:"success"`
	Tool    string `json:"toolName,omitempty"`
	Output  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor resolves XML tool calls against the native registry and the
// MCP manager and invokes whichever side matched.
type Executor struct {
	registry *tools.Registry
	manager  *mcp.Manager
	logger   *slog.Logger
}

// NewExecutor creates an executor over the given tool surfaces. Either
// side may be nil; its tools simply never match.
func NewExecutor(registry *tools.Registry, manager *mcp.Manager, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		manager:  manager,
		logger:   logger,
	}
}

// ExecuteFromXML parses model output, resolves the tool call, and runs
// it. Execution errors and panics are captured into the Result.
func (e *Executor) ExecuteFromXML(ctx context.Context, text string) Result {
	call := HybridParse(text, e.nativeNames(), e.mcpNames())
	if call == nil {
		return Result{Success: false, Error: "no tool call found in output"}
	}

	e.logger.Debug("executing XML tool call", "kind", call.Kind, "tool", call.Tool)

	out, err := e.invoke(ctx, call)
	if err != nil {
		e.logger.Warn("XML tool call failed", "tool", call.Tool, "error", err)
		return Result{Success: false, Tool: call.Tool, Error: err.Error()}
	}
	return Result{Success: true, Tool: call.Tool, Output: out}
}

// invoke dispatches to the matched surface with panic capture.
func (e *Executor) invoke(ctx context.Context, call *HybridCall) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Tool, rec)
		}
	}()

	switch call.Kind {
	case KindNative:
		return e.registry.Execute(ctx, call.Tool, call.Params)
	case KindMCP:
		return e.manager.CallTool(ctx, call.Tool, call.Params)
	default:
		return "", fmt.Errorf("unknown tool kind: %s", call.Kind)
	}
}

func (e *Executor) nativeNames() []string {
	if e.registry == nil {
		return nil
	}
	return e.registry.Names()
}

func (e *Executor) mcpNames() []string {
	if e.manager == nil {
		return nil
	}
	descs := e.manager.Tools()
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	return names
}
