// Package tools holds the registry of native, in-process tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Gate decides whether a tool is currently available. A nil gate means
// everything is enabled.
type Gate func(toolName string) bool

// Registry holds available tools. Safe for concurrent use: the tool
// server and the XML bridge read it while tools are being registered.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	gate  Gate
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry, replacing any previous tool
// with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil if not registered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// SetGate installs the capability gate consulted by Enabled, List, and
// Execute.
func (r *Registry) SetGate(g Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = g
}

// Enabled reports whether the named tool passes the capability gate.
// Unregistered tools are never enabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledLocked(name)
}

func (r *Registry) enabledLocked(name string) bool {
	if _, ok := r.tools[name]; !ok {
		return false
	}
	return r.gate == nil || r.gate(name)
}

// Names returns the sorted names of all enabled tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if r.enabledLocked(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// List returns a snapshot of all enabled tools, sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if r.enabledLocked(name) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs an enabled tool by name with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	tool := r.tools[name]
	enabled := r.enabledLocked(name)
	r.mu.RUnlock()

	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if !enabled {
		return "", fmt.Errorf("tool disabled: %s", name)
	}

	return tool.Handler(ctx, args)
}
