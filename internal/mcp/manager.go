package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/probelabs/probe-agent/internal/config"
)

// ErrToolNotFound is returned by CallTool for unknown qualified names.
var ErrToolNotFound = errors.New("tool not found")

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// ToolDescriptor is one discovered, filter-approved remote tool,
// registered under its server-qualified name.
type ToolDescriptor struct {
	// Name is the qualified registry name: mcp_<server>_<tool>.
	Name        string
	Server      string
	MCPName     string
	Description string
	InputSchema map[string]any
}

// CallableTool pairs a descriptor with an execute adapter for use by a
// tool-calling runtime.
type CallableTool struct {
	ToolDescriptor
	Execute func(ctx context.Context, args map[string]any) (string, error)
}

// Summary reports the outcome of Manager.Initialize.
type Summary struct {
	// Connected is the number of servers that completed connect,
	// handshake, and tool discovery.
	Connected int

	// Total is the number of configured servers that were eligible:
	// enabled valid servers plus servers rejected at config load.
	Total int

	// ToolNames lists the qualified names of every registered tool.
	ToolNames []string
}

// CallRecorder receives the outcome of every tool invocation. Optional;
// see the calllog package for the SQLite-backed implementation.
type CallRecorder interface {
	RecordCall(ctx context.Context, server, tool string, elapsed time.Duration, callErr error)
}

// Manager owns one connection per configured, enabled MCP server and a
// unified call-routing table of qualified tool names. Connection
// establishment is concurrent with independent failure isolation: one
// server failing never aborts the others. Multiple Manager instances
// may coexist; there is no shared state between them.
type Manager struct {
	logger   *slog.Logger
	recorder CallRecorder

	mu       sync.RWMutex
	conns    map[string]*connection
	tools    map[string]*toolEntry
	timeouts map[string]time.Duration
}

// connection pairs a server with its live protocol client. Connections
// that fail to establish are simply absent from the manager.
type connection struct {
	name   string
	client *Client
}

type toolEntry struct {
	desc ToolDescriptor
	conn *connection
}

// NewManager creates an empty manager. Call Initialize to connect.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		conns:    make(map[string]*connection),
		tools:    make(map[string]*toolEntry),
		timeouts: make(map[string]time.Duration),
	}
}

// SetCallRecorder installs an audit recorder for tool invocations.
// Must be called before Initialize.
func (m *Manager) SetCallRecorder(r CallRecorder) {
	m.recorder = r
}

// connectResult carries one server's connect attempt back to Initialize.
type connectResult struct {
	server  config.ServerConfig
	conn    *connection
	defs    []ToolDefinition
	timeout time.Duration
	err     error
}

// Initialize connects every enabled server concurrently, discovers and
// filters each catalog, and builds the routing table. Each attempt is
// isolated: a spawn error, handshake timeout, or malformed catalog on
// one server is logged and excluded without affecting the rest.
func (m *Manager) Initialize(ctx context.Context, cfg *config.Config) Summary {
	var enabled []config.ServerConfig
	for _, sc := range cfg.Servers {
		if sc.Enabled {
			enabled = append(enabled, sc)
		} else {
			m.logger.Debug("skipping disabled MCP server", "server", sc.Name)
		}
	}

	total := len(enabled) + len(cfg.Invalid)
	for _, inv := range cfg.Invalid {
		m.logger.Warn("MCP server excluded by configuration",
			"server", inv.Name,
			"reason", inv.Reason,
		)
	}

	results := make(chan connectResult, len(enabled))
	var wg sync.WaitGroup
	for _, sc := range enabled {
		wg.Add(1)
		go func(sc config.ServerConfig) {
			defer wg.Done()
			results <- m.connectServer(ctx, cfg, sc)
		}(sc)
	}
	wg.Wait()
	close(results)

	connected := 0
	for res := range results {
		if res.err != nil {
			m.logger.Warn("MCP server connection failed",
				"server", res.server.Name,
				"error", res.err,
			)
			continue
		}
		m.register(res)
		connected++
	}

	summary := Summary{
		Connected: connected,
		Total:     total,
		ToolNames: m.toolNames(),
	}

	m.logger.Info("MCP manager initialized",
		"connected", summary.Connected,
		"total", summary.Total,
		"tools", len(summary.ToolNames),
	)
	return summary
}

// connectServer performs one server's full connect sequence: transport
// construction, start, handshake, and catalog fetch, all bounded by the
// server's effective timeout.
func (m *Manager) connectServer(ctx context.Context, cfg *config.Config, sc config.ServerConfig) connectResult {
	res := connectResult{server: sc, timeout: cfg.EffectiveTimeout(sc)}

	tr, err := NewTransport(sc, TransportOptions{
		RetryCount: cfg.Settings.RetryCount,
		Logger:     m.logger,
	})
	if err != nil {
		res.err = err
		return res
	}

	ctxT, cancel := context.WithTimeout(ctx, res.timeout)
	defer cancel()

	if err := tr.Start(ctxT); err != nil {
		res.err = fmt.Errorf("start transport: %w", err)
		return res
	}

	client := NewClient(sc.Name, tr, m.logger)
	if err := client.Initialize(ctxT); err != nil {
		_ = client.Close()
		res.err = err
		return res
	}

	defs, err := client.ListTools(ctxT)
	if err != nil {
		_ = client.Close()
		res.err = err
		return res
	}

	res.conn = &connection{name: sc.Name, client: client}
	res.defs = FilterTools(sc, defs, m.logger)
	return res
}

// register installs a successfully-connected server and its filtered
// tools. Registration is all-or-nothing per server: it only runs after
// the whole connect sequence succeeded, so a failed server never leaves
// partial entries behind.
func (m *Manager) register(res connectResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[res.server.Name] = res.conn
	m.timeouts[res.server.Name] = res.timeout

	for _, td := range res.defs {
		qualified := ToolName(res.server.Name, td.Name)
		if _, exists := m.tools[qualified]; exists {
			m.logger.Warn("qualified tool name collision, keeping first",
				"name", qualified,
				"server", res.server.Name,
			)
			continue
		}
		m.tools[qualified] = &toolEntry{
			desc: ToolDescriptor{
				Name:        qualified,
				Server:      res.server.Name,
				MCPName:     td.Name,
				Description: td.Description,
				InputSchema: td.InputSchema,
			},
			conn: res.conn,
		}
		m.logger.Debug("registered MCP tool",
			"mcp_name", td.Name,
			"qualified_name", qualified,
			"server", res.server.Name,
		)
	}
}

// CallTool invokes a registered tool by qualified name. The call runs
// under the owning server's effective timeout (resolved and clamped at
// configuration load); exceeding it rejects the call with a timeout
// error. The remote side may still finish in the background on
// transports that cannot observe cancellation.
func (m *Manager) CallTool(ctx context.Context, qualifiedName string, args map[string]any) (string, error) {
	m.mu.RLock()
	entry, ok := m.tools[qualifiedName]
	var timeout time.Duration
	if ok {
		timeout = m.timeouts[entry.desc.Server]
	}
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, qualifiedName)
	}
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	ctxT, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := entry.conn.client.CallTool(ctxT, entry.desc.MCPName, args)
	elapsed := time.Since(start)

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("tool %s timed out after %v", qualifiedName, timeout)
	}

	if m.recorder != nil {
		// Audit is fire-and-forget: a failed write never affects the call.
		m.recorder.RecordCall(context.WithoutCancel(ctx), entry.desc.Server, qualifiedName, elapsed, err)
	}

	return out, err
}

// Tools returns a read-only snapshot of the registered tool descriptors,
// sorted by qualified name.
func (m *Manager) Tools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(m.tools))
	for _, e := range m.tools {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallableTools returns the registered tools paired with execute
// adapters, for handing to a tool-calling runtime.
func (m *Manager) CallableTools() []CallableTool {
	descs := m.Tools()
	out := make([]CallableTool, 0, len(descs))
	for _, d := range descs {
		name := d.Name
		out = append(out, CallableTool{
			ToolDescriptor: d,
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				return m.CallTool(ctx, name, args)
			},
		})
	}
	return out
}

// toolNames returns the sorted qualified names. Takes the read lock.
func (m *Manager) toolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disconnect tears down every connection. Idempotent: safe to call
// repeatedly or before any successful connect, and it never panics;
// per-connection close failures are logged and swallowed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*connection)
	m.tools = make(map[string]*toolEntry)
	m.timeouts = make(map[string]time.Duration)
	m.mu.Unlock()

	for name, c := range conns {
		if err := c.client.Close(); err != nil {
			m.logger.Warn("error closing MCP connection", "server", name, "error", err)
		}
	}
}

// ToolName generates a qualified registry name from an MCP server name
// and tool name. Both components are sanitized to contain only
// lowercase alphanumeric characters and underscores.
func ToolName(serverName, mcpToolName string) string {
	server := sanitize(serverName)
	tool := sanitize(mcpToolName)
	return fmt.Sprintf("mcp_%s_%s", server, tool)
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	// Collapse consecutive underscores.
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}
