// Package toolserver exposes the native tool registry to local clients
// over HTTP: a JSON-RPC endpoint, a bare request endpoint, and an SSE
// event stream.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/probelabs/probe-agent/internal/mcp"
	"github.com/probelabs/probe-agent/internal/tools"
)

// localPrefix qualifies native tool names on the wire so clients can
// tell them apart from remote MCP tools.
const localPrefix = "local__"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Addr is the address the server actually bound to. Port reflects the
// kernel-assigned port when the configured port is 0.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// event is one SSE broadcast message.
type event struct {
	name string
	data string
}

// subscriber is one connected SSE client.
type subscriber struct {
	id   string
	ch   chan event
	done chan struct{}
}

// Server serves the native tool registry over HTTP.
type Server struct {
	registry *tools.Registry
	host     string
	port     int
	logger   *slog.Logger

	mu         sync.Mutex
	running    bool
	addr       Addr
	httpServer *http.Server
	subs       map[string]*subscriber
}

// New creates a tool server for the given registry. Port 0 requests an
// ephemeral port; the bound port is reported by Start.
func New(registry *tools.Registry, host string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		host:     host,
		port:     port,
		logger:   logger,
		subs:     make(map[string]*subscriber),
	}
}

// Start binds the listener and begins serving on a goroutine. A bind
// failure is returned; everything after that is handled per request.
// Calling Start on a running server returns the current address.
func (s *Server) Start(ctx context.Context) (Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return Addr{}, fmt.Errorf("bind tool server on %s:%d: %w", s.host, s.port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleSSE)
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("POST /mcp", s.handleMCP)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Handler:     s.withLogging(s.withCORS(mux)),
		ReadTimeout: 30 * time.Second,
		// No write timeout: the SSE stream is long-lived.
	}

	s.addr = Addr{
		Host: s.host,
		Port: ln.Addr().(*net.TCPAddr).Port,
	}
	s.running = true

	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tool server stopped", "error", err)
		}
	}()

	s.logger.Info("tool server listening", "address", s.addr.String())
	return s.addr, nil
}

// Stop disconnects subscribers and shuts down the HTTP server with a
// short grace period. Safe to call twice or before Start.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.httpServer
	subs := s.subs
	s.subs = make(map[string]*subscriber)
	s.httpServer = nil
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("tool server shutdown incomplete, forcing close", "error", err)
		return srv.Close()
	}
	return nil
}

// Broadcast delivers an event to every connected SSE subscriber. The
// subscriber set is snapshotted under the lock and sends happen outside
// it; a subscriber that disconnected mid-broadcast is skipped.
func (s *Server) Broadcast(name, data string) {
	s.mu.Lock()
	snapshot := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		snapshot = append(snapshot, sub)
	}
	s.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.ch <- event{name: name, data: data}:
		case <-sub.done:
		default:
			s.logger.Debug("dropping event for slow subscriber", "subscriber", sub.id)
		}
	}
}

// Subscribers reports the number of connected SSE clients.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withCORS applies permissive CORS headers to every response and
// answers preflight requests directly.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status": "ok",
		"server": "probe-agent",
		"tools":  len(s.registry.Names()),
	}, s.logger)
}

// handleSSE registers the client as a subscriber and streams broadcast
// events until it disconnects or the server stops.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := &subscriber{
		id:   uuid.New().String(),
		ch:   make(chan event, 16),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
		s.logger.Debug("SSE subscriber disconnected", "subscriber", sub.id)
	}()

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", sub.id)
	flusher.Flush()
	s.logger.Debug("SSE subscriber connected", "subscriber", sub.id)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case ev := <-sub.ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		}
	}
}

// handleRPC serves JSON-RPC 2.0 over POST. Protocol errors are JSON-RPC
// error responses with HTTP 200, matching how MCP clients expect them.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      int64           `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, mcp.NewErrorResponse(0, mcp.CodeParseError, "parse error: "+err.Error()), s.logger)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		writeJSON(w, mcp.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message), s.logger)
		return
	}
	writeJSON(w, mcp.NewResponse(req.ID, result), s.logger)
}

// handleMCP serves the same two methods without the JSON-RPC envelope:
// bare {method, params} in, {result} or {error} out.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, map[string]any{"error": "parse error: " + err.Error()}, s.logger)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		writeJSON(w, map[string]any{"error": rpcErr.Message}, s.logger)
		return
	}
	writeJSON(w, map[string]any{"result": result}, s.logger)
}

// dispatch routes a method to its handler.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *mcp.RPCError) {
	switch method {
	case "tools/list":
		return s.toolsList(), nil
	case "tools/call":
		return s.toolsCall(ctx, params), nil
	default:
		return nil, &mcp.RPCError{Code: mcp.CodeMethodNotFound, Message: "unknown method: " + method}
	}
}

// toolsList returns the enabled registry tools in MCP protocol shape.
func (s *Server) toolsList() map[string]any {
	list := s.registry.List()
	defs := make([]mcp.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, mcp.ToolDefinition{
			Name:        localPrefix + t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return map[string]any{"tools": defs}
}

// toolsCall executes a registry tool. Every failure mode, including a
// panicking handler, becomes an isError result payload rather than a
// dropped connection.
func (s *Server) toolsCall(ctx context.Context, params json.RawMessage) mcp.CallToolResult {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return errorResult("invalid tools/call params: " + err.Error())
	}

	name := strings.TrimPrefix(call.Name, localPrefix)
	if name == "" {
		return errorResult("tool name is required")
	}
	if s.registry.Get(name) == nil {
		return errorResult("unknown tool: " + name)
	}
	if !s.registry.Enabled(name) {
		return errorResult("tool not available: " + name)
	}

	out, err := s.execute(ctx, name, call.Arguments)
	if err != nil {
		s.logger.Warn("tool execution failed", "tool", name, "error", err)
		return errorResult(err.Error())
	}

	return mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: out}},
	}
}

// execute runs the tool handler with panic capture.
func (s *Server) execute(ctx context.Context, name string, args map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()
	return s.registry.Execute(ctx, name, args)
}

func errorResult(msg string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: msg}},
		IsError: true,
	}
}
