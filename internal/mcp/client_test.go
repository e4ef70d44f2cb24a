package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

// mockTransport is a test double for the Transport interface.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response // method -> canned response
	sent      []Request            // captured requests
	notifs    []Notification       // captured notifications
	closed    bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (m *mockTransport) Start(_ context.Context) error { return nil }

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	resp, ok := m.responses[req.Method]
	if !ok {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	// Copy response and set matching ID.
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func initResult() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]any{"name": "test-server", "version": "1.0"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
}

func TestClient_Initialize(t *testing.T) {
	tr := newMockTransport()
	tr.addResponse("initialize", initResult())

	c := NewClient("test", tr, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if len(tr.sent) != 1 || tr.sent[0].Method != "initialize" {
		t.Errorf("sent = %v, want one initialize request", tr.sent)
	}
	if len(tr.notifs) != 1 || tr.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notifs = %v, want initialized notification", tr.notifs)
	}
}

func TestClient_ListTools(t *testing.T) {
	tr := newMockTransport()
	tr.addResponse("tools/list", map[string]any{
		"tools": []map[string]any{
			{"name": "search", "description": "Search things", "inputSchema": map[string]any{"type": "object"}},
			{"name": "extract", "description": "Extract things"},
		},
	})

	c := NewClient("test", tr, nil)
	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "search" {
		t.Errorf("tools[0].Name = %q", tools[0].Name)
	}

	// Second call hits the cache, no extra request.
	before := len(tr.sent)
	if _, err := c.ListTools(context.Background()); err != nil {
		t.Fatalf("cached ListTools: %v", err)
	}
	if len(tr.sent) != before {
		t.Error("cached ListTools should not send a request")
	}
}

func TestClient_CallTool(t *testing.T) {
	tr := newMockTransport()
	tr.addResponse("tools/call", map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": "line one"},
			{"type": "image"},
			{"type": "text", "text": "line two"},
		},
	})

	c := NewClient("test", tr, nil)
	out, err := c.CallTool(context.Background(), "search", map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	want := "line one\n[image]\nline two"
	if out != want {
		t.Errorf("CallTool = %q, want %q", out, want)
	}
}

func TestClient_CallToolIsError(t *testing.T) {
	tr := newMockTransport()
	tr.addResponse("tools/call", map[string]any{
		"content": []map[string]any{{"type": "text", "text": "boom"}},
		"isError": true,
	})

	c := NewClient("test", tr, nil)
	if _, err := c.CallTool(context.Background(), "search", nil); err == nil {
		t.Fatal("CallTool should surface isError results as errors")
	}
}

func TestClient_RPCErrorSurfaced(t *testing.T) {
	tr := newMockTransport()
	tr.addError("tools/list", CodeMethodNotFound, "no such method")

	c := NewClient("test", tr, nil)
	if _, err := c.ListTools(context.Background()); err == nil {
		t.Fatal("ListTools should surface RPC errors")
	}
}

func TestClient_CloseClosesTransport(t *testing.T) {
	tr := newMockTransport()
	c := NewClient("test", tr, nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !tr.closed {
		t.Error("Close should close the transport")
	}
}
