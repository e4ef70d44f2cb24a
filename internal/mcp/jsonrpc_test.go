package mcp

import (
	"encoding/json"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req := NewRequest(7, "tools/call", map[string]any{"name": "search"})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v", decoded["jsonrpc"])
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v", decoded["id"])
	}
	if decoded["method"] != "tools/call" {
		t.Errorf("method = %v", decoded["method"])
	}
}

func TestNotificationOmitsID(t *testing.T) {
	notif := NewNotification("notifications/initialized", nil)

	data, err := json.Marshal(notif)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["id"]; ok {
		t.Error("notification must not carry an id")
	}
	if _, ok := decoded["params"]; ok {
		t.Error("nil params should be omitted")
	}
}

func TestRPCErrorImplementsError(t *testing.T) {
	e := &RPCError{Code: CodeMethodNotFound, Message: "no such method"}
	msg := e.Error()
	if msg != "jsonrpc error -32601: no such method" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(3, map[string]any{"ok": true})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("Result = %s", resp.Result)
	}

	// Unmarshalable result degrades to an internal error response.
	bad := NewResponse(4, make(chan int))
	if bad.Error == nil || bad.Error.Code != CodeInternalError {
		t.Errorf("expected internal error response, got %+v", bad)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(9, CodeParseError, "bad json")
	if resp.ID != 9 || resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("unexpected response: %+v", resp)
	}
}
