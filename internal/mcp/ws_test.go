package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeWSServer answers each JSON-RPC request frame with an echo result.
// Notifications are counted but get no reply.
func fakeWSServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     *int64 `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(data, &req); err != nil || req.ID == nil {
				continue // notification or junk
			}
			resp := NewResponse(*req.ID, map[string]any{"echo": req.Method})
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransport_SendReceivesResponse(t *testing.T) {
	srv := fakeWSServer(t)
	defer srv.Close()

	tr := NewWSTransport(WSConfig{URL: wsURL(srv), Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := tr.Send(ctx, NewRequest(42, "tools/list", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 42 {
		t.Errorf("response ID = %d, want 42", resp.ID)
	}

	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["echo"] != "tools/list" {
		t.Errorf("result = %v", result)
	}
}

func TestWSTransport_ConcurrentSends(t *testing.T) {
	srv := fakeWSServer(t)
	defer srv.Close()

	tr := NewWSTransport(WSConfig{URL: wsURL(srv), Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 8
	errs := make(chan error, n)
	for i := range n {
		go func(id int64) {
			resp, err := tr.Send(ctx, NewRequest(id, "ping", nil))
			if err == nil && resp.ID != id {
				t.Errorf("response ID = %d, want %d", resp.ID, id)
			}
			errs <- err
		}(int64(i + 1))
	}
	for range n {
		if err := <-errs; err != nil {
			t.Errorf("Send: %v", err)
		}
	}
}

func TestWSTransport_Notify(t *testing.T) {
	srv := fakeWSServer(t)
	defer srv.Close()

	tr := NewWSTransport(WSConfig{URL: wsURL(srv), Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Notify(context.Background(), NewNotification("notifications/initialized", nil)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestWSTransport_SendBeforeStart(t *testing.T) {
	tr := NewWSTransport(WSConfig{URL: "ws://127.0.0.1:1/ws", Logger: slog.New(slog.DiscardHandler)})
	if _, err := tr.Send(context.Background(), NewRequest(1, "ping", nil)); err == nil {
		t.Error("Send before Start should fail")
	}
}

func TestWSTransport_ServerDropFailsPending(t *testing.T) {
	srv := fakeWSServer(t)

	tr := NewWSTransport(WSConfig{URL: wsURL(srv), Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Drop the server mid-call. Depending on timing the call either
	// completes or fails; it must never hang.
	done := make(chan error, 1)
	go func() {
		_, err := tr.Send(context.Background(), NewRequest(1, "ping", nil))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	srv.CloseClientConnections()
	srv.Close()

	select {
	case err := <-done:
		_ = err // success or failure both fine, as long as it returned
	case <-time.After(5 * time.Second):
		t.Fatal("Send hung after connection loss")
	}
}

func TestWSTransport_CloseIdempotent(t *testing.T) {
	srv := fakeWSServer(t)
	defer srv.Close()

	tr := NewWSTransport(WSConfig{URL: wsURL(srv), Logger: slog.New(slog.DiscardHandler)})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
