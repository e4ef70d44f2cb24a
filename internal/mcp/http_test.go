package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPTransport_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(NewResponse(req.ID, map[string]any{"echo": req.Method}))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := tr.Send(context.Background(), NewRequest(3, "tools/list", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 3 {
		t.Errorf("response ID = %d, want 3", resp.ID)
	}
}

func TestHTTPTransport_SessionAffinity(t *testing.T) {
	var sawSession atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Mcp-Session") == "sess-1" {
			sawSession.Store(true)
		}
		var req struct {
			ID int64 `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Mcp-Session", "sess-1")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(NewResponse(req.ID, map[string]any{}))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	if _, err := tr.Send(context.Background(), NewRequest(1, "initialize", nil)); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if _, err := tr.Send(context.Background(), NewRequest(2, "tools/list", nil)); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if !sawSession.Load() {
		t.Error("second request should carry the Mcp-Session header")
	}
}

func TestHTTPTransport_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req struct {
			ID int64 `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(NewResponse(req.ID, map[string]any{}))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Logger:  slog.New(slog.DiscardHandler),
	})
	defer tr.Close()

	if _, err := tr.Send(context.Background(), NewRequest(1, "ping", nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestHTTPTransport_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaboom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	if _, err := tr.Send(context.Background(), NewRequest(1, "ping", nil)); err == nil {
		t.Error("Send should fail on HTTP 500")
	}
}

func TestHTTPTransport_NotifyAccepts202(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	defer tr.Close()

	if err := tr.Notify(context.Background(), NewNotification("notifications/initialized", nil)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}
