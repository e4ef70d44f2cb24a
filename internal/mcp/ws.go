package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures a WebSocket MCP transport.
type WSConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// WSTransport communicates with an MCP server over a persistent
// WebSocket connection. A read pump routes incoming responses to
// pending callers by request ID.
type WSTransport struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan *Response
	started bool
	closed  bool

	// writeMu serializes writes; gorilla/websocket allows at most one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewWSTransport creates a WebSocket transport for the given config.
func NewWSTransport(cfg WSConfig) *WSTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{
		url:     cfg.URL,
		logger:  logger,
		pending: make(map[int64]chan *Response),
	}
}

// Start dials the WebSocket endpoint and launches the read pump.
func (t *WSTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.started {
		return nil
	}

	// Larger read buffer: tool catalogs with embedded schemas can be big.
	dialer := websocket.Dialer{
		ReadBufferSize:  1024 * 1024,
		WriteBufferSize: 64 * 1024,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket %s: %w", t.url, err)
	}

	t.conn = conn
	t.started = true

	go t.readPump(conn)

	t.logger.Info("WebSocket connected", "url", t.url)
	return nil
}

// readPump reads frames and routes responses to pending callers. Exits
// when the connection drops or is closed.
func (t *WSTransport) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Debug("WebSocket read pump exiting", "error", err)
			t.failPending()
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Debug("skipping non-JSON WebSocket frame", "data", string(data))
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if ok {
			ch <- &resp
		} else {
			t.logger.Debug("skipping unmatched WebSocket message", "id", resp.ID)
		}
	}
}

// failPending rejects all waiting calls after connection loss.
func (t *WSTransport) failPending() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- &Response{
			JSONRPC: jsonrpcVersion,
			Error:   &RPCError{Code: CodeInternalError, Message: ErrClosed.Error()},
		}
	}
}

// write marshals and sends one frame under the write lock.
func (t *WSTransport) write(payload any) error {
	t.mu.Lock()
	conn := t.conn
	started, closed := t.started, t.closed
	t.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !started || conn == nil {
		return fmt.Errorf("websocket transport not started")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

// Send writes a JSON-RPC request frame and waits for the correlated
// response from the read pump.
func (t *WSTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	ch := make(chan *Response, 1)
	t.pending[req.ID] = ch
	t.mu.Unlock()

	if err := t.write(req); err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return nil, fmt.Errorf("write websocket request: %w", err)
	}

	select {
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		return resp, nil
	}
}

// Notify writes a notification frame. No response is expected.
func (t *WSTransport) Notify(_ context.Context, notif *Notification) error {
	if err := t.write(notif); err != nil {
		return fmt.Errorf("write websocket notification: %w", err)
	}
	return nil
}

// Close sends a close frame, tears down the connection, and fails any
// in-flight calls. Safe to call multiple times or before Start.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		// Best-effort close handshake; the read pump exits on error.
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	t.failPending()
	return nil
}
