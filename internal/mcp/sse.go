package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/probelabs/probe-agent/internal/httpkit"
)

// SSEConfig configures an SSE MCP transport: a persistent GET stream
// for server-to-client messages plus a POST endpoint for requests.
type SSEConfig struct {
	// URL is the SSE stream endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	// RetryCount enables transient-error retries on the POST client.
	RetryCount int

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// SSETransport communicates with an MCP server over Server-Sent Events.
// Requests are POSTed to a message endpoint; responses arrive as events
// on the stream and are correlated back to callers by request ID.
type SSETransport struct {
	url          string
	headers      map[string]string
	streamClient *http.Client // no overall timeout: the stream is long-lived
	postClient   *http.Client
	logger       *slog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	endpoint string
	pending  map[int64]chan *Response
}

// NewSSETransport creates an SSE transport for the given config.
func NewSSETransport(cfg SSEConfig) *SSETransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	postOpts := []httpkit.ClientOption{httpkit.WithLogger(logger)}
	if cfg.RetryCount > 0 {
		postOpts = append(postOpts, httpkit.WithRetry(cfg.RetryCount, 500*time.Millisecond))
	}

	return &SSETransport{
		url:          cfg.URL,
		headers:      cfg.Headers,
		streamClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		postClient:   httpkit.NewClient(postOpts...),
		logger:       logger,
		endpoint:     defaultMessageEndpoint(cfg.URL),
		pending:      make(map[int64]chan *Response),
	}
}

// defaultMessageEndpoint derives the POST-back URL from the stream URL.
// Servers may override it with an "endpoint" event after connect.
func defaultMessageEndpoint(streamURL string) string {
	if strings.Contains(streamURL, "/sse") {
		return strings.Replace(streamURL, "/sse", "/message", 1)
	}
	return streamURL
}

// Start opens the event stream. The stream's lifetime is independent of
// the Start context: cancellation of ctx only aborts the connection
// attempt, not an established stream.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.started {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	// Abort the dial if the Start context expires before the stream
	// is established.
	dialDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-dialDone:
		}
	}()

	resp, err := t.streamClient.Do(req)
	close(dialDone)
	if err != nil {
		cancel()
		return fmt.Errorf("open SSE stream to %s: %w", t.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1<<20)
		cancel()
		return fmt.Errorf("SSE server returned %d: %s", resp.StatusCode, body)
	}

	t.cancel = cancel
	t.started = true

	go t.readLoop(resp)

	t.logger.Info("SSE stream established", "url", t.url)
	return nil
}

// readLoop parses the event stream and routes response events to
// pending callers. It exits when the stream closes or the transport
// is closed.
func (t *SSETransport) readLoop(resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)

	event := ""
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			t.dispatch(event, data.String())
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Comment/keepalive.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("SSE stream closed", "error", err)
	}

	// Stream is gone: fail anything still waiting.
	t.failPending(fmt.Errorf("SSE stream closed: %w", ErrClosed))
}

// dispatch handles one complete event from the stream.
func (t *SSETransport) dispatch(event, data string) {
	if data == "" {
		return
	}

	switch event {
	case "endpoint":
		// The server tells us where to POST requests. The value may be
		// relative to the stream URL.
		resolved := data
		if base, err := url.Parse(t.url); err == nil {
			if ref, err := url.Parse(data); err == nil {
				resolved = base.ResolveReference(ref).String()
			}
		}
		t.mu.Lock()
		t.endpoint = resolved
		t.mu.Unlock()
		t.logger.Debug("SSE message endpoint set", "endpoint", resolved)

	case "", "message":
		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			t.logger.Debug("skipping non-JSON SSE event", "data", data)
			return
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
			t.logger.Debug("skipping unmatched SSE message", "id", resp.ID)
		}

	default:
		t.logger.Debug("ignoring SSE event", "event", event)
	}
}

// failPending rejects all waiting calls. Used on stream loss and Close.
func (t *SSETransport) failPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- &Response{
			JSONRPC: jsonrpcVersion,
			Error:   &RPCError{Code: CodeInternalError, Message: err.Error()},
		}
	}
}

// Send POSTs a JSON-RPC request to the message endpoint and waits for
// the correlated response from the event stream.
func (t *SSETransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("SSE transport not started")
	}
	ch := make(chan *Response, 1)
	t.pending[req.ID] = ch
	endpoint := t.endpoint
	t.mu.Unlock()

	unregister := func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}

	if err := t.post(ctx, endpoint, req); err != nil {
		unregister()
		return nil, err
	}

	select {
	case <-ctx.Done():
		unregister()
		return nil, ctx.Err()
	case resp := <-ch:
		return resp, nil
	}
}

// Notify POSTs a notification to the message endpoint.
func (t *SSETransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	endpoint := t.endpoint
	t.mu.Unlock()

	return t.post(ctx, endpoint, notif)
}

// post writes one JSON body to the message endpoint. Accepts 200 and
// 202; SSE servers typically acknowledge with 202 and deliver the
// actual response on the stream.
func (t *SSETransport) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.postClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST to %s: %w", endpoint, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return fmt.Errorf("SSE server returned %d: %s", httpResp.StatusCode, errBody)
	}

	return nil
}

// Close tears down the stream and fails any in-flight calls. Safe to
// call multiple times or before Start.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.failPending(ErrClosed)
	return nil
}
