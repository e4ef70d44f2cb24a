package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/probelabs/probe-agent/internal/config"
)

// ErrClosed is returned for operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport is the interface for MCP server communication.
// Implementations handle the details of sending JSON-RPC requests and
// receiving responses over a specific transport kind.
type Transport interface {
	// Start establishes the transport (opens the stream, dials the
	// socket). Transports with no persistent connection treat this as
	// a no-op; the stdio transport may also start lazily on first use.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC request and returns the response.
	// The transport handles framing, encoding, and correlation.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}

// TransportOptions carry cross-cutting settings into transport
// construction.
type TransportOptions struct {
	// RetryCount enables transient-error retry on HTTP-based transports.
	RetryCount int

	Logger *slog.Logger
}

// NewTransport builds the transport for a server descriptor. Unknown
// transport kinds and missing required fields (URL or command) are
// configuration errors raised here, synchronously, before any network
// or process activity, never silently defaulted.
func NewTransport(cfg config.ServerConfig, opts TransportOptions) (Transport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", cfg.Name)

	switch cfg.Transport {
	case config.TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("server %s: stdio transport requires a command", cfg.Name)
		}
		return NewStdioTransport(StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     flattenEnv(cfg.Env),
			Logger:  logger,
		}), nil

	case config.TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: sse transport requires a url", cfg.Name)
		}
		return NewSSETransport(SSEConfig{
			URL:        cfg.URL,
			RetryCount: opts.RetryCount,
			Logger:     logger,
		}), nil

	case config.TransportWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: websocket transport requires a url", cfg.Name)
		}
		return NewWSTransport(WSConfig{
			URL:    cfg.URL,
			Logger: logger,
		}), nil

	case config.TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: http transport requires a url", cfg.Name)
		}
		return NewHTTPTransport(HTTPConfig{
			URL:        cfg.URL,
			RetryCount: opts.RetryCount,
			Logger:     logger,
		}), nil

	default:
		return nil, fmt.Errorf("server %s: unknown transport kind %q", cfg.Name, cfg.Transport)
	}
}

// flattenEnv converts a config env map to the KEY=VALUE form exec.Cmd
// expects.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
