// Package config handles probe-agent configuration loading.
//
// Configuration is a single JSON file (YAML is accepted for the same
// schema) declaring MCP servers plus global settings. Environment
// variables of the form MCP_SERVERS_<NAME>_* override or extend the
// file. Loading is a one-shot pass: the result is an immutable
// descriptor list and nothing re-reads the environment afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportKind identifies how MCP protocol messages reach a server.
type TransportKind string

// Supported transport kinds.
const (
	TransportStdio     TransportKind = "stdio"
	TransportSSE       TransportKind = "sse"
	TransportWebSocket TransportKind = "websocket"
	TransportHTTP      TransportKind = "http"
)

// Timeout bounds. Per-server and global timeouts are validated and
// clamped here, at load time, never at call time.
const (
	// DefaultTimeout applies when neither the server nor the global
	// settings specify one.
	DefaultTimeout = 30 * time.Second

	// MaxTimeout is the clamp ceiling for configured timeouts.
	MaxTimeout = 10 * time.Minute
)

// ServerConfig describes one configured MCP server. Immutable after Load.
type ServerConfig struct {
	Name      string
	Transport TransportKind

	// Command, Args, and Env apply to stdio transports.
	Command string
	Args    []string
	Env     map[string]string

	// URL applies to sse, websocket, and http transports.
	URL string

	Enabled bool

	// Timeout is the per-server call timeout. Zero means "use the
	// global default". Already validated and clamped.
	Timeout time.Duration

	// AllowedMethods and BlockedMethods are wildcard pattern lists
	// gating which discovered methods become callable. If both are
	// set, AllowedMethods wins and BlockedMethods is ignored.
	AllowedMethods []string
	BlockedMethods []string
}

// InvalidServer records a server that failed load-time validation. The
// manager counts these toward its totals but never connects them.
type InvalidServer struct {
	Name   string
	Reason string
}

// Settings holds global (non-per-server) options.
type Settings struct {
	// Timeout is the default call timeout for servers that do not set
	// their own. Zero means DefaultTimeout.
	Timeout time.Duration

	// RetryCount enables transient-error retries on outbound HTTP.
	RetryCount int

	Debug bool
}

// Config is the result of a Load pass.
type Config struct {
	Servers  []ServerConfig
	Invalid  []InvalidServer
	Settings Settings
}

// EffectiveTimeout resolves the call timeout for a server: its own
// value if set, else the global setting, else DefaultTimeout.
func (c *Config) EffectiveTimeout(s ServerConfig) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	if c.Settings.Timeout > 0 {
		return c.Settings.Timeout
	}
	return DefaultTimeout
}

// fileConfig is the on-disk shape.
type fileConfig struct {
	MCPServers map[string]serverEntry `json:"mcpServers" yaml:"mcpServers"`
	Settings   settingsEntry          `json:"settings" yaml:"settings"`
}

type serverEntry struct {
	Command        string            `json:"command" yaml:"command"`
	Args           []string          `json:"args" yaml:"args"`
	Env            map[string]string `json:"env" yaml:"env"`
	URL            string            `json:"url" yaml:"url"`
	Transport      string            `json:"transport" yaml:"transport"`
	Enabled        *bool             `json:"enabled" yaml:"enabled"`
	TimeoutMS      *int64            `json:"timeout" yaml:"timeout"`
	AllowedMethods []string          `json:"allowedMethods" yaml:"allowedMethods"`
	BlockedMethods []string          `json:"blockedMethods" yaml:"blockedMethods"`
}

type settingsEntry struct {
	TimeoutMS  *int64 `json:"timeout" yaml:"timeout"`
	RetryCount int    `json:"retryCount" yaml:"retryCount"`
	Debug      bool   `json:"debug" yaml:"debug"`
}

// DefaultSearchPaths returns the config file search order.
func DefaultSearchPaths() []string {
	paths := []string{"mcp.json"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "probe-agent", "mcp.json"))
	}

	paths = append(paths, "/etc/probe-agent/mcp.json")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Load reads configuration from path, applies environment overrides,
// infers transports, and validates. A file that cannot be parsed at
// all is a hard error; a server that fails validation is recorded in
// Invalid and excluded from Servers.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if fc.MCPServers == nil {
		fc.MCPServers = map[string]serverEntry{}
	}

	applyEnvOverrides(fc.MCPServers, os.Environ(), logger)

	return build(fc, logger)
}

// LoadFromBytes parses configuration from raw JSON without touching the
// filesystem or environment. Used by tests and embedders.
func LoadFromBytes(data []byte, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if fc.MCPServers == nil {
		fc.MCPServers = map[string]serverEntry{}
	}
	return build(fc, logger)
}

// build validates entries and produces the immutable Config.
func build(fc fileConfig, logger *slog.Logger) (*Config, error) {
	cfg := &Config{}

	if fc.Settings.TimeoutMS != nil {
		ms := *fc.Settings.TimeoutMS
		if ms <= 0 {
			return nil, fmt.Errorf("settings.timeout must be positive, got %d", ms)
		}
		d := time.Duration(ms) * time.Millisecond
		if d > MaxTimeout {
			logger.Warn("settings.timeout exceeds maximum, clamping",
				"configured_ms", ms,
				"max", MaxTimeout,
			)
			d = MaxTimeout
		}
		cfg.Settings.Timeout = d
	}
	cfg.Settings.RetryCount = fc.Settings.RetryCount
	cfg.Settings.Debug = fc.Settings.Debug

	names := make([]string, 0, len(fc.MCPServers))
	for name := range fc.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc, err := buildServer(name, fc.MCPServers[name], logger)
		if err != nil {
			logger.Warn("skipping invalid MCP server config",
				"server", name,
				"error", err,
			)
			cfg.Invalid = append(cfg.Invalid, InvalidServer{Name: name, Reason: err.Error()})
			continue
		}
		cfg.Servers = append(cfg.Servers, sc)
	}

	return cfg, nil
}

// buildServer validates one entry. Errors here mean the server is
// skipped entirely, never silently defaulted.
func buildServer(name string, e serverEntry, logger *slog.Logger) (ServerConfig, error) {
	sc := ServerConfig{
		Name:           name,
		Command:        e.Command,
		Args:           e.Args,
		Env:            e.Env,
		URL:            e.URL,
		Enabled:        e.Enabled == nil || *e.Enabled,
		AllowedMethods: e.AllowedMethods,
		BlockedMethods: e.BlockedMethods,
	}

	kind, err := inferTransport(e)
	if err != nil {
		return ServerConfig{}, err
	}
	sc.Transport = kind

	switch kind {
	case TransportStdio:
		if e.Command == "" {
			return ServerConfig{}, fmt.Errorf("stdio transport requires a command")
		}
	case TransportSSE, TransportWebSocket, TransportHTTP:
		if e.URL == "" {
			return ServerConfig{}, fmt.Errorf("%s transport requires a url", kind)
		}
	}

	if e.TimeoutMS != nil {
		ms := *e.TimeoutMS
		if ms <= 0 {
			return ServerConfig{}, fmt.Errorf("timeout must be positive, got %d", ms)
		}
		d := time.Duration(ms) * time.Millisecond
		if d > MaxTimeout {
			logger.Warn("server timeout exceeds maximum, clamping",
				"server", name,
				"configured_ms", ms,
				"max", MaxTimeout,
			)
			d = MaxTimeout
		}
		sc.Timeout = d
	}

	if len(sc.AllowedMethods) > 0 && len(sc.BlockedMethods) > 0 {
		logger.Warn("server configures both allowedMethods and blockedMethods; allowedMethods wins, blockedMethods ignored",
			"server", name,
		)
	}

	return sc, nil
}

// inferTransport resolves the transport kind. An explicit transport
// field wins; otherwise it is inferred from the URL (ws:// or wss:// →
// websocket, a path containing /sse → sse, any other URL → http) or
// from the absence of a URL (→ stdio).
func inferTransport(e serverEntry) (TransportKind, error) {
	if e.Transport != "" {
		switch TransportKind(strings.ToLower(e.Transport)) {
		case TransportStdio:
			return TransportStdio, nil
		case TransportSSE:
			return TransportSSE, nil
		case TransportWebSocket:
			return TransportWebSocket, nil
		case TransportHTTP:
			return TransportHTTP, nil
		default:
			return "", fmt.Errorf("unknown transport kind %q", e.Transport)
		}
	}

	if e.URL == "" {
		return TransportStdio, nil
	}
	if strings.HasPrefix(e.URL, "ws://") || strings.HasPrefix(e.URL, "wss://") {
		return TransportWebSocket, nil
	}
	if strings.Contains(e.URL, "/sse") {
		return TransportSSE, nil
	}
	return TransportHTTP, nil
}

// envSuffixes are the recognized MCP_SERVERS_<NAME>_<SUFFIX> fields.
var envSuffixes = []string{
	"COMMAND", "ARGS", "TRANSPORT", "URL", "ENABLED", "ENV",
	"TIMEOUT", "ALLOWLIST", "BLOCKLIST",
}

// applyEnvOverrides merges MCP_SERVERS_* environment variables over the
// file-based entries. Overrides may introduce servers not present in
// the file. Server names in variables are matched case-insensitively
// against file entries; new servers get lowercased names.
func applyEnvOverrides(servers map[string]serverEntry, environ []string, logger *slog.Logger) {
	const prefix = "MCP_SERVERS_"

	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv, prefix) {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		rest := strings.TrimPrefix(key, prefix)

		var name, suffix string
		for _, s := range envSuffixes {
			if strings.HasSuffix(rest, "_"+s) {
				name = strings.TrimSuffix(rest, "_"+s)
				suffix = s
				break
			}
		}
		if name == "" || suffix == "" {
			logger.Warn("ignoring unrecognized MCP environment variable", "name", key)
			continue
		}

		entryKey := matchServerName(servers, name)
		entry := servers[entryKey]

		switch suffix {
		case "COMMAND":
			entry.Command = value
		case "ARGS":
			entry.Args = splitCSV(value)
		case "TRANSPORT":
			entry.Transport = value
		case "URL":
			entry.URL = value
		case "ENABLED":
			enabled := parseBool(value)
			entry.Enabled = &enabled
		case "ENV":
			if entry.Env == nil {
				entry.Env = map[string]string{}
			}
			for _, pair := range splitCSV(value) {
				if k, v, ok := strings.Cut(pair, "="); ok {
					entry.Env[k] = v
				}
			}
		case "TIMEOUT":
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
				entry.TimeoutMS = &ms
			} else {
				logger.Warn("ignoring non-numeric timeout override", "name", key, "value", value)
			}
		case "ALLOWLIST":
			entry.AllowedMethods = splitCSV(value)
		case "BLOCKLIST":
			entry.BlockedMethods = splitCSV(value)
		}

		servers[entryKey] = entry
		logger.Debug("applied MCP environment override", "server", entryKey, "field", suffix)
	}
}

// matchServerName finds the existing map key matching an env-derived
// name (case-insensitive, '-' and '_' equivalent), or returns a
// lowercased key for a new server.
func matchServerName(servers map[string]serverEntry, envName string) string {
	norm := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "-", "_")
	}
	want := norm(envName)
	for existing := range servers {
		if norm(existing) == want {
			return existing
		}
	}
	return strings.ToLower(envName)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
