// Probe-agent connects configured MCP servers, bridges their tools into
// a local registry under qualified names, and serves that registry over
// HTTP for local consumers.
//
// Usage:
//
//	probe-agent serve               Connect servers and run the tool server
//	probe-agent tools               List the qualified tools that would register
//	probe-agent call <tool> [json]  Invoke one tool and print its output
//	probe-agent version             Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/probelabs/probe-agent/internal/buildinfo"
	"github.com/probelabs/probe-agent/internal/calllog"
	"github.com/probelabs/probe-agent/internal/config"
	"github.com/probelabs/probe-agent/internal/mcp"
	"github.com/probelabs/probe-agent/internal/tools"
	"github.com/probelabs/probe-agent/internal/toolserver"
)

// defaultListen is where the tool server binds when -listen is not given.
const defaultListen = "127.0.0.1:8765"

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the probe-agent command. All OS-level
// dependencies are injected as parameters; it returns nil on clean
// shutdown and a non-nil error for any failure. Arguments are parsed by
// hand: the flag package relies on package-level globals, which makes it
// impossible to call run() concurrently from tests, and the argument
// surface is small enough that manual parsing is clearer.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var logLevel string
	var listen string
	var calllogPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-log-level" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-log-level="):
			logLevel = strings.TrimPrefix(args[i], "-log-level=")
		case args[i] == "-listen" && i+1 < len(args):
			listen = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-listen="):
			listen = strings.TrimPrefix(args[i], "-listen=")
		case args[i] == "-calllog" && i+1 < len(args):
			calllogPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-calllog="):
			calllogPath = strings.TrimPrefix(args[i], "-calllog=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	level := slog.LevelInfo
	if logLevel != "" {
		var err error
		level, err = config.ParseLogLevel(logLevel)
		if err != nil {
			return err
		}
	}
	logger := newLogger(stdout, level)

	switch command {
	case "serve":
		return runServe(ctx, logger, configPath, listen, calllogPath)
	case "tools":
		return runTools(ctx, stdout, logger, configPath)
	case "call":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: probe-agent call <tool> [json-args]")
		}
		return runCall(ctx, stdout, logger, configPath, cmdArgs)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe handles the "probe-agent serve" subcommand: load config,
// connect all enabled MCP servers, bridge their tools into a registry,
// start the HTTP tool server, and block until SIGINT or SIGTERM.
func runServe(ctx context.Context, logger *slog.Logger, configPath, listen, calllogPath string) error {
	logger.Info("starting probe-agent",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath, "servers", len(cfg.Servers))

	manager := mcp.NewManager(logger)
	defer manager.Disconnect()

	// The call log is optional. When enabled, every tool invocation is
	// recorded; a failed audit write never affects the call itself.
	if calllogPath != "" {
		store, err := calllog.NewStore(calllogPath, logger)
		if err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
		defer store.Close()
		manager.SetCallRecorder(store)
		logger.Info("call log enabled", "path", calllogPath)
	}

	summary := manager.Initialize(ctx, cfg)
	logger.Info("MCP servers connected",
		"connected", summary.Connected,
		"total", summary.Total,
		"tools", len(summary.ToolNames),
	)

	registry := tools.NewRegistry()
	bridgeTools(registry, manager)

	host, port, err := parseListen(listen)
	if err != nil {
		return err
	}

	srv := toolserver.New(registry, host, port, logger)
	addr, err := srv.Start(ctx)
	if err != nil {
		return fmt.Errorf("start tool server: %w", err)
	}
	defer srv.Stop()
	logger.Info("tool server listening", "addr", addr.String())

	// SIGINT/SIGTERM cancellation flows through the same ctx used by all
	// components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutdown signal received")
	return nil
}

// runTools handles "probe-agent tools": connect, list the qualified
// tools that registered, and disconnect.
func runTools(ctx context.Context, stdout io.Writer, logger *slog.Logger, configPath string) error {
	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	manager := mcp.NewManager(logger)
	defer manager.Disconnect()

	summary := manager.Initialize(ctx, cfg)
	fmt.Fprintf(stdout, "%d/%d servers connected, %d tools\n\n",
		summary.Connected, summary.Total, len(summary.ToolNames))

	for _, desc := range manager.Tools() {
		line := desc.Name
		if desc.Description != "" {
			line += "  " + firstLine(desc.Description)
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

// runCall handles "probe-agent call <tool> [json-args]": connect, invoke
// one tool by qualified name, print its output, and disconnect.
func runCall(ctx context.Context, stdout io.Writer, logger *slog.Logger, configPath string, cmdArgs []string) error {
	toolName := cmdArgs[0]

	toolArgs := map[string]any{}
	if len(cmdArgs) > 1 {
		if err := json.Unmarshal([]byte(cmdArgs[1]), &toolArgs); err != nil {
			return fmt.Errorf("parse tool arguments: %w", err)
		}
	}

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	manager := mcp.NewManager(logger)
	defer manager.Disconnect()
	manager.Initialize(ctx, cfg)

	out, err := manager.CallTool(ctx, toolName, toolArgs)
	if err != nil {
		return fmt.Errorf("call %s: %w", toolName, err)
	}
	fmt.Fprintln(stdout, out)
	return nil
}

// runVersion prints build metadata in a stable order.
func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "probe-agent - MCP tool bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: probe-agent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve               Connect MCP servers and run the tool server")
	fmt.Fprintln(w, "  tools               List the qualified tools that would register")
	fmt.Fprintln(w, "  call <tool> [json]  Invoke one tool and print its output")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>     Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -log-level <lvl>   Log level: debug, info, warn, error (default: info)")
	fmt.Fprintf(w, "  -listen <addr>     Tool server listen address (default: %s)\n", defaultListen)
	fmt.Fprintln(w, "  -calllog <path>    Record tool calls to this SQLite database")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// bridgeTools registers every MCP tool in the local registry so the
// tool server exposes remote and native tools through one surface.
func bridgeTools(registry *tools.Registry, manager *mcp.Manager) {
	for _, ct := range manager.CallableTools() {
		registry.Register(&tools.Tool{
			Name:        ct.Name,
			Description: ct.Description,
			Parameters:  ct.InputSchema,
			Handler:     ct.Execute,
		})
	}
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output in probe-agent goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the configuration file. If explicit is
// non-empty, that exact path is used and must exist.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath, logger)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// parseListen splits a host:port listen address. Port 0 asks the OS for
// an ephemeral port.
func parseListen(listen string) (string, int, error) {
	if listen == "" {
		listen = defaultListen
	}
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("parse listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	return host, port, nil
}

// firstLine returns s up to (not including) the first newline.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
