package mcp

import (
	"log/slog"

	"github.com/probelabs/probe-agent/internal/config"
	"github.com/probelabs/probe-agent/internal/glob"
)

// Allowed reports whether a discovered method name passes the server's
// allow/block configuration. With neither list configured everything is
// allowed. If allow patterns are present they are the only ones
// consulted; block patterns are ignored (the load pass has already
// warned about the ambiguity). Patterns support '*' wildcards via the
// glob package.
func Allowed(method string, allow, block []string) bool {
	if len(allow) > 0 {
		return glob.MatchAny(allow, method)
	}
	if len(block) > 0 {
		return !glob.MatchAny(block, method)
	}
	return true
}

// FilterTools applies the server's method filter to a discovered tool
// catalog and returns the permitted subset. After filtering it warns,
// per configured pattern, about patterns that matched zero live methods
// as operator feedback for typos, not an error.
func FilterTools(sc config.ServerConfig, defs []ToolDefinition, logger *slog.Logger) []ToolDefinition {
	if logger == nil {
		logger = slog.Default()
	}

	if len(sc.AllowedMethods) == 0 && len(sc.BlockedMethods) == 0 {
		return defs
	}

	var kept []ToolDefinition
	for _, td := range defs {
		if Allowed(td.Name, sc.AllowedMethods, sc.BlockedMethods) {
			kept = append(kept, td)
		}
	}

	live := make([]string, 0, len(defs))
	for _, td := range defs {
		live = append(live, td.Name)
	}

	// The consulted list is allow when present, else block.
	consulted := sc.AllowedMethods
	if len(consulted) == 0 {
		consulted = sc.BlockedMethods
	}
	for _, pattern := range consulted {
		if !matchesAnyName(pattern, live) {
			logger.Warn("method filter pattern matched no live methods",
				"server", sc.Name,
				"pattern", pattern,
				"available", live,
			)
		}
	}

	return kept
}

func matchesAnyName(pattern string, names []string) bool {
	for _, n := range names {
		if glob.Match(pattern, n) {
			return true
		}
	}
	return false
}
