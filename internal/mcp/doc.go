// Package mcp implements MCP (Model Context Protocol) client support:
// transports, a typed protocol client, method filtering, and a manager
// that multiplexes tool calls across many independently-configured
// servers.
//
// MCP uses JSON-RPC 2.0 over four transports: stdio (subprocess),
// Server-Sent Events, WebSocket, and plain HTTP request/response. The
// manager connects every enabled server concurrently with independent
// failure isolation, discovers tools via tools/list, gates them through
// allow/block wildcard lists, and registers them under server-qualified
// names for invocation via tools/call.
package mcp
