package xmlbridge

import (
	"strings"
)

// Kind identifies which tool surface a hybrid call resolved to.
type Kind string

const (
	KindNative Kind = "native"
	KindMCP    Kind = "mcp"
)

// HybridCall is a parsed invocation resolved against both tool surfaces.
type HybridCall struct {
	Kind   Kind
	Tool   string
	Params map[string]any
}

// completionTool is the shorthand completion marker some models emit in
// truncated or tagless form.
const completionTool = "attempt_completion"

// HybridParse resolves XML-tagged model output against the native tool
// names first, then the MCP tool names. A name present on both surfaces
// resolves native. Thinking-tag wrappers are stripped before matching.
// Returns nil when no tool call is recognized.
func HybridParse(text string, nativeNames, mcpNames []string) *HybridCall {
	cleaned := stripThinking(text)
	cleaned = recoverTruncatedCompletion(cleaned, nativeNames)

	if call := ParseCall(cleaned, nativeNames); call != nil {
		return &HybridCall{Kind: KindNative, Tool: call.Tool, Params: call.Params}
	}
	if call := ParseCall(cleaned, mcpNames); call != nil {
		return &HybridCall{Kind: KindMCP, Tool: call.Tool, Params: call.Params}
	}
	return nil
}

// stripThinking removes <thinking> tags while keeping their content, so
// a tool call wrapped in a thinking block still parses.
func stripThinking(text string) string {
	text = strings.ReplaceAll(text, "<thinking>", "")
	text = strings.ReplaceAll(text, "</thinking>", "")
	return text
}

// recoverTruncatedCompletion repairs two degenerate completion-marker
// shapes seen in model output: an open tag cut off mid-stream, and a
// bare tagless marker on its own.
func recoverTruncatedCompletion(text string, nativeNames []string) string {
	if !containsName(nativeNames, completionTool) {
		return text
	}
	if strings.Contains(text, "<"+completionTool+">") {
		return text
	}

	// Open tag truncated before its closing angle bracket: reinsert it
	// right after the tag name.
	if idx := strings.LastIndex(text, "<"+completionTool); idx >= 0 {
		after := idx + len("<"+completionTool)
		if after == len(text) || !isNameChar(text[after]) {
			return text[:after] + ">" + text[after:]
		}
		return text
	}

	// Bare marker with no tags at all.
	if strings.TrimSpace(text) == completionTool {
		return "<" + completionTool + "></" + completionTool + ">"
	}
	return text
}

func isNameChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
