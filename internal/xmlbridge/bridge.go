// Package xmlbridge translates between the model's XML tool-invocation
// dialect and JSON schema-based tool calls: it renders invocation
// templates for discovered tools and parses XML-tagged model output
// back into tool name plus argument object.
package xmlbridge

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Call is a parsed XML tool invocation.
type Call struct {
	Tool   string
	Params map[string]any
}

// ParseCall scans text for an invocation of one of the candidate tools.
// The first candidate whose open tag appears wins. The closing tag is
// the LAST occurrence of </name> after the open tag: model output may
// echo the closing tag earlier as example text, and the real one comes
// last. A missing closing tag takes the rest of the text. Returns nil
// when no candidate tag is found.
func ParseCall(text string, candidates []string) *Call {
	for _, name := range candidates {
		open := "<" + name + ">"
		start := strings.Index(text, open)
		if start < 0 {
			continue
		}
		bodyStart := start + len(open)

		body := text[bodyStart:]
		if end := strings.LastIndex(text, "</"+name+">"); end >= bodyStart {
			body = text[bodyStart:end]
		}

		return &Call{Tool: name, Params: parseParams(body)}
	}
	return nil
}

// parseParams extracts the argument object from a tag body. Preference
// order: a <params> block (JSON or plain string), then legacy per-key
// child tags, then the whole body as a single value.
func parseParams(body string) map[string]any {
	if block, ok := extractBlock(body, "params"); ok {
		return parseParamsBlock(block)
	}
	if params := parseChildTags(body); len(params) > 0 {
		return params
	}

	trimmed := strings.TrimSpace(unwrapCDATA(body))
	if trimmed == "" {
		return map[string]any{}
	}
	return map[string]any{"value": trimmed}
}

// parseParamsBlock interprets the content of a <params> block. A body
// starting with { is JSON; parse failure degrades to a single string
// value instead of an error.
func parseParamsBlock(block string) map[string]any {
	content := strings.TrimSpace(unwrapCDATA(strings.TrimSpace(block)))
	if content == "" {
		return map[string]any{}
	}

	if strings.HasPrefix(content, "{") {
		// Decode just the leading JSON object so trailing text (echoed
		// examples, stray closing tags) does not break the parse.
		var params map[string]any
		if err := json.NewDecoder(strings.NewReader(content)).Decode(&params); err == nil {
			return params
		}
	}
	return map[string]any{"value": content}
}

// extractBlock pulls the content between <name> and the last </name>
// within body. Reports false when the open tag is absent.
func extractBlock(body, name string) (string, bool) {
	open := "<" + name + ">"
	start := strings.Index(body, open)
	if start < 0 {
		return "", false
	}
	contentStart := start + len(open)

	if end := strings.LastIndex(body, "</"+name+">"); end >= contentStart {
		return body[contentStart:end], true
	}
	return body[contentStart:], true
}

var childTagRe = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_]*)>`)

// parseChildTags parses the legacy <key>value</key> form. A literal
// params key is skipped so a malformed params block cannot masquerade
// as an argument.
func parseChildTags(body string) map[string]any {
	params := map[string]any{}
	rest := body

	for {
		m := childTagRe.FindStringSubmatchIndex(rest)
		if m == nil {
			break
		}
		key := rest[m[2]:m[3]]
		valStart := m[1]

		end := strings.Index(rest[valStart:], "</"+key+">")
		if end < 0 {
			// Unterminated child tag: skip past the open tag and keep looking.
			rest = rest[valStart:]
			continue
		}

		if key != "params" {
			params[key] = strings.TrimSpace(unwrapCDATA(strings.TrimSpace(rest[valStart : valStart+end])))
		}
		rest = rest[valStart+end+len("</"+key+">"):]
	}

	return params
}

// unwrapCDATA removes a CDATA wrapper if present.
func unwrapCDATA(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "<![CDATA[") && strings.HasSuffix(trimmed, "]]>") {
		return trimmed[len("<![CDATA[") : len(trimmed)-len("]]>")]
	}
	return s
}
