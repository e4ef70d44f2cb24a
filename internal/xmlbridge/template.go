package xmlbridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolTemplate renders a tool's description and parameter list into an
// invocation template for the model's instructions. The template shows
// the JSON-parameter form and, for single-parameter tools, a bare-string
// shorthand.
func ToolTemplate(name, description string, schema map[string]any) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n", name)
	if description != "" {
		b.WriteString(description)
		b.WriteString("\n\n")
	}

	props, required := schemaProperties(schema)
	paramNames := sortedKeys(props)

	if len(paramNames) > 0 {
		b.WriteString("### Parameters\n\n")
		for _, pname := range paramNames {
			prop, _ := props[pname].(map[string]any)
			b.WriteString(paramLine(pname, prop, required[pname]))
		}
		b.WriteString("\n")
	}

	example := ExampleParams(schema)
	exampleJSON, err := json.Marshal(example)
	if err != nil {
		exampleJSON = []byte("{}")
	}

	b.WriteString("### Usage\n\n")
	fmt.Fprintf(&b, "<%s>\n<params>\n%s\n</params>\n</%s>\n", name, exampleJSON, name)

	if len(paramNames) == 1 {
		prop, _ := props[paramNames[0]].(map[string]any)
		fmt.Fprintf(&b, "\nOr pass the single %s value directly:\n\n", paramNames[0])
		fmt.Fprintf(&b, "<%s>\n<params>\n%v\n</params>\n</%s>\n", name, exampleValue(prop), name)
	}

	return b.String()
}

// ExampleParams builds a filled-in argument object from a JSON schema,
// one example value per property.
func ExampleParams(schema map[string]any) map[string]any {
	props, _ := schemaProperties(schema)
	example := make(map[string]any, len(props))
	for _, pname := range sortedKeys(props) {
		prop, _ := props[pname].(map[string]any)
		example[pname] = exampleValue(prop)
	}
	return example
}

// paramLine renders one "- name (type, required): description" entry.
func paramLine(name string, prop map[string]any, required bool) string {
	typ, _ := prop["type"].(string)
	if typ == "" {
		typ = "string"
	}

	req := "optional"
	if required {
		req = "required"
	}

	line := fmt.Sprintf("- %s (%s, %s)", name, typ, req)
	if desc, _ := prop["description"].(string); desc != "" {
		line += ": " + desc
	}
	if choices := enumValues(prop); len(choices) > 0 {
		line += fmt.Sprintf(" [one of: %s]", strings.Join(choices, ", "))
	}
	return line + "\n"
}

// exampleValue derives a plausible value from a property's type and enum.
func exampleValue(prop map[string]any) any {
	if choices := enumValues(prop); len(choices) > 0 {
		return choices[0]
	}

	typ, _ := prop["type"].(string)
	switch typ {
	case "number", "integer":
		return float64(42)
	case "boolean":
		return true
	case "array":
		return []any{"example"}
	case "object":
		return map[string]any{}
	default:
		return "example"
	}
}

func enumValues(prop map[string]any) []string {
	raw, _ := prop["enum"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func schemaProperties(schema map[string]any) (map[string]any, map[string]bool) {
	props, _ := schema["properties"].(map[string]any)

	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	return props, required
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
