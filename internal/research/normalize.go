package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"research-analyzer/internal/platform"
)

// NormalizeDelta renders one raw delta into a short progress line and its
// content type. It is pure: the same event always yields the same pair.
func NormalizeDelta(ev platform.RawEvent) (string, ContentType) {
	payload := ev.Payload()
	if payload == "" {
		return "", ContentDelta
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil || parsed == nil {
		return payload, ContentProgress
	}

	if hasAny(parsed, "tool", "tool_name", "tooluse") {
		return describeToolUse(parsed), ContentTool
	}
	if thought, ok := parsed["thought"]; ok {
		return "Thinking: " + textOf(thought), ContentInfo
	}
	if title, ok := parsed["title"]; ok {
		line := "Task: " + textOf(title)
		if thought := textOf(parsed["thought"]); thought != "" {
			line += "\n" + thought
		}
		return line, ContentInfo
	}
	if conclusion, ok := parsed["conclusion"]; ok {
		return "Conclusion: " + textOf(conclusion), ContentInfo
	}
	if message, ok := parsed["message"]; ok {
		return textOf(message), ContentInfo
	}
	return payload, ContentProgress
}

func describeToolUse(parsed map[string]any) string {
	name := textOf(parsed["tool"])
	if name == "" {
		name = textOf(parsed["tool_name"])
	}
	params, _ := parsed["parameters"].(map[string]any)
	if use, ok := parsed["tooluse"].(map[string]any); ok {
		if n := textOf(use["tool_name"]); n != "" {
			name = n
		}
		if params == nil {
			params, _ = use["parameters"].(map[string]any)
		}
	}
	if name == "" {
		name = "tool"
	}
	if query := textOf(params["query"]); query != "" {
		return fmt.Sprintf("Using %s: %s", name, query)
	}
	return "Using tool: " + name
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// textOf renders a decoded JSON value as text: strings as-is, nil as empty,
// everything else as compact JSON.
func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return string(data)
}
