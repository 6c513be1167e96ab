package research

import (
	"bytes"
	"encoding/json"
)

// ToolUse records one tool invocation inside a reasoning step.
type ToolUse struct {
	ToolName   string `json:"tool_name"`
	Parameters any    `json:"parameters"`
	ToolResult any    `json:"tool_result,omitempty"`
}

// ToolUses is the tool usage of a step. A single use is encoded as an object
// and several as an array; both forms decode.
type ToolUses []ToolUse

func (t ToolUses) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]ToolUse(t))
}

func (t *ToolUses) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one ToolUse
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return err
		}
		*t = ToolUses{one}
		return nil
	}
	var many []ToolUse
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return err
	}
	*t = many
	return nil
}

// ReasoningNode is one step of the agent's reasoning tree.
type ReasoningNode struct {
	Title      string          `json:"title,omitempty"`
	Thought    string          `json:"thought,omitempty"`
	Conclusion string          `json:"conclusion,omitempty"`
	Content    string          `json:"content,omitempty"`
	ToolUse    ToolUses        `json:"tooluse,omitempty"`
	Subtasks   []ReasoningNode `json:"subtasks,omitempty"`
}

// normalizeReasoning turns a raw reasoning value of any shape into a list of
// nodes. Empty values yield an empty list.
func normalizeReasoning(raw any) []ReasoningNode {
	switch r := raw.(type) {
	case nil:
		return []ReasoningNode{}
	case []ReasoningNode:
		out := make([]ReasoningNode, 0, len(r))
		for _, n := range r {
			out = append(out, normalizeNode(n))
		}
		return out
	case []any:
		out := make([]ReasoningNode, 0, len(r))
		for _, item := range r {
			out = append(out, normalizeNode(item))
		}
		return out
	case map[string]any:
		if len(r) == 0 {
			return []ReasoningNode{}
		}
		return []ReasoningNode{normalizeNode(r)}
	case ReasoningNode, *ReasoningNode:
		return []ReasoningNode{normalizeNode(r)}
	case string:
		if r == "" {
			return []ReasoningNode{}
		}
	}
	return []ReasoningNode{{Content: textOf(raw)}}
}

// normalizeNode handles the three node shapes: decoded JSON objects, typed
// nodes, and anything else, which degrades to its text as content.
func normalizeNode(v any) ReasoningNode {
	switch n := v.(type) {
	case map[string]any:
		return nodeFromMap(n)
	case ReasoningNode:
		out := n
		out.ToolUse = append(ToolUses(nil), n.ToolUse...)
		out.Subtasks = nil
		for _, st := range n.Subtasks {
			out.Subtasks = append(out.Subtasks, normalizeNode(st))
		}
		return out
	case *ReasoningNode:
		if n == nil {
			return ReasoningNode{}
		}
		return normalizeNode(*n)
	}
	return ReasoningNode{Content: textOf(v)}
}

func nodeFromMap(m map[string]any) ReasoningNode {
	var node ReasoningNode
	node.Title = textOf(m["title"])
	node.Thought = textOf(m["thought"])
	node.Conclusion = textOf(m["conclusion"])
	node.Content = textOf(m["content"])

	switch tu := m["tooluse"].(type) {
	case map[string]any:
		if len(tu) > 0 {
			node.ToolUse = ToolUses{toolUseFromMap(tu)}
		}
	case []any:
		for _, item := range tu {
			if im, ok := item.(map[string]any); ok {
				node.ToolUse = append(node.ToolUse, toolUseFromMap(im))
			} else if item != nil {
				node.ToolUse = append(node.ToolUse, ToolUse{ToolName: textOf(item)})
			}
		}
	case nil:
	default:
		node.ToolUse = ToolUses{{ToolName: textOf(tu)}}
	}

	for _, key := range []string{"subtasks", "subtask"} {
		switch st := m[key].(type) {
		case []any:
			if len(st) == 0 {
				continue
			}
			for _, item := range st {
				node.Subtasks = append(node.Subtasks, normalizeNode(item))
			}
		case map[string]any:
			if len(st) == 0 {
				continue
			}
			node.Subtasks = []ReasoningNode{nodeFromMap(st)}
		default:
			continue
		}
		break
	}
	return node
}

func toolUseFromMap(m map[string]any) ToolUse {
	name := textOf(m["tool_name"])
	if name == "" {
		name = textOf(m["tool"])
	}
	if name == "" {
		name = textOf(m["name"])
	}
	return ToolUse{
		ToolName:   name,
		Parameters: m["parameters"],
		ToolResult: m["tool_result"],
	}
}

// walkReasoning visits nodes depth-first in pre-order.
func walkReasoning(nodes []ReasoningNode, depth int, visit func(n ReasoningNode, depth int)) {
	for _, n := range nodes {
		visit(n, depth)
		walkReasoning(n.Subtasks, depth+1, visit)
	}
}
