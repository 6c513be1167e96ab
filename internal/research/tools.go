package research

import (
	"fmt"
	"strings"

	"research-analyzer/internal/arxiv"
	"research-analyzer/internal/platform"
)

// BuildTools assembles the tool configuration for a run: one platform tool per
// id and, when enabled and configured, the academic-search function tool.
func BuildTools(toolIDs []string, includeAcademic bool, academicURL string) []platform.Tool {
	tools := make([]platform.Tool, 0, len(toolIDs)+1)
	for _, id := range toolIDs {
		tools = append(tools, platform.Tool{Type: "platform", ID: id})
	}
	if includeAcademic && strings.TrimSpace(academicURL) != "" {
		tools = append(tools, arxiv.FunctionTool(academicURL))
	}
	return tools
}

func toolLabels(tools []platform.Tool) []string {
	labels := make([]string, 0, len(tools))
	for _, t := range tools {
		labels = append(labels, t.Label())
	}
	return labels
}

// BuildInstructions renders the agent instructions for a topic.
func BuildInstructions(topic string) string {
	return fmt.Sprintf(`You are a research assistant with access to web search, page reading and academic paper search tools.

Research topic:
%s

Use your tools to gather current, verifiable information before answering. Prefer primary sources and recent academic work where relevant. Cross-check claims that appear in only one source.

Write the final answer as a structured report:
1. A short executive summary.
2. Key findings, each with the source it came from.
3. Open questions or disagreements between sources.
4. Suggested directions for further research.

Cite sources inline with their titles or URLs. State clearly when evidence is weak or missing.`, strings.TrimSpace(topic))
}
