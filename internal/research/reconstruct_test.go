package research

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructPlainAnswer(t *testing.T) {
	answer, reasoning := Reconstruct("A plain text answer.", nil)
	assert.Equal(t, "A plain text answer.", answer)
	assert.NotNil(t, reasoning)
	assert.Empty(t, reasoning)
}

func TestReconstructSynthesizesFromEmbeddedReasoning(t *testing.T) {
	conclusion := "A is B. This is a detailed explanation that runs past eighty characters in total."
	raw := `{"reasoning":[{"conclusion":"` + conclusion + `"}], "foo":"bar"}`

	answer, reasoning := Reconstruct(raw, nil)
	assert.Equal(t, conclusion, answer)
	require.Len(t, reasoning, 1)
	assert.Equal(t, conclusion, reasoning[0].Conclusion)
}

func TestReconstructEmbeddedReasoningSupersedesRunReasoning(t *testing.T) {
	raw := `{"reasoning":[{"title":"embedded"}]}`
	_, reasoning := Reconstruct(raw, []any{map[string]any{"title": "from run"}})
	require.Len(t, reasoning, 1)
	assert.Equal(t, "embedded", reasoning[0].Title)
}

func TestReconstructAnswerFieldPriority(t *testing.T) {
	final := strings.Repeat("final answer text ", 4)
	summary := strings.Repeat("summary text ", 6)
	doc, err := json.Marshal(map[string]any{"summary": summary, "final_answer": final, "answer": "too short"})
	require.NoError(t, err)

	answer, _ := Reconstruct(string(doc), nil)
	assert.Equal(t, final, answer)
}

func TestReconstructShortFieldsTriggerSynthesis(t *testing.T) {
	doc := `{"answer":"short"}`
	answer, _ := Reconstruct(doc, []any{map[string]any{"conclusion": "A conclusion longer than twenty characters."}})
	assert.Equal(t, "A conclusion longer than twenty characters.", answer)

	answer, _ = Reconstruct(doc, nil)
	assert.Equal(t, FallbackNoResults, answer)
}

func TestReconstructSalvagesTruncatedJSON(t *testing.T) {
	summary := strings.Repeat("Salvaged summary with \\\"quoted\\\" words.\\n", 5)
	truncated := `{"summary":"` + summary + `","reasoning":[{"title":"step","thought":"` + strings.Repeat("x", 500)

	answer, _ := Reconstruct(truncated, nil)
	assert.True(t, strings.HasPrefix(answer, `Salvaged summary with "quoted" words.`+"\n"), answer)
	assert.NotContains(t, answer, `\"`)
}

func TestReconstructSalvageRecoversCutOffValue(t *testing.T) {
	tail := strings.Repeat("the final conclusion keeps going ", 20)
	truncated := `{"reasoning":[{"title":"a","thought":"` + strings.Repeat("y", 300) + `"}],"final_answer":"` + tail

	answer, _ := Reconstruct(truncated, nil)
	assert.True(t, strings.HasPrefix(answer, "the final conclusion keeps going"), answer)
}

func TestReconstructKeepsUnsalvageableText(t *testing.T) {
	raw := `{"notes":"` + strings.Repeat("z", 600)
	answer, _ := Reconstruct(raw, nil)
	assert.NotEmpty(t, answer)
}

func TestReconstructShortMalformedJSONIsKept(t *testing.T) {
	answer, _ := Reconstruct(`{"broken`, nil)
	assert.Equal(t, `{"broken`, answer)
}

func TestReconstructLargeBlobPrefersReasoning(t *testing.T) {
	blob := `{"unparsed":"` + strings.Repeat("q", 1200)
	conclusion := strings.Repeat("Synthesized from reasoning. ", 8)
	answer, _ := Reconstruct(blob, []any{map[string]any{"title": "Final report", "conclusion": conclusion}})
	assert.Equal(t, conclusion, answer)
}

func TestReconstructEmptyAnswerWithoutReasoning(t *testing.T) {
	for _, raw := range []any{nil, "", "   "} {
		answer, reasoning := Reconstruct(raw, nil)
		assert.Equal(t, FallbackNoResults, answer)
		assert.Empty(t, reasoning)
	}
}

func TestReconstructObjectAnswer(t *testing.T) {
	answer, _ := Reconstruct(map[string]any{"output": strings.Repeat("o", 60)}, nil)
	assert.Equal(t, strings.Repeat("o", 60), answer)

	answer, _ = Reconstruct(map[string]any{"score": 3.0}, nil)
	assert.Equal(t, `{"score":3}`, answer)

	answer, _ = Reconstruct(42.0, nil)
	assert.Equal(t, "42", answer)
}

func TestReconstructNormalizesReasoningShapes(t *testing.T) {
	raw := []any{
		map[string]any{
			"title":   "Search",
			"thought": "look",
			"tooluse": map[string]any{"tool_name": "web_search", "parameters": map[string]any{"query": "q"}},
			"subtask": []any{
				map[string]any{"conclusion": "nested", "tooluse": []any{map[string]any{"tool": "exa_search"}, map[string]any{"name": "arxiv_search"}}},
			},
		},
		"opaque step",
		7.5,
	}
	_, reasoning := Reconstruct("answer", raw)
	require.Len(t, reasoning, 3)

	first := reasoning[0]
	assert.Equal(t, "Search", first.Title)
	require.Len(t, first.ToolUse, 1)
	assert.Equal(t, "web_search", first.ToolUse[0].ToolName)
	require.Len(t, first.Subtasks, 1)
	assert.Equal(t, "nested", first.Subtasks[0].Conclusion)
	require.Len(t, first.Subtasks[0].ToolUse, 2)
	assert.Equal(t, "exa_search", first.Subtasks[0].ToolUse[0].ToolName)
	assert.Equal(t, "arxiv_search", first.Subtasks[0].ToolUse[1].ToolName)

	assert.Equal(t, ReasoningNode{Content: "opaque step"}, reasoning[1])
	assert.Equal(t, ReasoningNode{Content: "7.5"}, reasoning[2])

	single, err := json.Marshal(first)
	require.NoError(t, err)
	assert.Contains(t, string(single), `"tooluse":{"tool_name":"web_search"`)

	multi, err := json.Marshal(first.Subtasks[0])
	require.NoError(t, err)
	assert.Contains(t, string(multi), `"tooluse":[{`)

	var decoded ReasoningNode
	require.NoError(t, json.Unmarshal(single, &decoded))
	assert.Equal(t, "web_search", decoded.ToolUse[0].ToolName)
}

func TestReconstructSingleReasoningObject(t *testing.T) {
	_, reasoning := Reconstruct("answer", map[string]any{"title": "only"})
	require.Len(t, reasoning, 1)
	assert.Equal(t, "only", reasoning[0].Title)
}

func TestSynthesizePrefersTitledTopLevelConclusions(t *testing.T) {
	plain := strings.Repeat("p", 150)
	titled := strings.Repeat("t", 120)
	nested := strings.Repeat("n", 160)
	reasoning := []ReasoningNode{
		{Title: "Research step", Conclusion: plain},
		{Title: "Final Summary", Conclusion: titled, Subtasks: []ReasoningNode{{Conclusion: nested}}},
	}
	// Scores: plain 225, titled 540, nested 160. The best is too short to
	// return directly, so the longest substantial conclusion wins.
	assert.Equal(t, nested, synthesizeAnswer(reasoning))

	long := strings.Repeat("L", 210)
	reasoning = []ReasoningNode{
		{Conclusion: strings.Repeat("a", 250), Subtasks: []ReasoningNode{{Title: "final report", Conclusion: strings.Repeat("b", 240)}}},
		{Title: "summary", Conclusion: long},
	}
	assert.Equal(t, long, synthesizeAnswer(reasoning))
}

func TestSynthesizeJoinsShortConclusions(t *testing.T) {
	var reasoning []ReasoningNode
	for i := 0; i < 7; i++ {
		reasoning = append(reasoning, ReasoningNode{Conclusion: strings.Repeat(string(rune('a'+i)), 30)})
	}
	reasoning = append(reasoning, ReasoningNode{Conclusion: "too short"})

	got := synthesizeAnswer(reasoning)
	parts := strings.Split(got, "\n\n")
	require.Len(t, parts, 5)
	assert.Equal(t, strings.Repeat("a", 30), parts[0])
	assert.Equal(t, strings.Repeat("e", 30), parts[4])
}

func TestSynthesizeWithoutConclusions(t *testing.T) {
	assert.Equal(t, FallbackNoSummary, synthesizeAnswer([]ReasoningNode{{Title: "x", Conclusion: "tiny"}}))
}

func TestReconstructNeverEmptyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("malformed or truncated JSON answers yield text", prop.ForAll(
		func(body string, cut int) bool {
			doc := `{"summary":"` + body + `","reasoning":[{"conclusion":"` + body + `"}]}`
			if cut < len(doc) {
				doc = doc[:cut]
			}
			answer, _ := Reconstruct(doc, nil)
			return answer != ""
		},
		gen.AnyString(),
		gen.IntRange(1, 4000),
	))

	properties.Property("arbitrary strings yield text", prop.ForAll(
		func(raw string) bool {
			answer, _ := Reconstruct(raw, nil)
			return answer != ""
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestSynthesisDrawsOnlyFromTreeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("synthesized answer is a conclusion, a join of conclusions, or the fallback", prop.ForAll(
		func(conclusions []string) bool {
			var nodes []ReasoningNode
			for i, c := range conclusions {
				node := ReasoningNode{Conclusion: c}
				if i%2 == 1 && len(nodes) > 0 {
					nodes[len(nodes)-1].Subtasks = append(nodes[len(nodes)-1].Subtasks, node)
					continue
				}
				nodes = append(nodes, node)
			}
			got := synthesizeAnswer(nodes)
			if got == FallbackNoSummary {
				return true
			}
			for _, part := range strings.Split(got, "\n\n") {
				found := false
				for _, c := range conclusions {
					if strings.Contains(c, part) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
