package research

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
)

// Fallback answers used when a run produced nothing readable.
const (
	FallbackNoSummary = "Research completed but no summary available."
	FallbackNoResults = "Research completed but no results available."
)

const (
	answerFieldMinLen     = 50
	salvageMinInputLen    = 500
	salvageMinLen         = 100
	blobMinLen            = 1000
	blobReplacementMinLen = 100
	conclusionMinLen      = 20
	bestConclusionMinLen  = 200
	substantialConclusion = 100
	maxJoinedConclusions  = 5
	titleWeight           = 3.0
	topLevelWeight        = 1.5
)

var answerKeys = []string{"final_answer", "answer", "response", "result", "content", "conclusion", "summary", "output"}

var salvageFields = []string{"conclusion", "final_answer", "answer", "summary", "content", "response"}

var salvagePatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(salvageFields))
	for _, f := range salvageFields {
		out = append(out, regexp.MustCompile(`"`+f+`"\s*:\s*"((?:[^"\\]|\\.)*)"`))
	}
	return out
}()

var preferredTitleMarkers = []string{"final", "summary", "synthesis", "conclusion", "report"}

var unescaper = strings.NewReplacer(`\"`, `"`, `\n`, "\n", `\t`, "\t")

// Reconstruct turns a completed run's raw answer and reasoning into readable
// answer text and a normalized reasoning tree. It never fails and the answer
// is never empty.
func Reconstruct(rawAnswer, rawReasoning any) (string, []ReasoningNode) {
	var (
		answer     string
		haveAnswer bool
		objectText string
	)

	switch a := rawAnswer.(type) {
	case nil:
	case string:
		answer, haveAnswer = a, true
		if strings.HasPrefix(strings.TrimSpace(a), "{") {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(a), &parsed); err == nil {
				answer, haveAnswer, rawReasoning = answerFromObject(parsed, rawReasoning)
			} else if runeLen(a) > salvageMinInputLen {
				if salvaged, ok := salvage(a); ok {
					answer = salvaged
				}
			}
		}
	case map[string]any:
		answer, haveAnswer, rawReasoning = answerFromObject(a, rawReasoning)
		objectText = textOf(a)
	default:
		answer, haveAnswer = textOf(a), true
	}

	reasoning := normalizeReasoning(rawReasoning)

	needsSynthesis := !haveAnswer || strings.TrimSpace(answer) == ""
	if haveAnswer && strings.HasPrefix(strings.TrimSpace(answer), "{") && runeLen(answer) > blobMinLen {
		needsSynthesis = false
		if len(reasoning) > 0 {
			if synthesized := synthesizeAnswer(reasoning); runeLen(synthesized) > blobReplacementMinLen {
				answer = synthesized
			}
		}
	}

	if needsSynthesis {
		switch {
		case len(reasoning) > 0:
			answer = synthesizeAnswer(reasoning)
		case objectText != "":
			answer = objectText
		default:
			answer = FallbackNoResults
		}
	}
	return answer, reasoning
}

// answerFromObject looks for an answer field in a decoded JSON answer. An
// embedded reasoning list supersedes the run's reasoning.
func answerFromObject(parsed map[string]any, rawReasoning any) (string, bool, any) {
	if embedded, ok := parsed["reasoning"].([]any); ok {
		rawReasoning = embedded
	}
	for _, key := range answerKeys {
		if s, ok := parsed[key].(string); ok && runeLen(s) > answerFieldMinLen {
			return s, true, rawReasoning
		}
	}
	return "", false, rawReasoning
}

// salvage extracts the longest readable field value from malformed JSON.
func salvage(text string) (string, bool) {
	var candidates []string
	for _, re := range salvagePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			candidates = append(candidates, unescaper.Replace(m[1]))
		}
	}
	candidates = append(candidates, repairedCandidates(text)...)

	best := ""
	for _, c := range candidates {
		if runeLen(c) > runeLen(best) {
			best = c
		}
	}
	if runeLen(best) < salvageMinLen {
		return "", false
	}
	return best, true
}

// repairedCandidates closes truncated JSON and collects the same fields from
// the repaired document, which recovers a final value cut off mid-string.
func repairedCandidates(text string) (out []string) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil
	}
	for _, f := range salvageFields {
		if s, ok := parsed[f].(string); ok {
			out = append(out, s)
		}
	}
	if embedded, ok := parsed["reasoning"].([]any); ok {
		walkReasoning(normalizeReasoning(embedded), 0, func(n ReasoningNode, _ int) {
			if n.Conclusion != "" {
				out = append(out, n.Conclusion)
			}
		})
	}
	return out
}

// synthesizeAnswer builds an answer from the conclusions in the tree.
func synthesizeAnswer(reasoning []ReasoningNode) string {
	var conclusions []string
	best, bestScore := "", 0.0
	walkReasoning(reasoning, 0, func(n ReasoningNode, depth int) {
		if runeLen(strings.TrimSpace(n.Conclusion)) > conclusionMinLen {
			conclusions = append(conclusions, n.Conclusion)
		}
		if score := scoreConclusion(n, depth); score > bestScore {
			best, bestScore = n.Conclusion, score
		}
	})

	if len(conclusions) == 0 {
		return FallbackNoSummary
	}
	if runeLen(strings.TrimSpace(best)) > bestConclusionMinLen {
		return best
	}

	longest := ""
	for _, c := range conclusions {
		if runeLen(c) > substantialConclusion && runeLen(c) > runeLen(longest) {
			longest = c
		}
	}
	if longest != "" {
		return longest
	}

	if len(conclusions) > maxJoinedConclusions {
		conclusions = conclusions[:maxJoinedConclusions]
	}
	return strings.Join(conclusions, "\n\n")
}

func scoreConclusion(n ReasoningNode, depth int) float64 {
	if n.Conclusion == "" {
		return 0
	}
	score := float64(runeLen(n.Conclusion))
	title := strings.ToLower(n.Title)
	for _, marker := range preferredTitleMarkers {
		if strings.Contains(title, marker) {
			score *= titleWeight
			break
		}
	}
	if depth == 0 {
		score *= topLevelWeight
	}
	return score
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
