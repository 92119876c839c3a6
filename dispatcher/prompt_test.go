package dispatcher

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/warpsurf/agentcore/plan"
)

func TestElideShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "hello", elide("hello", 100))
}

func TestElideBreaksOnWordBoundary(t *testing.T) {
	out := elide("the quick brown fox jumps over the lazy dog", 12)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.LessOrEqual(t, len(out), 13)
	assert.NotContains(t, out, "foxjum", "must not split a word mid-rune")
}

func TestElideHardCutsWhenNoWordFits(t *testing.T) {
	out := elide("supercalifragilisticexpialidocious", 5)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.LessOrEqual(t, utf8.RuneCountInString(out), 6)
}

func TestBuildPromptIncludesTitleAndSuggestions(t *testing.T) {
	subtask := plan.Subtask{ID: 1, Title: "search", Prompt: "find it", SuggestedURLs: []string{"https://example.com"}}
	text, tabs := buildPrompt(1, subtask, nil, nil, nil, 600)
	assert.Contains(t, text, "search")
	assert.Contains(t, text, "find it")
	assert.Contains(t, text, "https://example.com")
	assert.Empty(t, tabs)
}

func TestBuildPromptInlinesPriorOutputAndTabs(t *testing.T) {
	byID := map[plan.SubtaskID]plan.Subtask{1: {ID: 1, Title: "step one"}}
	outputs := map[plan.SubtaskID]plan.SubtaskOutput{1: {Result: "found X", TabIDs: []int{7, 8}}}
	subtask := plan.Subtask{ID: 2, Title: "step two", Prompt: "use it", Dependencies: []plan.SubtaskID{1}}

	text, tabs := buildPrompt(2, subtask, []plan.SubtaskID{1}, byID, outputs, 600)
	assert.Contains(t, text, "step one")
	assert.Contains(t, text, "found X")
	assert.Equal(t, []int{7, 8}, tabs)
}

func TestBuildPromptPrefersRawJSONOverResultText(t *testing.T) {
	byID := map[plan.SubtaskID]plan.Subtask{1: {ID: 1, Title: "step one"}}
	outputs := map[plan.SubtaskID]plan.SubtaskOutput{1: {Result: "ignored text", Raw: map[string]any{"k": "v"}}}
	subtask := plan.Subtask{ID: 2, Title: "step two", Dependencies: []plan.SubtaskID{1}}

	text, _ := buildPrompt(2, subtask, []plan.SubtaskID{1}, byID, outputs, 600)
	assert.Contains(t, text, `"k":"v"`)
	assert.NotContains(t, text, "ignored text")
}

func TestParseOutputJSONAcceptsArrayAndObject(t *testing.T) {
	assert.Equal(t, []any{float64(1), float64(2)}, parseOutputJSON("[1,2]"))
	v := parseOutputJSON(`{"a":1}`)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestParseOutputJSONAcceptsFencedBlock(t *testing.T) {
	v := parseOutputJSON("```json\n{\"a\":1}\n```")
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestParseOutputJSONRejectsPlainText(t *testing.T) {
	assert.Nil(t, parseOutputJSON("just some text"))
}

func TestExtractFinalTextPrefersDoneText(t *testing.T) {
	out := plan.SubtaskOutput{
		Result: "fallback",
		Raw:    map[string]any{"done": map[string]any{"text": "done answer"}, "text": "other"},
	}
	assert.Equal(t, "done answer", extractFinalText(out))
}

func TestExtractFinalTextFallsBackToTopLevelText(t *testing.T) {
	out := plan.SubtaskOutput{Result: "fallback", Raw: map[string]any{"text": "top-level"}}
	assert.Equal(t, "top-level", extractFinalText(out))
}

func TestExtractFinalTextFallsBackToResult(t *testing.T) {
	out := plan.SubtaskOutput{Result: "plain result"}
	assert.Equal(t, "plain result", extractFinalText(out))
}
