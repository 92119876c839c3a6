package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"

	"github.com/warpsurf/agentcore/plan"
)

// elide truncates s to at most n runes on a word boundary, using a
// Unicode-aware segmenter rather than a byte cut so multi-byte runes and
// contractions never get split mid-word.
func elide(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	count := 0
	seg := words.FromString(s)
	for seg.Next() {
		w := seg.Value()
		wl := utf8.RuneCountInString(w)
		if count+wl > n {
			break
		}
		b.WriteString(w)
		count += wl
	}
	out := b.String()
	if out == "" {
		// No single word fits; fall back to a hard cut so callers always
		// get a bounded result.
		r := []rune(s)
		if n > len(r) {
			n = len(r)
		}
		return string(r[:n]) + "…"
	}
	return out + "…"
}

// buildPrompt implements spec.md §4.5 step 2: header, inlined suggestions,
// then a prior-outputs section for every direct predecessor of t. It also
// returns the union of tab ids inherited from completed predecessors.
func buildPrompt(t plan.SubtaskID, subtask plan.Subtask, deps []plan.SubtaskID, byID map[plan.SubtaskID]plan.Subtask, outputs map[plan.SubtaskID]plan.SubtaskOutput, maxPriorChars int) (prompt string, depTabIDs []int) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your task is to %s. Specifically, you must: %s", subtask.Title, subtask.Prompt)

	if len(subtask.SuggestedURLs) > 0 {
		b.WriteString("\n\nSuggested URLs:\n")
		for _, u := range subtask.SuggestedURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	} else if len(subtask.SuggestedSearchQueries) > 0 {
		b.WriteString("\n\nSuggested search queries:\n")
		for _, q := range subtask.SuggestedSearchQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	tabSeen := map[int]bool{}
	for _, d := range deps {
		out, ok := outputs[d]
		if !ok {
			continue
		}
		depTitle := byID[d].Title
		b.WriteString("\n\nHere is the output from a previous task entitled \"")
		b.WriteString(depTitle)
		b.WriteString("\": ")
		if out.Raw != nil {
			if raw, err := json.Marshal(out.Raw); err == nil {
				b.Write(raw)
			} else {
				b.WriteString(elide(out.Result, maxPriorChars))
			}
		} else {
			b.WriteString(elide(out.Result, maxPriorChars))
		}
		if len(out.TabIDs) > 0 {
			b.WriteString(" — this task was carried out in tabs: ")
			for i, id := range out.TabIDs {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%d", id)
				if !tabSeen[id] {
					tabSeen[id] = true
					depTabIDs = append(depTabIDs, id)
				}
			}
		}
	}

	return b.String(), depTabIDs
}

// parseOutputJSON implements spec.md §4.5 step 4: parse outputText as JSON
// if it begins/ends with the array/object delimiters, optionally inside a
// ```json fence.
func parseOutputJSON(outputText string) any {
	text := strings.TrimSpace(outputText)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return nil
	}
	first, last := text[0], text[len(text)-1]
	looksJSON := (first == '[' && last == ']') || (first == '{' && last == '}')
	if !looksJSON {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	return v
}

// extractFinalText implements spec.md §4.5 step 5's preference order:
// outputs[t].raw.done.text, then outputs[t].raw.text, then outputs[t].result.
func extractFinalText(out plan.SubtaskOutput) string {
	if m, ok := out.Raw.(map[string]any); ok {
		if done, ok := m["done"].(map[string]any); ok {
			if text, ok := done["text"].(string); ok && text != "" {
				return text
			}
		}
		if text, ok := m["text"].(string); ok && text != "" {
			return text
		}
	}
	return out.Result
}
