package processor

import "regexp"

// reasoningPatterns strips chain-of-thought wrapper tokens emitted by
// reasoning models before the response is handed to the JSON parser. The
// list is ordered and append-only: new wrapper formats get a new entry
// rather than a rewrite of an existing one, so a pattern that used to match
// real output never silently stops matching.
var reasoningPatterns = []*regexp.Regexp{
	// Explicit <think>...</think> blocks.
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	// A model that opens a thinking block without ever emitting the opening
	// tag (truncated at the stream boundary) -- strip everything up to and
	// including the first standalone closing tag.
	regexp.MustCompile(`(?is)^.*?</think>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
	regexp.MustCompile(`(?is)<\|thinking\|>.*?<\|/thinking\|>`),
}

// stripReasoning removes chain-of-thought wrapper content from text. If
// applying every pattern would leave nothing but whitespace, the original
// text is returned unchanged instead -- a model that reasoned inside its
// only content (e.g. it never gets to the actual answer) should still be
// passed through to the JSON parser as a best effort rather than discarded.
func stripReasoning(text string) string {
	stripped := text
	for _, p := range reasoningPatterns {
		stripped = p.ReplaceAllString(stripped, "")
	}
	if isBlank(stripped) {
		return text
	}
	return stripped
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
