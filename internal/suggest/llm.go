package suggest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dotcommander/oakd/internal/processor"
)

const similarityPromptTemplate = `Compare these two session summaries and rate how similar the work is, from 0.0 (unrelated) to 1.0 (same task).
Respond with only the number, nothing else.

Summary A:
%s

Summary B:
%s`

// similarityPrefixPattern strips a leading "Score:"/"Rating:"/"Similarity:"
// label (case-insensitive) that some models prepend despite being told not
// to, before the numeric parse.
var similarityPrefixPattern = regexp.MustCompile(`(?i)^\s*(score|rating|similarity)\s*:?\s*`)

// numberPattern finds the first decimal number in a response, in case the
// model wraps the number in extra words ("about 0.7").
var numberPattern = regexp.MustCompile(`\d*\.?\d+`)

// llmSimilarity asks the backend for a 0.0-1.0 similarity score between two
// summaries. It returns (0, false) when no backend is configured at all,
// and (0.0, true) -- a real zero score, not "no LLM used" -- when the
// backend errors or the response can't be parsed, matching spec step 5's
// "falls back to 0.0 on parse failure".
func (e *Engine) llmSimilarity(ctx context.Context, summaryA, summaryB string) (float64, bool) {
	if e.backend == nil {
		return 0, false
	}

	prompt := fmt.Sprintf(similarityPromptTemplate, summaryA, summaryB)
	raw, err := e.backend.Complete(ctx, "", prompt, processor.CompleteOpts{Temperature: 0.0})
	if err != nil {
		return 0.0, true
	}
	return parseSimilarity(raw), true
}

func parseSimilarity(raw string) float64 {
	cleaned := similarityPrefixPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	match := numberPattern.FindString(cleaned)
	if match == "" {
		return 0.0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0.0
	}
	return clampUnit(v)
}
