package processor

import (
	"context"
	"strings"
)

// classifications is the closed set of classes the batch processor will
// accept from the classification call, in preference order for the default
// fallback (exploration is always first and always safe).
var classifications = []string{"exploration", "implementation", "debugging", "refactoring"}

const defaultClassification = "exploration"

const classificationSystemPrompt = `You classify a coding agent's work session into exactly one category.
Respond with a single word: exploration, implementation, debugging, or refactoring.
No punctuation, no explanation, just the word.`

// classify asks the backend to categorize a batch's activity summary. It
// never returns an error: any failure (backend error, an answer outside the
// known set) degrades to the safe default class rather than blocking
// extraction on a classification hiccup.
func classify(ctx context.Context, backend Backend, summary batchSummary) string {
	prompt := classificationUserPrompt(summary)
	raw, err := backend.Complete(ctx, classificationSystemPrompt, prompt, CompleteOpts{Temperature: 0.3})
	if err != nil {
		return defaultClassification
	}
	return matchClassification(raw)
}

func classificationUserPrompt(s batchSummary) string {
	var b strings.Builder
	b.WriteString("Tools used: ")
	b.WriteString(strings.Join(s.ToolNames, ", "))
	b.WriteString("\nFiles read: ")
	b.WriteString(strings.Join(s.FilesRead, ", "))
	b.WriteString("\nFiles modified: ")
	b.WriteString(strings.Join(s.FilesModified, ", "))
	b.WriteString("\nFiles created: ")
	b.WriteString(strings.Join(s.FilesCreated, ", "))
	if len(s.Errors) > 0 {
		b.WriteString("\nErrors encountered: ")
		b.WriteString(strings.Join(s.Errors, "; "))
	}
	return b.String()
}

func matchClassification(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range classifications {
		if strings.Contains(cleaned, c) {
			return c
		}
	}
	return defaultClassification
}
