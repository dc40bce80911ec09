package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/oakd/internal/models"
)

// batchSummary is the set of computed inputs that feed both the
// classification call and the extraction prompt: tool names, touched files,
// errors, and duration, derived from a batch's activities.
type batchSummary struct {
	ToolNames     []string
	FilesRead     []string
	FilesModified []string
	FilesCreated  []string
	Errors        []string
	Duration      time.Duration
}

// writeTools classify a tool_name as a write for the files_read/modified
// split; a tool absent from this set with a non-empty file_path is treated
// as a read.
var writeTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"NotebookEdit": true,
}

// creatingTools are writes that only ever target a path that didn't already
// exist (Edit and NotebookEdit require existing content, so they're always
// modifications); a "Write" to a path this batch hasn't touched yet is
// counted as a creation rather than a modification.
var creatingTools = map[string]bool{
	"Write": true,
}

// taskCreationTools are the tool names whose presence in a batch signals an
// in-session plan (a todo list, a sub-task dispatch) even when no plan file
// was ever written to disk.
var taskCreationTools = map[string]bool{
	"TodoWrite": true,
	"Task":      true,
}

func buildBatchSummary(activities []*models.Activity) batchSummary {
	s := batchSummary{}
	seenTool := map[string]bool{}
	seenRead := map[string]bool{}
	seenMod := map[string]bool{}
	seenCreated := map[string]bool{}
	touched := map[string]bool{}

	var first, last time.Time
	for _, a := range activities {
		if !seenTool[a.ToolName] {
			seenTool[a.ToolName] = true
			s.ToolNames = append(s.ToolNames, a.ToolName)
		}
		if a.FilePath != "" {
			switch {
			case writeTools[a.ToolName] && creatingTools[a.ToolName] && !touched[a.FilePath]:
				if !seenCreated[a.FilePath] {
					seenCreated[a.FilePath] = true
					s.FilesCreated = append(s.FilesCreated, a.FilePath)
				}
			case writeTools[a.ToolName]:
				if !seenMod[a.FilePath] {
					seenMod[a.FilePath] = true
					s.FilesModified = append(s.FilesModified, a.FilePath)
				}
			case !seenRead[a.FilePath]:
				seenRead[a.FilePath] = true
				s.FilesRead = append(s.FilesRead, a.FilePath)
			}
			touched[a.FilePath] = true
		}
		if !a.Success && a.ErrorMessage != "" {
			s.Errors = append(s.Errors, a.ErrorMessage)
		}
		if first.IsZero() || a.Timestamp.Before(first) {
			first = a.Timestamp
		}
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}
	if !first.IsZero() && !last.IsZero() {
		s.Duration = last.Sub(first)
	}
	return s
}

// hasTaskCreationActivity reports whether any activity used a tool that
// signals an in-session plan was created.
func hasTaskCreationActivity(activities []*models.Activity) bool {
	for _, a := range activities {
		if taskCreationTools[a.ToolName] {
			return true
		}
	}
	return false
}

const truncationMarker = "... (prompt truncated for context budget)"

// truncate bounds s to maxChars, appending truncationMarker when it had to
// cut. A non-positive maxChars disables truncation entirely.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	cut := maxChars - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationMarker
}

// extractionBudget bounds the prompt rendered for a single extraction call.
type extractionBudget struct {
	MaxActivities      int
	MaxUserPromptChars int
	MaxContextChars    int
	MinOutputTokens    int
	ContextTokens      int
}

// maxOutputTokens implements "max output tokens >= floor, else
// context_tokens / 4".
func (b extractionBudget) maxOutputTokens() int {
	derived := b.ContextTokens / 4
	if derived >= b.MinOutputTokens {
		return derived
	}
	return b.MinOutputTokens
}

func renderActivityLines(activities []*models.Activity, limit int) string {
	if limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}
	var b strings.Builder
	for _, a := range activities {
		fmt.Fprintf(&b, "- %s", a.ToolName)
		if a.FilePath != "" {
			fmt.Fprintf(&b, " %s", a.FilePath)
		}
		if !a.Success {
			fmt.Fprintf(&b, " [FAILED: %s]", a.ErrorMessage)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderExtractionPrompt assembles the full user-turn prompt for the
// extraction call: the (possibly truncated) original user prompt, the batch
// summary, and the activity list, all bounded by budget.
func renderExtractionPrompt(userPrompt string, summary batchSummary, activities []*models.Activity, planContent string, budget extractionBudget) string {
	var b strings.Builder
	b.WriteString("User request:\n")
	b.WriteString(truncate(userPrompt, budget.MaxUserPromptChars))
	b.WriteString("\n\n")

	if planContent != "" {
		b.WriteString("Plan:\n")
		b.WriteString(truncate(planContent, budget.MaxContextChars))
		b.WriteString("\n\n")
	}

	b.WriteString("Tools used: ")
	b.WriteString(strings.Join(summary.ToolNames, ", "))
	b.WriteString("\nFiles read: ")
	b.WriteString(strings.Join(summary.FilesRead, ", "))
	b.WriteString("\nFiles modified: ")
	b.WriteString(strings.Join(summary.FilesModified, ", "))
	b.WriteString("\nFiles created: ")
	b.WriteString(strings.Join(summary.FilesCreated, ", "))
	if len(summary.Errors) > 0 {
		b.WriteString("\nErrors: ")
		b.WriteString(strings.Join(summary.Errors, "; "))
	}
	b.WriteString("\n\nActivities:\n")
	b.WriteString(truncate(renderActivityLines(activities, budget.MaxActivities), budget.MaxContextChars))

	return b.String()
}
