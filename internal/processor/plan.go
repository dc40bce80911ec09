package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/oakd/internal/models"
)

const planSynthesisSystemPrompt = `You are summarizing a coding agent's task list and sub-task dispatches into a short plan document.
Write 3-8 bullet points describing what was planned, in the order the tasks were created.
Respond with plain text only, no JSON, no preamble.`

// synthesizePlan derives a plan document from a batch's task-creation
// activities (TodoWrite, Task) when the agent never wrote an explicit plan
// file to disk. The result is persisted into prompt_batches.plan_content by
// the caller so this only ever runs once per batch.
func synthesizePlan(ctx context.Context, backend Backend, activities []*models.Activity) (string, error) {
	var b strings.Builder
	for _, a := range activities {
		if !taskCreationTools[a.ToolName] {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s\n", a.ToolName, truncate(a.ToolInput, 500))
	}
	if b.Len() == 0 {
		return "", nil
	}

	return backend.Complete(ctx, planSynthesisSystemPrompt, b.String(), CompleteOpts{Temperature: 0.3})
}
