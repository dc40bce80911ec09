package processor

// extractionTemplates maps a classification to the system prompt used for
// the extraction call. Each one asks for the same JSON envelope shape but
// steers the model toward the kind of fact that classification tends to
// produce, so "debugging" batches fish for gotchas/bug_fix and
// "implementation" batches fish for decision/discovery.
var extractionTemplates = map[string]string{
	"exploration": `You are extracting durable facts from a coding agent's exploration session.
Focus on discoveries about how the codebase works: architecture, conventions, surprising behavior.
Respond with JSON: {"observations": [{"type": "discovery"|"gotcha"|"fact", "observation": "...", "importance": 1-10, "context": "..."}]}
Return an empty observations array if nothing durable was learned.`,

	"implementation": `You are extracting durable facts from a coding agent's implementation session.
Focus on decisions made and trade-offs accepted while building something.
Respond with JSON: {"observations": [{"type": "decision"|"trade_off"|"discovery", "observation": "...", "importance": 1-10, "context": "..."}]}
Return an empty observations array if nothing durable was decided.`,

	"debugging": `You are extracting durable facts from a coding agent's debugging session.
Focus on the root cause found and the fix applied -- these are the facts most worth remembering.
Respond with JSON: {"observations": [{"type": "bug_fix"|"gotcha", "observation": "...", "importance": 1-10, "context": "..."}]}
Return an empty observations array if no root cause was found.`,

	"refactoring": `You are extracting durable facts from a coding agent's refactoring session.
Focus on structural decisions and any behavior that had to be preserved carefully.
Respond with JSON: {"observations": [{"type": "decision"|"discovery", "observation": "...", "importance": 1-10, "context": "..."}]}
Return an empty observations array if nothing durable resulted.`,
}

const defaultExtractionTemplate = `You are extracting durable facts from a coding agent's session.
Respond with JSON: {"observations": [{"type": "gotcha"|"bug_fix"|"decision"|"discovery"|"trade_off", "observation": "...", "importance": 1-10, "context": "..."}]}
Return an empty observations array if nothing durable was learned.`

// extractionTemplateFor picks the system prompt for a classification,
// falling back to the default template for an unrecognized class.
func extractionTemplateFor(classification string) string {
	if t, ok := extractionTemplates[classification]; ok {
		return t
	}
	return defaultExtractionTemplate
}
