// Package retrieval implements the three-layer progressive-disclosure
// interface an AI agent uses to pull context out of the vector store:
// compact summaries first (search_index), then selected-plus-related
// context (get_context), then full content (fetch_full) -- plus a curated
// get_task_context shortcut that blends code and memory under one token
// budget. None of it owns data; everything is a read-shaped view over
// internal/vector.Store.
package retrieval

import (
	"github.com/dotcommander/oakd/internal/vector"
)

// Kind distinguishes which VS collection an item came from.
const (
	KindCode   = "code"
	KindMemory = "memory"
)

// Engine is the Retrieval Engine. One instance is shared by the HTTP/MCP
// tool-call surface.
type Engine struct {
	vs                 *vector.Store
	relevanceThreshold float64
	previewChars       int
}

// defaultPreviewChars matches the spec's "e.g. 200 chars" example for
// Layer 2's bounded preview.
const defaultPreviewChars = 200

// New constructs an Engine. A non-positive previewChars falls back to the
// spec's suggested default rather than returning empty previews.
func New(vs *vector.Store, relevanceThreshold float64, previewChars int) *Engine {
	if previewChars <= 0 {
		previewChars = defaultPreviewChars
	}
	return &Engine{vs: vs, relevanceThreshold: relevanceThreshold, previewChars: previewChars}
}

// estimateTokens is a rough chars/4 heuristic -- there is no tokenizer
// dependency anywhere in the pack.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func preview(content string, maxChars int) string {
	r := []rune(content)
	if len(r) <= maxChars {
		return content
	}
	return string(r[:maxChars])
}

func kindOf(collection string) string {
	if collection == vector.CollectionCode {
		return KindCode
	}
	return KindMemory
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

