package retrieval

import (
	"context"

	"github.com/dotcommander/oakd/internal/vector"
)

// ContextItem is one Layer 2 item: bounded preview plus full metadata,
// from either the explicitly requested set or the "related" expansion.
type ContextItem struct {
	ID        string
	Kind      string
	Preview   string
	Metadata  map[string]string
	Relevance float64
}

// GetContextResult is the Layer 2 response.
type GetContextResult struct {
	Items   []ContextItem
	Related []ContextItem
}

const relatedLimit = 5

// lookup finds id in oak_code first, then oak_memory -- ids are unique
// across both in practice (uuid for memory, content-hash for code) but
// trying code first costs nothing and keeps the fetch order deterministic.
func (e *Engine) lookup(id string) (vector.SearchResult, string, bool) {
	if r, ok := e.vs.GetByID(vector.CollectionCode, id); ok {
		return r, vector.CollectionCode, true
	}
	if r, ok := e.vs.GetByID(vector.CollectionMemory, id); ok {
		return r, vector.CollectionMemory, true
	}
	return vector.SearchResult{}, "", false
}

// GetContext is Layer 2: get_context(chunk_ids[]). Unknown ids are skipped
// rather than erroring, since a caller may pass a stale id from a Layer 1
// result that was archived or deleted between calls.
func (e *Engine) GetContext(ctx context.Context, chunkIDs []string) (GetContextResult, error) {
	var result GetContextResult
	var firstCollection string
	var firstContent string

	for _, id := range chunkIDs {
		r, collection, ok := e.lookup(id)
		if !ok {
			continue
		}
		if firstCollection == "" {
			firstCollection = collection
			firstContent = r.Content
		}
		result.Items = append(result.Items, ContextItem{
			ID:       r.ID,
			Kind:     kindOf(collection),
			Preview:  preview(r.Content, e.previewChars),
			Metadata: r.Metadata,
		})
	}

	if firstCollection == "" {
		return result, nil
	}

	related, err := e.vs.QueryByContent(ctx, firstCollection, firstContent, relatedLimit, chunkIDs)
	if err != nil {
		return result, err
	}
	for _, r := range related {
		result.Related = append(result.Related, ContextItem{
			ID:        r.ID,
			Kind:      kindOf(firstCollection),
			Preview:   preview(r.Content, e.previewChars),
			Metadata:  r.Metadata,
			Relevance: round2(r.Relevance),
		})
	}
	return result, nil
}
