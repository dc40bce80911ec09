package retrieval

// FullItem is one Layer 3 item: complete content, no truncation.
type FullItem struct {
	ID       string
	Kind     string
	Content  string
	Metadata map[string]string
}

// FetchFullResult is the Layer 3 response.
type FetchFullResult struct {
	Items       []FullItem
	TotalTokens int
}

// FetchFull is Layer 3: fetch_full(ids[]). Searches both collections per
// id, same as GetContext, and skips unknown ids rather than erroring.
func (e *Engine) FetchFull(ids []string) FetchFullResult {
	var result FetchFullResult
	for _, id := range ids {
		r, collection, ok := e.lookup(id)
		if !ok {
			continue
		}
		result.Items = append(result.Items, FullItem{
			ID:       r.ID,
			Kind:     kindOf(collection),
			Content:  r.Content,
			Metadata: r.Metadata,
		})
		result.TotalTokens += estimateTokens(r.Content)
	}
	return result
}
