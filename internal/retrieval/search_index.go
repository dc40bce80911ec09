package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/oakd/internal/vector"
)

// IndexItem is one Layer 1 summary -- never the full content, just enough
// for an agent to decide whether to ask for more.
type IndexItem struct {
	ID            string
	Kind          string
	Name          string
	TokenEstimate int
	Relevance     float64
}

// SearchIndexResult is the Layer 1 response.
type SearchIndexResult struct {
	Items                []IndexItem
	TotalTokensAvailable int
}

const shortNameChars = 80

func codeName(r vector.SearchResult) string {
	start, end := r.Metadata["start_line"], r.Metadata["end_line"]
	if start == "" && end == "" {
		return r.Metadata["file_path"]
	}
	return fmt.Sprintf("%s:%s-%s", r.Metadata["file_path"], start, end)
}

func memoryName(r vector.SearchResult) string {
	return preview(strings.TrimSpace(r.Content), shortNameChars)
}

func toIndexItem(r vector.SearchResult, kind string) IndexItem {
	name := codeName(r)
	if kind == KindMemory {
		name = memoryName(r)
	}
	return IndexItem{
		ID:            r.ID,
		Kind:          kind,
		Name:          name,
		TokenEstimate: estimateTokens(r.Content),
		Relevance:     round2(r.Relevance),
	}
}

// SearchIndex is Layer 1: search_index(query, type, limit). itemType
// "code" or "memory" restricts results to that kind; "" or "both" searches
// both and returns up to limit of each; any other value matches nothing.
func (e *Engine) SearchIndex(ctx context.Context, query, itemType string, limit int) (SearchIndexResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var items []IndexItem
	total := 0

	addCode := itemType == "" || itemType == KindCode || itemType == "both"
	addMemory := itemType == "" || itemType == KindMemory || itemType == "both"

	if addCode {
		code, err := e.vs.SearchCode(ctx, query, limit)
		if err != nil {
			return SearchIndexResult{}, err
		}
		for _, r := range code {
			items = append(items, toIndexItem(r, KindCode))
			total += estimateTokens(r.Content)
		}
	}
	if addMemory {
		memory, err := e.vs.SearchMemory(ctx, query, limit, nil, nil)
		if err != nil {
			return SearchIndexResult{}, err
		}
		for _, r := range memory {
			items = append(items, toIndexItem(r, KindMemory))
			total += estimateTokens(r.Content)
		}
	}

	return SearchIndexResult{Items: items, TotalTokensAvailable: total}, nil
}
