package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/dotcommander/oakd/internal/vector"
)

// TaskContextItem is one item selected into a curated task context.
type TaskContextItem struct {
	ID            string
	Kind          string
	Content       string
	Relevance     float64
	TokenEstimate int
}

// TaskContextResult is the get_task_context response.
type TaskContextResult struct {
	CodeItems   []TaskContextItem
	MemoryItems []TaskContextItem
	TotalTokens int
}

// codeBudgetPct is the code share of the fixed 70/30 split between code and
// memory results; memory gets the remaining 30%.
const (
	codeBudgetPct     = 70
	candidatePoolSize = 30
)

// GetTaskContext curates a task-scoped context: 70% of maxTokens to code,
// 30% to memory, greedily filling each budget with the highest-relevance
// items at or above the configured relevance threshold.
func (e *Engine) GetTaskContext(ctx context.Context, task string, currentFiles []string, maxTokens int) (TaskContextResult, error) {
	codeBudget := maxTokens * codeBudgetPct / 100
	memoryBudget := maxTokens - codeBudget

	codeQuery := task
	if len(currentFiles) > 0 {
		codeQuery = task + "\n\n" + strings.Join(currentFiles, "\n")
	}

	codeCandidates, err := e.vs.SearchCode(ctx, codeQuery, candidatePoolSize)
	if err != nil {
		return TaskContextResult{}, err
	}
	memoryCandidates, err := e.vs.SearchMemory(ctx, task, candidatePoolSize, nil, nil)
	if err != nil {
		return TaskContextResult{}, err
	}

	var result TaskContextResult
	result.CodeItems, _ = e.fillBudget(codeCandidates, KindCode, codeBudget)
	result.MemoryItems, _ = e.fillBudget(memoryCandidates, KindMemory, memoryBudget)

	for _, it := range result.CodeItems {
		result.TotalTokens += it.TokenEstimate
	}
	for _, it := range result.MemoryItems {
		result.TotalTokens += it.TokenEstimate
	}
	return result, nil
}

// fillBudget sorts candidates by relevance descending, drops anything below
// the configured threshold, and greedily adds items in that order, skipping
// any item that would exceed the remaining budget and trying the next.
func (e *Engine) fillBudget(candidates []vector.SearchResult, kind string, budget int) ([]TaskContextItem, int) {
	filtered := make([]vector.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Relevance >= e.relevanceThreshold {
			filtered = append(filtered, c)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Relevance > filtered[j].Relevance })

	var items []TaskContextItem
	used := 0
	for _, c := range filtered {
		tokens := estimateTokens(c.Content)
		if used+tokens > budget {
			continue
		}
		items = append(items, TaskContextItem{
			ID:            c.ID,
			Kind:          kind,
			Content:       c.Content,
			Relevance:     round2(c.Relevance),
			TokenEstimate: tokens,
		})
		used += tokens
	}
	return items, used
}
