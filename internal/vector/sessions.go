package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// SimilarSession is one nearest-neighbor hit from find_similar_sessions.
type SimilarSession struct {
	SessionID  string
	Similarity float64
}

// FindSimilarSessions embeds queryText once and searches oak_session_summaries
// for other sessions in the same project, excluding excludeSessionID and any
// summary older than maxAgeDays.
func (s *Store) FindSimilarSessions(ctx context.Context, queryText, projectRoot, excludeSessionID string, limit, maxAgeDays int) ([]SimilarSession, error) {
	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed find_similar_sessions query: %w", err)
	}

	// Over-fetch so post-filtering (exclude self, age bound) still leaves
	// up to `limit` results; chromem-go has no "not equal" filter operator.
	overfetch := limit + 1
	if overfetch < 1 {
		overfetch = 1
	}

	results, err := s.queryCollection(ctx, CollectionSessionSummaries, vec, overfetch*4, map[string]string{"project_root": projectRoot})
	if err != nil {
		return nil, err
	}

	cutoffEpoch := int64(0)
	if maxAgeDays > 0 {
		cutoffEpoch = time.Now().AddDate(0, 0, -maxAgeDays).Unix()
	}

	out := make([]SimilarSession, 0, len(results))
	for _, r := range results {
		if r.ID == excludeSessionID {
			continue
		}
		if cutoffEpoch > 0 {
			endedAt, _ := strconv.ParseInt(r.Metadata["ended_at_epoch"], 10, 64)
			if endedAt != 0 && endedAt < cutoffEpoch {
				continue
			}
		}
		out = append(out, SimilarSession{SessionID: r.ID, Similarity: r.Relevance})
		if len(out) >= limit {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// SearchSessionSummaries embeds query once and searches oak_session_summaries
// across every project, unlike FindSimilarSessions which scopes to one
// project_root and excludes the session itself. It backs the tool-call
// surface's search(search_type="sessions"), which has neither a project nor
// a session to exclude.
func (s *Store) SearchSessionSummaries(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed session summary search query: %w", err)
	}
	return s.queryCollection(ctx, CollectionSessionSummaries, vec, limit, nil)
}

// ClearSessionSummariesOnly deletes every session summary.
func (s *Store) ClearSessionSummariesOnly(ctx context.Context) error {
	return s.clearCollection(ctx, CollectionSessionSummaries)
}
