package vector

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// clearCollection deletes the named collection from chromem and its mirror,
// so the next write recreates it fresh.
func (s *Store) clearCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("clear collection %s: %w", name, err)
	}
	delete(s.collections, name)
	delete(s.mirror, name)
	delete(s.dims, name)
	if err := s.persistDims(); err != nil {
		return err
	}
	return s.persist()
}

// ClearAll deletes every collection.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, name := range []string{CollectionCode, CollectionMemory, CollectionSessionSummaries} {
		if err := s.clearCollection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// HardReset deletes the on-disk vector store entirely and reinitializes an
// empty one in its place, for when the index needs to be rebuilt from
// scratch (e.g. after an embedding model change with no migration path).
func (s *Store) HardReset(ctx context.Context) error {
	if err := s.ClearAll(ctx); err != nil {
		return err
	}
	if s.persistPath == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.persistPath); err != nil {
		return fmt.Errorf("remove vector store directory: %w", err)
	}
	db, err := openDB(s.persistPath)
	if err != nil {
		return err
	}
	s.db = db
	s.collections = make(map[string]*chromem.Collection)
	s.mirror = make(map[string]map[string]record)
	s.dims = make(map[string]int)
	return nil
}

// Stats reports document counts per collection. It is race-tolerant: if a
// collection was concurrently deleted, it reads back as zero rather than
// erroring, since counts are sourced from the Store's own mutex-guarded
// mirror rather than a live chromem call.
type Stats struct {
	CodeCount             int `json:"code_count"`
	MemoryCount           int `json:"memory_count"`
	SessionSummariesCount int `json:"session_summaries_count"`
}

// GetStats returns document counts for all three collections.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		CodeCount:             len(s.mirror[CollectionCode]),
		MemoryCount:           len(s.mirror[CollectionMemory]),
		SessionSummariesCount: len(s.mirror[CollectionSessionSummaries]),
	}
}

// ListFilter narrows List to a subset of oak_memory documents.
type ListFilter struct {
	Types        []string // include only these memory_type values, if non-empty
	ExcludeTypes []string // exclude these memory_type values
	Tag          string   // require this tag present in the comma-separated tags field
	Status       string   // exact status match, if non-empty
	Archived     *bool    // exact archived match, if non-nil
	FromEpoch    int64    // created_at_epoch >= FromEpoch, if non-zero
	ToEpoch      int64    // created_at_epoch <= ToEpoch, if non-zero
}

func (f ListFilter) matches(meta map[string]string) bool {
	if len(f.Types) > 0 && !contains(f.Types, meta["memory_type"]) {
		return false
	}
	if len(f.ExcludeTypes) > 0 && contains(f.ExcludeTypes, meta["memory_type"]) {
		return false
	}
	if f.Tag != "" && !contains(splitTags(meta["tags"]), f.Tag) {
		return false
	}
	if f.Status != "" && meta["status"] != f.Status {
		return false
	}
	if f.Archived != nil {
		archived := meta["archived"] == "true"
		if archived != *f.Archived {
			return false
		}
	}
	if f.FromEpoch != 0 || f.ToEpoch != 0 {
		epoch, _ := strconv.ParseInt(meta["created_at_epoch"], 10, 64)
		if f.FromEpoch != 0 && epoch < f.FromEpoch {
			return false
		}
		if f.ToEpoch != 0 && epoch > f.ToEpoch {
			return false
		}
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// List returns every oak_memory document matching filter, without any
// similarity ranking -- a pure metadata scan over the Store's mirror.
func (s *Store) List(filter ListFilter) []SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.mirror[CollectionMemory]
	out := make([]SearchResult, 0, len(docs))
	for id, r := range docs {
		if !filter.matches(r.Metadata) {
			continue
		}
		out = append(out, SearchResult{ID: id, Content: r.Content, Metadata: r.Metadata})
	}
	return out
}

// summarizeType is a small helper for counts-by-type reporting.
func summarizeType(docs map[string]record) map[string]int {
	counts := make(map[string]int)
	for _, r := range docs {
		counts[r.Metadata["memory_type"]]++
	}
	return counts
}

// CountsByType returns the number of oak_memory documents per memory_type.
func (s *Store) CountsByType() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarizeType(s.mirror[CollectionMemory])
}
