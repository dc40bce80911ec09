package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dotcommander/oakd/internal/models"
)

func memoryMetadata(obs *models.Observation, archived bool) map[string]string {
	return map[string]string{
		"session_id":       obs.SessionID,
		"memory_type":      obs.MemoryType,
		"tags":             obs.Tags,
		"status":           string(obs.Status),
		"importance":       strconv.Itoa(obs.Importance),
		"archived":         strconv.FormatBool(archived),
		"created_at_epoch": strconv.FormatInt(obs.CreatedAt.Unix(), 10),
	}
}

// AddMemory embeds an observation's text and upserts it into oak_memory.
func (s *Store) AddMemory(ctx context.Context, obs *models.Observation) error {
	vec, err := s.embedder.Embed(ctx, obs.ObservationText)
	if err != nil {
		return fmt.Errorf("embed observation %s: %w", obs.ID, err)
	}
	return s.upsert(ctx, CollectionMemory, obs.ID, obs.ObservationText, vec, memoryMetadata(obs, false))
}

// AddPlan writes obs into the memory collection with memory_type forced to
// "plan", per spec §4.4.
func (s *Store) AddPlan(ctx context.Context, obs *models.Observation) error {
	clone := *obs
	clone.MemoryType = "plan"
	return s.AddMemory(ctx, &clone)
}

// AddSessionSummary indexes a session's title+summary text for
// find_similar_sessions lookups.
func (s *Store) AddSessionSummary(ctx context.Context, sessionID, projectRoot, content string, endedAtEpoch int64) error {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed session summary %s: %w", sessionID, err)
	}
	meta := map[string]string{
		"session_id":     sessionID,
		"project_root":   projectRoot,
		"ended_at_epoch": strconv.FormatInt(endedAtEpoch, 10),
	}
	return s.upsert(ctx, CollectionSessionSummaries, sessionID, content, vec, meta)
}

// ArchiveMemory toggles the archived flag on an already-indexed observation.
// Because chromem-go upserts whole documents, archiving re-embeds the text
// and rewrites the document rather than patching metadata in place; the
// relational row (the authority on content) is untouched by this call.
func (s *Store) ArchiveMemory(ctx context.Context, obs *models.Observation, archived bool) error {
	vec, err := s.embedder.Embed(ctx, obs.ObservationText)
	if err != nil {
		return fmt.Errorf("embed observation %s: %w", obs.ID, err)
	}
	return s.upsert(ctx, CollectionMemory, obs.ID, obs.ObservationText, vec, memoryMetadata(obs, archived))
}

// BulkArchiveMemory archives (or unarchives) many observations in one
// embedding-batch round trip.
func (s *Store) BulkArchiveMemory(ctx context.Context, obs []*models.Observation, archived bool) error {
	if len(obs) == 0 {
		return nil
	}
	texts := make([]string, len(obs))
	for i, o := range obs {
		texts[i] = o.ObservationText
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed bulk archive batch: %w", err)
	}
	for i, o := range obs {
		if err := s.upsert(ctx, CollectionMemory, o.ID, o.ObservationText, vecs[i], memoryMetadata(o, archived)); err != nil {
			return err
		}
	}
	return nil
}

// AddTag appends tag to a comma-separated tag list if not already present.
func AddTag(tags, tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return tags
	}
	for _, t := range splitTags(tags) {
		if t == tag {
			return tags
		}
	}
	if tags == "" {
		return tag
	}
	return tags + "," + tag
}

// RemoveTag removes tag from a comma-separated tag list.
func RemoveTag(tags, tag string) string {
	tag = strings.TrimSpace(tag)
	kept := make([]string, 0)
	for _, t := range splitTags(tags) {
		if t != tag {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, ",")
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// UpdateMemoryTags re-indexes obs after its Tags field has been changed
// (e.g. via AddTag/RemoveTag), keeping the VS metadata in sync with RS.
func (s *Store) UpdateMemoryTags(ctx context.Context, obs *models.Observation) error {
	return s.AddMemory(ctx, obs)
}

// SearchMemory embeds query once and searches oak_memory, optionally
// restricted to a set of memory types (queried individually and merged,
// since chromem-go's where-filter is a flat equality match) and additional
// exact-match metadata filters. Archived memories are excluded unless the
// caller explicitly asks for them via filters["archived"].
func (s *Store) SearchMemory(ctx context.Context, query string, limit int, types []string, filters map[string]string) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search_memory query: %w", err)
	}

	base := make(map[string]string, len(filters)+1)
	for k, v := range filters {
		base[k] = v
	}
	if _, ok := base["archived"]; !ok {
		base["archived"] = "false"
	}

	if len(types) == 0 {
		return s.queryCollection(ctx, CollectionMemory, vec, limit, base)
	}

	var all []SearchResult
	for _, t := range types {
		where := make(map[string]string, len(base)+1)
		for k, v := range base {
			where[k] = v
		}
		where["memory_type"] = t
		res, err := s.queryCollection(ctx, CollectionMemory, vec, limit, where)
		if err != nil {
			return nil, err
		}
		all = append(all, res...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Relevance > all[j].Relevance })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ClearMemoryOnly deletes every memory (including plans) while leaving code
// chunks and session summaries untouched.
func (s *Store) ClearMemoryOnly(ctx context.Context) error {
	return s.clearCollection(ctx, CollectionMemory)
}
