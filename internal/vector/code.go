package vector

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// CodeChunk is a pure VS projection: a slice of source code plus enough
// location metadata to resolve it back to a file, without a relational-store
// counterpart (the spec's "CodeChunk ... in VS" data-model entry).
type CodeChunk struct {
	ID        string
	Content   string
	FilePath  string
	Language  string
	StartLine int
	EndLine   int
}

func (c CodeChunk) metadata() map[string]string {
	return map[string]string{
		"file_path":  c.FilePath,
		"language":   c.Language,
		"start_line": strconv.Itoa(c.StartLine),
		"end_line":   strconv.Itoa(c.EndLine),
	}
}

// AddCodeChunksBatched deduplicates chunks by id, embeds them batchSize at a
// time, and upserts each batch into oak_code, reporting progress as
// (current, total) chunks written so a UI can show a progress bar. Returns
// the number of unique chunks written.
func (s *Store) AddCodeChunksBatched(ctx context.Context, chunks []CodeChunk, batchSize int, progress func(current, total int)) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	seen := make(map[string]struct{}, len(chunks))
	deduped := make([]CodeChunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		deduped = append(deduped, c)
	}

	total := len(deduped)
	written := 0
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := deduped[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("embed code chunk batch: %w", err)
		}

		col, err := s.ensureCollectionForDim(CollectionCode, s.embedder.Dimension())
		if err != nil {
			return written, err
		}

		docs := make([]chromem.Document, len(batch))
		for i, c := range batch {
			docs[i] = chromem.Document{ID: c.ID, Content: c.Content, Embedding: vecs[i], Metadata: c.metadata()}
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return written, fmt.Errorf("upsert code chunk batch: %w", err)
		}
		for i, c := range batch {
			s.mirrorPut(CollectionCode, c.ID, record{Content: c.Content, Metadata: docs[i].Metadata})
		}

		written += len(batch)
		if progress != nil {
			progress(end, total)
		}
	}

	if err := s.persist(); err != nil {
		return written, err
	}
	return written, nil
}

// SearchCode embeds query once and returns the nearest code chunks.
func (s *Store) SearchCode(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search_code query: %w", err)
	}
	return s.queryCollection(ctx, CollectionCode, vec, limit, nil)
}

// ClearCodeOnly deletes every code chunk while leaving memory and session
// summaries untouched.
func (s *Store) ClearCodeOnly(ctx context.Context) error {
	return s.clearCollection(ctx, CollectionCode)
}
