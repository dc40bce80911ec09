// Package vector wraps chromem-go as the embedded, file-persisted vector
// index backing the dual-store memory layer. The relational store remains
// source of truth for every row; everything here is a rebuildable search
// index over it, grounded on the provider pattern in hector's
// pkg/vector/chromem.go.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/dotcommander/oakd/internal/embeddings"
)

// Collection names. All three live in the same on-disk chromem database,
// cosine-space, HNSW-backed (chromem-go's default index).
const (
	CollectionCode             = "oak_code"
	CollectionMemory           = "oak_memory"
	CollectionSessionSummaries = "oak_session_summaries"
)

// record is the Store's own mirror of a chromem document's id/content/
// metadata, kept so listing, counting, and filtering operations never need
// an ANN query -- chromem-go has no metadata-only "list everything" call,
// only similarity search. The mirror is rebuilt from chromem on every
// upsert/delete alongside the real write, so it never drifts.
type record struct {
	Content  string
	Metadata map[string]string
}

// Store is the vector-store wrapper used by the Dual-Store Memory Layer,
// Retrieval Engine, and Suggestion Engine.
type Store struct {
	mu sync.RWMutex

	db          *chromem.DB
	persistPath string
	embedder    embeddings.Embedder

	collections map[string]*chromem.Collection
	dims        map[string]int
	mirror      map[string]map[string]record
}

// identityEmbeddingFunc panics-free placeholder: every document added here
// already carries a pre-computed embedding, so chromem never needs to call
// its own embedding function. It only exists because GetOrCreateCollection
// requires one.
func identityEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vector store collections use pre-computed embeddings; the identity embedding function must never be invoked")
}

// New opens (or creates) the vector store at persistPath. An empty
// persistPath yields an in-memory-only store, used by tests.
func New(persistPath string, embedder embeddings.Embedder) (*Store, error) {
	db, err := openDB(persistPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:          db,
		persistPath: persistPath,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
		dims:        make(map[string]int),
		mirror:      make(map[string]map[string]record),
	}

	if err := s.loadDims(); err != nil {
		return nil, err
	}
	if err := s.reconcileStartupDimensions(); err != nil {
		return nil, err
	}
	return s, nil
}

func openDB(persistPath string) (*chromem.DB, error) {
	if persistPath == "" {
		return chromem.NewDB(), nil
	}
	if err := os.MkdirAll(persistPath, 0o750); err != nil {
		return nil, fmt.Errorf("create vector store directory: %w", err)
	}

	dbPath := filepath.Join(persistPath, "vectors.gob.gz")
	if _, statErr := os.Stat(dbPath); statErr == nil {
		db, err := chromem.NewPersistentDB(dbPath, true)
		if err != nil {
			return nil, fmt.Errorf("load vector store: %w", err)
		}
		return db, nil
	}
	return chromem.NewDB(), nil
}

func (s *Store) persist() error {
	if s.persistPath == "" {
		return nil
	}
	dbPath := filepath.Join(s.persistPath, "vectors.gob.gz")
	//nolint:staticcheck // Export is the stable on-disk-snapshot API chromem-go offers.
	if err := s.db.Export(dbPath, true, ""); err != nil {
		return fmt.Errorf("persist vector store: %w", err)
	}
	return nil
}

// dimsPath is a small sidecar JSON file recording the embedding dimension
// each collection was last written with. chromem-go exposes no API to peek
// at a collection's stored vector width without an ANN query against a
// vector of a candidate dimension (which would itself error on mismatch),
// so tracking it ourselves is the only way to implement the spec's
// "recreate on dimension change" rule both at startup and per-upsert.
func (s *Store) dimsPath() string {
	if s.persistPath == "" {
		return ""
	}
	return filepath.Join(s.persistPath, "dimensions.json")
}

func (s *Store) loadDims() error {
	path := s.dimsPath()
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read vector store dimensions file: %w", err)
	}
	var dims map[string]int
	if err := json.Unmarshal(b, &dims); err != nil {
		return fmt.Errorf("parse vector store dimensions file: %w", err)
	}
	s.dims = dims
	return nil
}

func (s *Store) persistDims() error {
	path := s.dimsPath()
	if path == "" {
		return nil
	}
	b, err := json.Marshal(s.dims)
	if err != nil {
		return fmt.Errorf("marshal vector store dimensions: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write vector store dimensions file: %w", err)
	}
	return nil
}

// reconcileStartupDimensions is the "peek at 1 sample" startup check: any
// collection whose recorded dimension no longer matches the active
// embedder's dimension is dropped so the next write recreates it fresh.
func (s *Store) reconcileStartupDimensions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := s.embedder.Dimension()
	changed := false
	for _, name := range []string{CollectionCode, CollectionMemory, CollectionSessionSummaries} {
		if got, ok := s.dims[name]; ok && got != want {
			_ = s.db.DeleteCollection(name)
			delete(s.collections, name)
			delete(s.mirror, name)
			delete(s.dims, name)
			changed = true
		}
	}
	if changed {
		return s.persistDims()
	}
	return nil
}

// UpdateEmbeddingProvider swaps the active embedder. If its dimension
// differs from any collection's recorded dimension, every collection is
// cleared and recreated -- per spec, "clear cached client and collections
// and reinitialize."
func (s *Store) UpdateEmbeddingProvider(embedder embeddings.Embedder) error {
	s.mu.Lock()
	s.embedder = embedder
	s.mu.Unlock()
	return s.reconcileStartupDimensions()
}

// ensureCollectionForDim returns the named collection, recreating it first
// if its previously-recorded dimension doesn't match dim -- the per-upsert
// half of the dimension-management rule.
func (s *Store) ensureCollectionForDim(name string, dim int) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if got, ok := s.dims[name]; ok && got != dim {
		_ = s.db.DeleteCollection(name)
		delete(s.collections, name)
		delete(s.mirror, name)
	}

	col, ok := s.collections[name]
	if !ok {
		created, err := s.db.GetOrCreateCollection(name, nil, identityEmbeddingFunc)
		if err != nil {
			return nil, fmt.Errorf("get or create collection %q: %w", name, err)
		}
		col = created
		s.collections[name] = col
	}

	s.dims[name] = dim
	if err := s.persistDims(); err != nil {
		return nil, err
	}
	return col, nil
}

// getCollection returns the named collection without any dimension check,
// for read-only (query/list) paths. It auto-creates an empty collection if
// missing, matching chromem-go's GetOrCreateCollection semantics; an empty
// collection searches/lists as zero results.
func (s *Store) getCollection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, identityEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *Store) mirrorPut(collection, id string, r record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mirror[collection] == nil {
		s.mirror[collection] = make(map[string]record)
	}
	s.mirror[collection][id] = r
}

func (s *Store) mirrorDelete(collection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mirror[collection], id)
}

// upsert writes a single document to collection, keeping chromem and the
// listing mirror in sync, and persists if file-backed.
func (s *Store) upsert(ctx context.Context, collection, id, content string, vector []float32, metadata map[string]string) error {
	col, err := s.ensureCollectionForDim(collection, len(vector))
	if err != nil {
		return err
	}
	doc := chromem.Document{ID: id, Content: content, Metadata: metadata, Embedding: vector}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	s.mirrorPut(collection, id, record{Content: content, Metadata: metadata})
	return s.persist()
}

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Relevance float64
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// queryCollection runs a nearest-neighbor search, clamping topK to the
// collection's current size (chromem-go errors if asked for more results
// than documents exist) and tolerating an empty/missing collection.
func (s *Store) queryCollection(ctx context.Context, name string, vector []float32, limit int, where map[string]string) ([]SearchResult, error) {
	col, err := s.getCollection(name)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	topK := limit
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Relevance: clampUnit(float64(r.Similarity)),
		})
	}
	return out, nil
}

// GetByID returns a single document from collection by id, sourced from the
// listing mirror so it never issues an ANN query just to fetch one row.
func (s *Store) GetByID(collection, id string) (SearchResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.mirror[collection][id]
	if !ok {
		return SearchResult{}, false
	}
	return SearchResult{ID: id, Content: r.Content, Metadata: r.Metadata}, true
}

// QueryByContent embeds content once and returns the nearest neighbors in
// collection, excluding any id in excludeIDs -- the Retrieval Engine's
// Layer 2 "related items" lookup, which nearest-neighbors off a chunk's own
// content rather than a fresh query string.
func (s *Store) QueryByContent(ctx context.Context, collection, content string, limit int, excludeIDs []string) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed related-items query: %w", err)
	}

	exclude := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = struct{}{}
	}

	results, err := s.queryCollection(ctx, collection, vec, limit+len(exclude), nil)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, limit)
	for _, r := range results {
		if _, skip := exclude[r.ID]; skip {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close persists the database (if file-backed) and releases resources.
func (s *Store) Close() error {
	return s.persist()
}
