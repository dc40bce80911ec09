package vector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
)

// fakeEmbedder is deterministic: the vector's first component is the
// content length (so different texts land at different points) and the
// rest are zero, making nearest-neighbor ordering predictable in tests.
type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	vec[0] = float32(len(text))
	if f.dim > 1 {
		vec[1] = 1
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, _ := f.Embed(ctx, t)
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Model() string  { return "fake" }

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := New("", &fakeEmbedder{dim: dim})
	require.NoError(t, err)
	return s
}

func newObservation(id, text, memoryType string) *models.Observation {
	return &models.Observation{
		ID:              id,
		SessionID:       "sess_a",
		ObservationText: text,
		MemoryType:      memoryType,
		Tags:            "go,testing",
		Importance:      5,
		Status:          models.ObservationStatusActive,
		CreatedAt:       time.Now(),
		SourceMachineID: "machine_a",
		ContentHash:     "hash_" + id,
	}
}

func TestAddMemory_SearchMemoryFindsItByText(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	obs := newObservation("obs_1", "retry loop drops the last attempt's error", "gotcha")
	require.NoError(t, s.AddMemory(ctx, obs))

	results, err := s.SearchMemory(ctx, "retry loop drops the last attempt's error", 5, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "obs_1", results[0].ID)
	require.Equal(t, "gotcha", results[0].Metadata["memory_type"])
}

func TestSearchMemory_FiltersByType(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, s.AddMemory(ctx, newObservation("obs_gotcha", "gotcha text", "gotcha")))
	require.NoError(t, s.AddMemory(ctx, newObservation("obs_decision", "decision text", "decision")))

	results, err := s.SearchMemory(ctx, "text", 10, []string{"decision"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "obs_decision", results[0].ID)
}

func TestArchiveMemory_ExcludedFromDefaultSearch(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	obs := newObservation("obs_1", "archived fact", "fact")
	require.NoError(t, s.AddMemory(ctx, obs))
	require.NoError(t, s.ArchiveMemory(ctx, obs, true))

	results, err := s.SearchMemory(ctx, "archived fact", 5, nil, nil)
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = s.SearchMemory(ctx, "archived fact", 5, nil, map[string]string{"archived": "true"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestAddPlan_StoresWithPlanMemoryType(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	obs := newObservation("obs_plan", "implement the retry loop fix", "draft")
	require.NoError(t, s.AddPlan(ctx, obs))

	results, err := s.SearchMemory(ctx, "implement the retry loop fix", 5, []string{"plan"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "obs_plan", results[0].ID)
}

func TestList_FiltersByArchivedAndType(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	obsA := newObservation("obs_a", "alpha", "gotcha")
	obsB := newObservation("obs_b", "beta", "decision")
	require.NoError(t, s.AddMemory(ctx, obsA))
	require.NoError(t, s.AddMemory(ctx, obsB))
	require.NoError(t, s.ArchiveMemory(ctx, obsB, true))

	active := s.List(ListFilter{Archived: boolPtr(false)})
	require.Len(t, active, 1)
	require.Equal(t, "obs_a", active[0].ID)

	byType := s.List(ListFilter{Types: []string{"decision"}})
	require.Len(t, byType, 1)
	require.Equal(t, "obs_b", byType[0].ID)
}

func boolPtr(b bool) *bool { return &b }

func TestGetStats_CountsPerCollection(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, s.AddMemory(ctx, newObservation("obs_1", "one", "gotcha")))
	_, err := s.AddCodeChunksBatched(ctx, []CodeChunk{{ID: "chunk_1", Content: "func main() {}"}}, 10, nil)
	require.NoError(t, err)
	_, err = s.AddCodeChunksBatched(ctx, nil, 10, nil)
	require.NoError(t, err)

	stats := s.GetStats()
	require.Equal(t, 1, stats.MemoryCount)
	require.Equal(t, 1, stats.CodeCount)
	require.Equal(t, 0, stats.SessionSummariesCount)
}

func TestClearAll_EmptiesEveryCollection(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, s.AddMemory(ctx, newObservation("obs_1", "one", "gotcha")))
	_, err := s.AddCodeChunksBatched(ctx, []CodeChunk{{ID: "chunk_1", Content: "func main() {}"}}, 10, nil)
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	stats := s.GetStats()
	require.Equal(t, 0, stats.MemoryCount)
	require.Equal(t, 0, stats.CodeCount)
}

func TestDimensionMismatch_RecreatesCollection(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, s.AddMemory(ctx, newObservation("obs_1", "one", "gotcha")))
	require.Equal(t, 1, s.GetStats().MemoryCount)

	require.NoError(t, s.UpdateEmbeddingProvider(&fakeEmbedder{dim: 8}))
	require.Equal(t, 0, s.GetStats().MemoryCount, "provider change with a new dimension must drop the stale collection")

	require.NoError(t, s.AddMemory(ctx, newObservation("obs_2", "two", "gotcha")))
	require.Equal(t, 1, s.GetStats().MemoryCount)
}

func TestFindSimilarSessions_ExcludesSelfAndOtherProjects(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	now := time.Now().Unix()
	require.NoError(t, s.AddSessionSummary(ctx, "sess_self", "/proj", "working on retries", now))
	require.NoError(t, s.AddSessionSummary(ctx, "sess_other", "/proj", "working on retries too", now))
	require.NoError(t, s.AddSessionSummary(ctx, "sess_other_project", "/elsewhere", "working on retries too", now))

	results, err := s.FindSimilarSessions(ctx, "working on retries", "/proj", "sess_self", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "sess_other", results[0].SessionID)
}

func TestFindSimilarSessions_ExcludesOldSummaries(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -90).Unix()
	require.NoError(t, s.AddSessionSummary(ctx, "sess_old", "/proj", "ancient context", old))

	results, err := s.FindSimilarSessions(ctx, "ancient context", "/proj", "", 5, 30)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestAddTagRemoveTag_RoundTrip(t *testing.T) {
	tags := AddTag("", "alpha")
	tags = AddTag(tags, "beta")
	tags = AddTag(tags, "alpha") // no duplicate
	require.Equal(t, "alpha,beta", tags)

	tags = RemoveTag(tags, "alpha")
	require.Equal(t, "beta", tags)
}
