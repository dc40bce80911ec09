package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/models"
	"github.com/dotcommander/oakd/internal/vector"
)

// fakeEmbedder is deterministic: the vector's first component is the
// content length, matching the convention in internal/vector's own tests,
// so nearest-neighbor ordering is predictable.
type fakeEmbedder struct{ dim int }

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
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Model() string  { return "fake" }

func newTestStore(t *testing.T) *vector.Store {
	t.Helper()
	s, err := vector.New("", &fakeEmbedder{dim: 4})
	require.NoError(t, err)
	return s
}

func seedCodeAndMemory(t *testing.T, s *vector.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.AddCodeChunksBatched(ctx, []vector.CodeChunk{
		{ID: "code_1", Content: "func RetryWithBackoff handles transient errors", FilePath: "retry.go", Language: "go", StartLine: 10, EndLine: 40},
		{ID: "code_2", Content: "func main entrypoint", FilePath: "main.go", Language: "go", StartLine: 1, EndLine: 5},
	}, 50, nil)
	require.NoError(t, err)

	obs := []*models.Observation{
		{ID: "mem_1", SessionID: "sess_a", ObservationText: "retry loop dropped the last error on backoff exhaustion", MemoryType: "bug_fix", Status: models.ObservationStatusActive, Importance: 7, CreatedAt: time.Now(), SourceMachineID: "machine_a", ContentHash: "h1"},
		{ID: "mem_2", SessionID: "sess_a", ObservationText: "unrelated note about formatting", MemoryType: "discovery", Status: models.ObservationStatusActive, Importance: 3, CreatedAt: time.Now(), SourceMachineID: "machine_a", ContentHash: "h2"},
	}
	for _, o := range obs {
		require.NoError(t, s.AddMemory(ctx, o))
	}
}

func TestSearchIndex_ReturnsBothKindsWithRoundedRelevance(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 0.0, 0)

	result, err := e.SearchIndex(context.Background(), "retry backoff error", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)

	var sawCode, sawMemory bool
	for _, item := range result.Items {
		require.GreaterOrEqual(t, item.Relevance, 0.0)
		require.LessOrEqual(t, item.Relevance, 1.0)
		require.Greater(t, item.TokenEstimate, 0)
		switch item.Kind {
		case KindCode:
			sawCode = true
		case KindMemory:
			sawMemory = true
		}
	}
	require.True(t, sawCode)
	require.True(t, sawMemory)
	require.Greater(t, result.TotalTokensAvailable, 0)
}

func TestSearchIndex_FiltersByType(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 0.0, 0)

	result, err := e.SearchIndex(context.Background(), "retry", KindCode, 10)
	require.NoError(t, err)
	for _, item := range result.Items {
		require.Equal(t, KindCode, item.Kind)
	}
}

func TestGetContext_ReturnsSelectedAndRelatedExcludingExplicitIDs(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 0.0, 50)

	result, err := e.GetContext(context.Background(), []string{"code_1"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "code_1", result.Items[0].ID)
	require.LessOrEqual(t, len([]rune(result.Items[0].Preview)), 50)

	for _, r := range result.Related {
		require.NotEqual(t, "code_1", r.ID)
	}
}

func TestGetContext_SkipsUnknownIDs(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 0.0, 0)

	result, err := e.GetContext(context.Background(), []string{"does_not_exist"})
	require.NoError(t, err)
	require.Empty(t, result.Items)
	require.Empty(t, result.Related)
}

func TestFetchFull_ReturnsFullContentAndSummedTokens(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 0.0, 0)

	result := e.FetchFull([]string{"code_1", "mem_1", "missing"})
	require.Len(t, result.Items, 2)
	require.Equal(t, result.TotalTokens, estimateTokens(result.Items[0].Content)+estimateTokens(result.Items[1].Content))
}

func TestGetTaskContext_SplitsBudgetSeventyThirty(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 0.0, 0)

	result, err := e.GetTaskContext(context.Background(), "fix the retry backoff bug", nil, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, result.CodeItems)
	require.NotEmpty(t, result.MemoryItems)

	codeTokens := 0
	for _, it := range result.CodeItems {
		codeTokens += it.TokenEstimate
	}
	require.LessOrEqual(t, codeTokens, 700)

	memTokens := 0
	for _, it := range result.MemoryItems {
		memTokens += it.TokenEstimate
	}
	require.LessOrEqual(t, memTokens, 300)
}

func TestGetTaskContext_AppliesRelevanceThreshold(t *testing.T) {
	s := newTestStore(t)
	seedCodeAndMemory(t, s)
	e := New(s, 1.1, 0) // impossible threshold -- nothing clears it

	result, err := e.GetTaskContext(context.Background(), "fix the retry backoff bug", nil, 1000)
	require.NoError(t, err)
	require.Empty(t, result.CodeItems)
	require.Empty(t, result.MemoryItems)
}
