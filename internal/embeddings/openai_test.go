package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "text-embedding-3-small", req.Model)

		resp := embedResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 0.5}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "test-key", "text-embedding-3-small", 0)
	require.Equal(t, 1536, e.Dimension())

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, []float32{0, 0.5}, vecs[0])
	require.Equal(t, []float32{1, 0.5}, vecs[1])
}

func TestOpenAIEmbedder_PropagatesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(embedErrorResponse{
			Error: struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			}{Message: "invalid api key", Type: "invalid_request_error"},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "bad-key", "text-embedding-3-small", 0)
	_, err := e.Embed(context.Background(), "hello")
	require.ErrorContains(t, err, "invalid api key")
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, f.err }
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int { return len(f.vec) }
func (f *fakeEmbedder) Model() string  { return "fake" }

func TestChain_FallsThroughOnError(t *testing.T) {
	primary := &fakeEmbedder{err: context.DeadlineExceeded}
	secondary := &fakeEmbedder{vec: []float32{1, 2, 3}}
	chain := NewChain(primary, secondary)

	vec, err := chain.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vec)
}

func TestChain_ReturnsErrorWhenAllFail(t *testing.T) {
	chain := NewChain(&fakeEmbedder{err: context.DeadlineExceeded}, &fakeEmbedder{err: context.DeadlineExceeded})
	_, err := chain.Embed(context.Background(), "hello")
	require.Error(t, err)
}
