package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/oakd/internal/store"
	"github.com/dotcommander/oakd/internal/vector"
)

// fakeEmbedder mirrors internal/vector's own test embedder: deterministic,
// keyed off text length, so nearest-neighbor ordering in tests is
// predictable without a real model.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	vec[0] = float32(len(text))
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

func newTestServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vs, err := vector.New("", &fakeEmbedder{dim: 8})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MachineID = "machine_test"
	cfg.Version = "test"
	s := New(cfg, db, vs)
	return s, db
}

func postJSON(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Truef(t, envelope.Success, "expected success envelope, got error: %s", envelope.Error)
	if v != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, v))
	}
}
