// Package embeddings produces vector embeddings for text passed to the
// dual-store memory layer and retrieval engine.
package embeddings

import "context"

// Embedder converts text to a vector embedding. Different providers
// (OpenAI-compatible HTTP endpoints, local models) implement this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// defaultDimensionsByModel covers the OpenAI-compatible models in common use;
// an unrecognized model name falls back to 1536, the ada-002/3-small size.
var defaultDimensionsByModel = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// DimensionForModel returns the known embedding width for model, or the
// ada-002-era default of 1536 if the model isn't in the known table.
func DimensionForModel(model string) int {
	if d, ok := defaultDimensionsByModel[model]; ok {
		return d
	}
	return 1536
}
