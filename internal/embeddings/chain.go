package embeddings

import (
	"context"
	"errors"
)

// Chain tries each embedder in order, falling through to the next on error.
// Mirrors the agent-prefix dispatch idiom in internal/llm's Runner: a fixed,
// ordered list of backends rather than dynamic discovery.
type Chain struct {
	embedders []Embedder
}

// NewChain builds a Chain over embedders, tried in the given order.
func NewChain(embedders ...Embedder) *Chain {
	return &Chain{embedders: embedders}
}

func (c *Chain) Dimension() int {
	if len(c.embedders) == 0 {
		return 0
	}
	return c.embedders[0].Dimension()
}

func (c *Chain) Model() string {
	if len(c.embedders) == 0 {
		return ""
	}
	return c.embedders[0].Model()
}

func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, e := range c.embedders {
		vec, err := e.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no embedders configured")
	}
	return nil, lastErr
}

func (c *Chain) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for _, e := range c.embedders {
		vecs, err := e.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no embedders configured")
	}
	return nil, lastErr
}
