package embedding

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/hyperjump/callscope/pkg/utils"
)

// MockModel is the model name reported by MockEmbedder.
const MockModel = "mock"

// MockEmbedder is a deterministic embedder for tests. It returns a fixed-dimension
// vector derived from the text hash so that the same text always gets the same embedding,
// and counts the batches it was asked to embed.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
	Err        error
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds every text as one call.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h%100003+1)*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// Calls returns how many times EmbedBatch (directly or via Embed) was invoked.
func (e *MockEmbedder) Calls() int { return int(e.calls.Load()) }

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns MockModel.
func (e *MockEmbedder) Model() string { return MockModel }

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
