// Package embedding turns transcript text into dense vectors: a batched OpenAI client,
// an LRU cache decorator, an offline lexicon embedder and a deterministic mock.
package embedding

import (
	"context"
	"hash/fnv"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model identifies the vector space. Vectors from different models are never compared.
	Model() string
	Close() error
}

// HashString returns a non-negative FNV-1a hash of s.
func HashString(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
