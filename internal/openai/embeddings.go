package openai

import (
	"context"
	"fmt"

	"github.com/hyperjump/callscope/internal/models"
)

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbeddings embeds every input in one request and returns vectors in input
// order. A response with the wrong number of vectors, out-of-range indexes or vectors
// of the wrong length is reported as an ExternalServiceError.
func (c *Client) CreateEmbeddings(ctx context.Context, model string, dims int, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	var resp embeddingResponse
	req := embeddingRequest{Model: model, Input: input, Dimensions: dims}
	if err := c.postJSON(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}

	malformed := func(format string, args ...any) error {
		return &models.ExternalServiceError{Service: c.service, Op: "/embeddings", Err: fmt.Errorf(format, args...)}
	}
	if len(resp.Data) != len(input) {
		return nil, malformed("got %d embeddings for %d inputs", len(resp.Data), len(input))
	}
	out := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(input) || out[d.Index] != nil {
			return nil, malformed("invalid embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 || (dims > 0 && len(d.Embedding) != dims) {
			return nil, malformed("embedding %d has %d dimensions, want %d", d.Index, len(d.Embedding), dims)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
