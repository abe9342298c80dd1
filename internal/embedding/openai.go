package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/openai"
	"github.com/hyperjump/callscope/pkg/utils"
)

var tracer = otel.Tracer("github.com/hyperjump/callscope/internal/embedding")

// OpenAIOptions configures an OpenAIEmbedder.
type OpenAIOptions struct {
	Model         string
	Dimensions    int
	BatchSize     int
	MaxInputChars int
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint, sending as many texts per
// request as the batch size allows.
type OpenAIEmbedder struct {
	client *openai.Client
	opts   OpenAIOptions
	logger *zap.Logger
}

// NewOpenAIEmbedder wraps client. A non-positive batch size sends everything in one request.
func NewOpenAIEmbedder(client *openai.Client, opts OpenAIOptions, logger *zap.Logger) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, opts: opts, logger: utils.OrNop(logger)}
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into chunks of at most BatchSize, one request per chunk, and
// concatenates the results in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := e.opts.BatchSize
	if size <= 0 || size > len(texts) {
		size = len(texts)
	}

	ctx, span := tracer.Start(ctx, "embedding.batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("embedding.inputs", len(texts)),
		attribute.Int("embedding.batch_size", size),
	)

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		input := make([]string, end-start)
		for i, t := range texts[start:end] {
			input[i] = e.prepare(t)
		}
		vecs, err := e.client.CreateEmbeddings(ctx, e.opts.Model, e.opts.Dimensions, input)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(input) {
			return nil, errors.New("embedding count mismatch")
		}
		out = append(out, vecs...)
	}
	e.logger.Debug("Embedded batch",
		zap.Int("inputs", len(texts)),
		zap.Int("requests", (len(texts)+size-1)/size))
	return out, nil
}

func (e *OpenAIEmbedder) prepare(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if e.opts.MaxInputChars > 0 {
		text = utils.TruncateRunes(text, e.opts.MaxInputChars)
	}
	if strings.TrimSpace(text) == "" {
		return " "
	}
	return text
}

// Dimensions returns the configured vector length.
func (e *OpenAIEmbedder) Dimensions() int { return e.opts.Dimensions }

// Model identifies the vector space as name@dimensions; requests send the bare name.
func (e *OpenAIEmbedder) Model() string { return fmt.Sprintf("%s@%d", e.opts.Model, e.opts.Dimensions) }

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error { return nil }
