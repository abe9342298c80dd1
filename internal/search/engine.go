// Package search provides the hybrid transcript search engine: semantic queries through
// the embedder and vector store, keyword queries straight against the store.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/vector"
	"github.com/hyperjump/callscope/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/hyperjump/callscope/internal/search")

// Engine runs semantic and keyword search over a vector store.
type Engine struct {
	store    vector.Store
	embedder embedding.Embedder
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(store vector.Store, embedder embedding.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{store: store, embedder: embedder}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Search validates query and runs it. Keyword queries never call the embedder. An empty
// corpus yields an empty result list.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(attribute.String("search_type", string(query.Mode)), attribute.Int("top_n", query.TopN))

	var (
		results []*models.SearchResult
		err     error
	)
	switch query.Mode {
	case models.SearchKeyword:
		results, err = e.keyword(ctx, query)
	default:
		results, err = e.semantic(ctx, query)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	took := time.Since(startTime)
	e.logger.Debug("search done",
		zap.String("search_type", string(query.Mode)),
		zap.Int("top_n", query.TopN),
		zap.Int("results", len(results)),
		zap.Duration("took", took))
	return &models.SearchResponse{
		Query:   query.Query,
		Mode:    query.Mode,
		Results: results,
		TookMs:  took.Milliseconds(),
	}, nil
}

func (e *Engine) semantic(ctx context.Context, query *models.SearchQuery) ([]*models.SearchResult, error) {
	n, err := e.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []*models.SearchResult{}, nil
	}
	model := e.embedder.Model()
	other, err := e.store.CountOtherModels(ctx, model)
	if err != nil {
		return nil, err
	}
	if other > 0 {
		return nil, &models.ModelMismatchError{Collection: e.store.Collection(), Want: model}
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	hits, err := e.store.QueryByVector(ctx, queryEmbedding, query.TopN)
	if err != nil {
		return nil, err
	}
	return RankSemantic(hits, query.TopN), nil
}

func (e *Engine) keyword(ctx context.Context, query *models.SearchQuery) ([]*models.SearchResult, error) {
	ids, err := e.store.QueryByKeyword(ctx, NormalizeTerm(query.Query), query.TopN)
	if err != nil {
		return nil, err
	}
	return RankKeyword(ids, query.TopN), nil
}
