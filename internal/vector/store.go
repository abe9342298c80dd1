// Package vector defines the vector store contract used by the indexer, the search
// engine and the enrichment orchestrator, with in-memory and Qdrant implementations.
package vector

import (
	"context"

	"github.com/hyperjump/callscope/internal/models"
)

// Store is a collection of index points keyed by transcript id.
//
// QueryByVector returns at most topN hits ordered by descending cosine similarity with
// ties broken by ascending id. QueryByKeyword returns at most topN ids whose payload
// text contains term case-insensitively, in ascending id order. Neither returns an id
// that was never upserted.
type Store interface {
	// Backend names the implementation ("memory", "sqlite", "qdrant").
	Backend() string
	Collection() string
	// EnsureCollection creates the collection for vectors of dims length if it is missing.
	EnsureCollection(ctx context.Context, dims int) error
	// ReplaceAll swaps the whole collection for points, recreated for vectors of dims
	// length. On error the previous contents are left as they were.
	ReplaceAll(ctx context.Context, dims int, points []*models.IndexPoint) error
	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, points []*models.IndexPoint) error
	QueryByVector(ctx context.Context, vector []float32, topN int) ([]models.ScoredID, error)
	QueryByKeyword(ctx context.Context, term string, topN int) ([]string, error)
	// GetPayload returns the payload stored for id, or a *models.NotFoundError.
	GetPayload(ctx context.Context, id string) (*models.Payload, error)
	// ExistingIDs reports which of ids are already stored.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Count(ctx context.Context) (int, error)
	// CountOtherModels counts points embedded by any model other than model.
	CountOtherModels(ctx context.Context, model string) (int, error)
	Health(ctx context.Context) (models.Health, error)
	Close() error
}
