package vector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/storage"
)

var _ Store = (*storage.SQLiteStore)(nil)

// NewStore creates the store backend named in cfg.
// Supported backends: "memory", "sqlite" (default), "qdrant".
func NewStore(cfg *config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(cfg.Collection), nil
	case config.BackendSQLite, "":
		s, err := storage.NewSQLiteStore(cfg.SQLitePath, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendQdrant:
		s, err := NewQdrantStore(cfg.Qdrant, cfg.Collection, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: memory, sqlite, qdrant)", cfg.Backend)
	}
}
