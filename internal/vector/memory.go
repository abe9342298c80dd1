package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/pkg/utils"
)

// MemoryStore is an in-process Store using brute-force cosine search. It backs tests
// and small demo corpora; nothing survives a restart.
type MemoryStore struct {
	collection string
	mu         sync.RWMutex
	exists     bool
	dimensions int
	points     map[string]*models.IndexPoint
}

// NewMemoryStore returns an empty store for collection.
func NewMemoryStore(collection string) *MemoryStore {
	return &MemoryStore{collection: collection, points: make(map[string]*models.IndexPoint)}
}

func (m *MemoryStore) Backend() string    { return "memory" }
func (m *MemoryStore) Collection() string { return m.collection }

// EnsureCollection creates the collection if it does not exist.
func (m *MemoryStore) EnsureCollection(_ context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		m.exists = true
		m.dimensions = dims
	}
	return nil
}

// ReplaceAll builds the new point set aside and swaps it in under the lock.
func (m *MemoryStore) ReplaceAll(_ context.Context, dims int, points []*models.IndexPoint) error {
	if dims <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	next := make(map[string]*models.IndexPoint, len(points))
	if err := copyPoints(next, dims, points); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = next
	m.exists = true
	m.dimensions = dims
	return nil
}

// Upsert stores copies of points, replacing any with the same id.
func (m *MemoryStore) Upsert(_ context.Context, points []*models.IndexPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return fmt.Errorf("collection %s does not exist", m.collection)
	}
	return copyPoints(m.points, m.dimensions, points)
}

// copyPoints validates every point before writing any of them into dst.
func copyPoints(dst map[string]*models.IndexPoint, dims int, points []*models.IndexPoint) error {
	for _, p := range points {
		if len(p.Vector) != dims {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", p.ID, len(p.Vector), dims)
		}
	}
	for _, p := range points {
		cp := &models.IndexPoint{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: p.Payload}
		if cp.Payload.SearchText == "" {
			cp.Payload.SearchText = strings.ToLower(cp.Payload.Text)
		}
		dst[p.ID] = cp
	}
	return nil
}

// QueryByVector scores every point by cosine similarity.
func (m *MemoryStore) QueryByVector(_ context.Context, vector []float32, topN int) ([]models.ScoredID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topN <= 0 || len(m.points) == 0 {
		return nil, nil
	}
	hits := make([]models.ScoredID, 0, len(m.points))
	for id, p := range m.points {
		hits = append(hits, models.ScoredID{ID: id, Score: utils.Cosine(vector, p.Vector)})
	}
	models.SortScored(hits)
	if len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

// QueryByKeyword returns ids whose search text contains term.
func (m *MemoryStore) QueryByKeyword(_ context.Context, term string, topN int) ([]string, error) {
	term = strings.ToLower(term)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if topN <= 0 || term == "" {
		return nil, nil
	}
	var ids []string
	for id, p := range m.points {
		if strings.Contains(p.Payload.SearchText, term) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > topN {
		ids = ids[:topN]
	}
	return ids, nil
}

// GetPayload returns a copy of the stored payload.
func (m *MemoryStore) GetPayload(_ context.Context, id string) (*models.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	if !ok {
		return nil, &models.NotFoundError{ID: id}
	}
	payload := p.Payload
	return &payload, nil
}

func (m *MemoryStore) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.points[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points), nil
}

func (m *MemoryStore) CountOtherModels(_ context.Context, model string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.points {
		if p.Payload.EmbeddingModel != model {
			n++
		}
	}
	return n, nil
}

// Health is connected once the collection exists and degraded before.
func (m *MemoryStore) Health(_ context.Context) (models.Health, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return models.HealthDegraded, nil
	}
	return models.HealthConnected, nil
}

func (m *MemoryStore) Close() error { return nil }
