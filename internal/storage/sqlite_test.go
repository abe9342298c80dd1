package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/callscope/internal/models"
)

func newTestStore(t *testing.T, collection string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "test.db"), collection)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func point(id, text, model string, vec ...float32) *models.IndexPoint {
	return &models.IndexPoint{ID: id, Vector: vec, Payload: models.Payload{
		TranscriptID:   id,
		Text:           text,
		EmbeddingModel: model,
		IndexedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata:       map[string]string{"turns": "4"},
	}}
}

func TestSQLiteStore_UpsertAndQuery(t *testing.T) {
	store := newTestStore(t, "calls")
	ctx := context.Background()

	if h, _ := store.Health(ctx); h != models.HealthDegraded {
		t.Errorf("health before collection = %s, want degraded", h)
	}
	if err := store.Upsert(ctx, []*models.IndexPoint{point("a", "x", "m", 1, 0)}); err == nil {
		t.Error("expected error upserting into a missing collection")
	}
	if err := store.EnsureCollection(ctx, 2); err != nil {
		t.Fatal(err)
	}
	err := store.Upsert(ctx, []*models.IndexPoint{
		point("a", "Internet no funciona", "m", 1, 0),
		point("b", "cobro duplicado en boleta", "m", 0, 1),
		point("c", "internet lento", "m", 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := store.QueryByVector(ctx, []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "c" {
		t.Errorf("hits = %+v, want a then c (tie broken by id)", hits)
	}
	if hits[0].Score < -1 || hits[0].Score > 1 {
		t.Errorf("score out of range: %v", hits[0].Score)
	}

	ids, err := store.QueryByKeyword(ctx, "INTERNET", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("keyword ids = %v, want [a c]", ids)
	}
	ids, _ = store.QueryByKeyword(ctx, "ternet", 1)
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("substring ids = %v, want [a]", ids)
	}

	if h, _ := store.Health(ctx); h != models.HealthConnected {
		t.Errorf("health = %s, want connected", h)
	}
}

func TestSQLiteStore_UpsertIsIdempotentByID(t *testing.T) {
	store := newTestStore(t, "calls")
	ctx := context.Background()
	store.EnsureCollection(ctx, 2)
	for i := 0; i < 2; i++ {
		if err := store.Upsert(ctx, []*models.IndexPoint{point("a", "v1", "m", 1, 0)}); err != nil {
			t.Fatal(err)
		}
	}
	store.Upsert(ctx, []*models.IndexPoint{point("a", "v2", "m", 0, 1)})
	n, _ := store.Count(ctx)
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	p, err := store.GetPayload(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "v2" || p.SearchText != "v2" || p.Metadata["turns"] != "4" || p.IndexedAt.IsZero() {
		t.Errorf("payload = %+v", p)
	}
}

func TestSQLiteStore_GetPayloadNotFound(t *testing.T) {
	store := newTestStore(t, "calls")
	_, err := store.GetPayload(context.Background(), "missing_id")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing_id" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSQLiteStore_CollectionsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	one, err := NewSQLiteStore(path, "one")
	if err != nil {
		t.Fatal(err)
	}
	defer one.Close()
	two, err := NewSQLiteStore(path, "two")
	if err != nil {
		t.Fatal(err)
	}
	defer two.Close()

	one.EnsureCollection(ctx, 2)
	two.EnsureCollection(ctx, 2)
	one.Upsert(ctx, []*models.IndexPoint{point("a", "hola", "m", 1, 0)})
	if n, _ := two.Count(ctx); n != 0 {
		t.Errorf("collection two sees %d points", n)
	}
	if err := one.ReplaceAll(ctx, 3, nil); err != nil {
		t.Fatal(err)
	}
	if n, _ := one.Count(ctx); n != 0 {
		t.Errorf("count after replace = %d", n)
	}
	if err := one.Upsert(ctx, []*models.IndexPoint{point("a", "hola", "m", 1, 0)}); err == nil {
		t.Error("expected dimension mismatch after replace with 3 dims")
	}
}

func TestSQLiteStore_ReplaceAll(t *testing.T) {
	store := newTestStore(t, "calls")
	ctx := context.Background()
	store.EnsureCollection(ctx, 2)
	store.Upsert(ctx, []*models.IndexPoint{
		point("a", "x", "m", 1, 0),
		point("b", "y", "m", 0, 1),
	})

	if err := store.ReplaceAll(ctx, 2, []*models.IndexPoint{point("c", "z", "m", 1, 1)}); err != nil {
		t.Fatal(err)
	}
	found, err := store.ExistingIDs(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if found["a"] || found["b"] || !found["c"] {
		t.Errorf("after replace found = %v", found)
	}
}

func TestSQLiteStore_ReplaceAllRollsBackOnError(t *testing.T) {
	store := newTestStore(t, "calls")
	ctx := context.Background()
	store.EnsureCollection(ctx, 2)
	store.Upsert(ctx, []*models.IndexPoint{
		point("a", "x", "m", 1, 0),
		point("b", "y", "m", 0, 1),
		point("c", "z", "m", 1, 1),
	})

	err := store.ReplaceAll(ctx, 2, []*models.IndexPoint{
		point("d", "w", "m", 1, 0),
		point("e", "v", "m", 1, 0, 0),
	})
	if err == nil {
		t.Fatal("expected dimension mismatch")
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("count after failed replace = %d, want 3", n)
	}
	if _, err := store.GetPayload(ctx, "d"); err == nil {
		t.Error("point from failed replace is visible")
	}
	if err := store.Upsert(ctx, []*models.IndexPoint{point("f", "u", "m", 0, 1)}); err != nil {
		t.Errorf("dimensions changed by failed replace: %v", err)
	}
}

func TestSQLiteStore_ExistingIDsAndModels(t *testing.T) {
	store := newTestStore(t, "calls")
	ctx := context.Background()
	store.EnsureCollection(ctx, 2)
	store.Upsert(ctx, []*models.IndexPoint{
		point("a", "x", "old", 1, 0),
		point("b", "y", "new", 0, 1),
	})
	found, err := store.ExistingIDs(ctx, []string{"a", "z", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if !found["a"] || !found["b"] || found["z"] {
		t.Errorf("found = %v", found)
	}
	n, err := store.CountOtherModels(ctx, "new")
	if err != nil || n != 1 {
		t.Errorf("CountOtherModels = %d, %v; want 1", n, err)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", "calls")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	store.EnsureCollection(ctx, 2)
	store.Upsert(ctx, []*models.IndexPoint{point("a", "x", "m", 1, 0)})
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if used, _ := store.DiskUsage(); used != 0 {
		t.Errorf("disk usage = %d for in-memory db", used)
	}
}

func TestSQLiteStore_DiskUsage(t *testing.T) {
	store := newTestStore(t, "calls")
	ctx := context.Background()
	store.EnsureCollection(ctx, 2)
	store.Upsert(ctx, []*models.IndexPoint{point("a", "x", "m", 1, 0)})
	used, err := store.DiskUsage()
	if err != nil {
		t.Fatal(err)
	}
	if used <= 0 {
		t.Errorf("disk usage = %d, want > 0", used)
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out := bytesToFloat32Slice(float32SliceToBytes(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("got %v, want %v", out, in)
		}
	}
}
