package vector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/callscope/internal/models"
)

func memPoint(id, text, model string, vec ...float32) *models.IndexPoint {
	return &models.IndexPoint{ID: id, Vector: vec, Payload: models.Payload{TranscriptID: id, Text: text, EmbeddingModel: model}}
}

func TestMemoryStore_QueryByVector(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("c")
	if h, _ := s.Health(ctx); h != models.HealthDegraded {
		t.Errorf("health = %s before EnsureCollection", h)
	}
	if err := s.EnsureCollection(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if hits, err := s.QueryByVector(ctx, []float32{1, 0, 0}, 5); err != nil || len(hits) != 0 {
		t.Fatalf("empty store: %v, %v", hits, err)
	}
	err := s.Upsert(ctx, []*models.IndexPoint{
		memPoint("b", "", "m", 1, 0, 0),
		memPoint("a", "", "m", 1, 0, 0),
		memPoint("c", "", "m", 0, 1, 0),
		memPoint("d", "", "m", -1, 0, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := s.QueryByVector(ctx, []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d", len(hits), len(want))
	}
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("hit %d = %s, want %s", i, hits[i].ID, id)
		}
		if hits[i].Score < -1 || hits[i].Score > 1 {
			t.Errorf("score %v out of range", hits[i].Score)
		}
	}
	if hits, _ := s.QueryByVector(ctx, []float32{-1, 0, 0}, 1); hits[0].ID != "d" || hits[0].Score != 1 {
		t.Errorf("opposite query: %+v", hits)
	}
}

func TestMemoryStore_QueryByKeyword(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("c")
	s.EnsureCollection(ctx, 1)
	var points []*models.IndexPoint
	for i := 9; i >= 0; i-- {
		points = append(points, memPoint(fmt.Sprintf("id_%02d", i), "Internet Lento", "m", 1))
	}
	points = append(points, memPoint("other", "cobro duplicado", "m", 1))
	s.Upsert(ctx, points)

	ids, err := s.QueryByKeyword(ctx, "internet", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "id_00" || ids[2] != "id_02" {
		t.Errorf("ids = %v", ids)
	}
	if ids, _ := s.QueryByKeyword(ctx, "nada", 5); len(ids) != 0 {
		t.Errorf("unexpected match %v", ids)
	}
}

func TestMemoryStore_UpsertValidatesDimensions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("c")
	if err := s.Upsert(ctx, []*models.IndexPoint{memPoint("a", "", "m", 1)}); err == nil {
		t.Error("expected error before EnsureCollection")
	}
	s.EnsureCollection(ctx, 2)
	if err := s.Upsert(ctx, []*models.IndexPoint{memPoint("a", "", "m", 1, 0), memPoint("b", "", "m", 1)}); err == nil {
		t.Error("expected dimension mismatch")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("partial upsert left %d points", n)
	}
}

func TestMemoryStore_PayloadAndModels(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("c")
	s.EnsureCollection(ctx, 1)
	s.Upsert(ctx, []*models.IndexPoint{memPoint("a", "hola", "old", 1), memPoint("b", "chao", "new", 1)})

	p, err := s.GetPayload(ctx, "a")
	if err != nil || p.Text != "hola" {
		t.Fatalf("GetPayload = %+v, %v", p, err)
	}
	var nf *models.NotFoundError
	if _, err := s.GetPayload(ctx, "zzz"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if n, _ := s.CountOtherModels(ctx, "new"); n != 1 {
		t.Errorf("CountOtherModels = %d", n)
	}
	found, _ := s.ExistingIDs(ctx, []string{"a", "x"})
	if !found["a"] || found["x"] {
		t.Errorf("ExistingIDs = %v", found)
	}
	if err := s.ReplaceAll(ctx, 1, []*models.IndexPoint{memPoint("c", "nuevo", "new", 1)}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("count after replace = %d", n)
	}
	if _, err := s.GetPayload(ctx, "a"); !errors.As(err, &nf) {
		t.Errorf("replaced point a still present: %v", err)
	}
}

func TestMemoryStore_ReplaceAllKeepsContentsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("c")
	s.EnsureCollection(ctx, 1)
	s.Upsert(ctx, []*models.IndexPoint{memPoint("a", "hola", "m", 1), memPoint("b", "chao", "m", 1)})

	bad := &models.IndexPoint{ID: "z", Vector: []float32{1, 0}}
	if err := s.ReplaceAll(ctx, 1, []*models.IndexPoint{memPoint("c", "nuevo", "m", 1), bad}); err == nil {
		t.Fatal("expected dimension mismatch")
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("count after failed replace = %d, want 2", n)
	}
	if _, err := s.GetPayload(ctx, "c"); err == nil {
		t.Error("point from failed replace is visible")
	}
}
