package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/callscope/internal/anonymize"
	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/indexer"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/vector"
)

const sampleCall = "Buenas tardes, le habla Camila Rojas de soporte. Mi RUT es 12.345.678-5 y mi correo " +
	"camila.rojas@example.com. Eh, bueno, el internet no funciona desde ayer y me llegó una boleta " +
	"con un cobro duplicado, ¿sabes? Pueden llamarme al +56 9 8765 4321."

func BenchmarkAnonymize(b *testing.B) {
	a := anonymize.New(anonymize.WithNames("Camila"))
	b.ReportAllocs()
	for b.Loop() {
		_ = a.Anonymize(sampleCall)
	}
}

func BenchmarkClean(b *testing.B) {
	text := strings.Repeat(sampleCall+" ", 20)
	for b.Loop() {
		_ = indexer.Clean(text)
	}
}

func BenchmarkLexiconEmbed(b *testing.B) {
	e := embedding.NewLexiconEmbedder()
	ctx := context.Background()
	for b.Loop() {
		if _, err := e.Embed(ctx, sampleCall); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryStoreQueryByVector(b *testing.B) {
	ctx := context.Background()
	e := embedding.NewMockEmbedder(384)
	store := vector.NewMemoryStore("bench")
	if err := store.EnsureCollection(ctx, e.Dimensions()); err != nil {
		b.Fatal(err)
	}
	points := make([]*models.IndexPoint, 1000)
	for i := range points {
		id := fmt.Sprintf("call-%04d", i)
		vec, _ := e.Embed(ctx, id)
		points[i] = &models.IndexPoint{ID: id, Vector: vec, Payload: models.Payload{TranscriptID: id}}
	}
	if err := store.Upsert(ctx, points); err != nil {
		b.Fatal(err)
	}
	query, _ := e.Embed(ctx, "internet lento")
	for b.Loop() {
		_, _ = store.QueryByVector(ctx, query, models.DefaultTopN)
	}
}

func BenchmarkMemoryStoreQueryByKeyword(b *testing.B) {
	ctx := context.Background()
	store := vector.NewMemoryStore("bench")
	if err := store.EnsureCollection(ctx, 2); err != nil {
		b.Fatal(err)
	}
	points := make([]*models.IndexPoint, 1000)
	for i := range points {
		id := fmt.Sprintf("call-%04d", i)
		text := fmt.Sprintf("llamada %d sobre facturación y planes", i)
		if i%10 == 0 {
			text += " con internet lento"
		}
		points[i] = &models.IndexPoint{ID: id, Vector: []float32{1, 0}, Payload: models.Payload{TranscriptID: id, Text: text, SearchText: text}}
	}
	if err := store.Upsert(ctx, points); err != nil {
		b.Fatal(err)
	}
	for b.Loop() {
		_, _ = store.QueryByKeyword(ctx, "internet", models.MaxTopN)
	}
}
