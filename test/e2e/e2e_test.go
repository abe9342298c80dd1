package e2e

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/anonymize"
	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/enrich"
	"github.com/hyperjump/callscope/internal/indexer"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/search"
	"github.com/hyperjump/callscope/internal/storage"
	"github.com/hyperjump/callscope/internal/transcript"
)

type harness struct {
	store    *storage.SQLiteStore
	indexer  *indexer.Indexer
	engine   *search.Engine
	enricher *enrich.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "e2e.db"), "calls_e2e")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	embedder := embedding.NewLexiconEmbedder()
	anonymizer := anonymize.New()
	enricher, err := enrich.NewFromConfig(config.Default(), store, anonymizer, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		store:    store,
		indexer:  indexer.NewIndexer(store, embedder, anonymizer, indexer.WithUpsertBatchSize(16)),
		engine:   search.NewEngine(store, embedder),
		enricher: enricher,
	}
}

func resultIDs(resp *models.SearchResponse) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.TranscriptID
	}
	return out
}

func runQueries(t *testing.T, h *harness, c *Corpus) {
	ctx := context.Background()
	for _, kc := range c.KeywordCases {
		t.Run("keyword "+kc.Phrase, func(t *testing.T) {
			resp, err := h.engine.Search(ctx, &models.SearchQuery{Query: kc.Phrase, Mode: models.SearchKeyword, TopN: models.MaxTopN})
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			got := resultIDs(resp)
			if !slices.Equal(got, kc.ExpectedIDs) {
				t.Errorf("phrase %q: got %v, want %v", kc.Phrase, got, kc.ExpectedIDs)
			}
		})
	}
	for _, sc := range c.SemanticCases {
		t.Run("semantic "+sc.Query, func(t *testing.T) {
			resp, err := h.engine.Search(ctx, &models.SearchQuery{Query: sc.Query, Mode: models.SearchSemantic, TopN: 3})
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			want := c.IDsByConcept(sc.Concept)
			if len(resp.Results) != 3 {
				t.Fatalf("query %q: got %d results, want 3", sc.Query, len(resp.Results))
			}
			for _, id := range resultIDs(resp) {
				if !want[id] {
					t.Errorf("query %q: %s is not a %s call (results %v)", sc.Query, id, sc.Concept, resultIDs(resp))
				}
			}
		})
	}
}

func TestE2E_DirectoryIndexingSearch(t *testing.T) {
	c := BuildCorpus()
	dir := t.TempDir()
	for i, call := range c.Calls {
		sub := dir
		if i%2 == 1 {
			sub = filepath.Join(dir, "2024-03")
		}
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(sub, call.ID+".txt"), CallLog(call), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Files outside the allowed extensions are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("[00:00:01] AGENTE: internet"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := transcript.LoadDir(dir, []string{".txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != len(c.Calls) {
		t.Fatalf("loaded %d records, want %d", len(records), len(c.Calls))
	}

	h := newHarness(t)
	ctx := context.Background()
	report, err := h.indexer.Rebuild(ctx, records, models.RebuildAbort)
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != len(c.Calls) || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	t.Logf("indexed %d calls; running %d keyword and %d semantic cases", report.Indexed, len(c.KeywordCases), len(c.SemanticCases))

	runQueries(t, h, c)

	// Agent names are redacted before they reach the store.
	resp, err := h.engine.Search(ctx, &models.SearchQuery{Query: "camila", Mode: models.SearchKeyword, TopN: models.MaxTopN})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("redacted agent name matched %v", resultIDs(resp))
	}
	payload, err := h.store.GetPayload(ctx, c.Calls[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Metadata[transcript.MetaTurns] != "4" || payload.Metadata[transcript.MetaSource] != c.Calls[0].ID+".txt" {
		t.Errorf("metadata = %v", payload.Metadata)
	}
}

func TestE2E_WorkbookIndexingAndEnrichment(t *testing.T) {
	c := BuildCorpus()
	path := filepath.Join(t.TempDir(), "calls.xlsx")
	if err := WriteWorkbook(path, c.Calls); err != nil {
		t.Fatal(err)
	}
	records, err := transcript.LoadXLSX(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != len(c.Calls) {
		t.Fatalf("loaded %d records, want %d", len(records), len(c.Calls))
	}

	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.indexer.Rebuild(ctx, records, models.RebuildReplace); err != nil {
		t.Fatal(err)
	}
	runQueries(t, h, c)

	payload, err := h.store.GetPayload(ctx, c.Calls[5].ID)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Metadata[transcript.MetaDate] != c.Calls[5].Date {
		t.Errorf("date = %q, want %q", payload.Metadata[transcript.MetaDate], c.Calls[5].Date)
	}

	reqs := make([]models.EnrichRequest, len(c.Calls))
	for i, call := range c.Calls {
		reqs[i] = models.EnrichRequest{Kind: models.EnrichClassify, TranscriptID: call.ID}
	}
	items := h.enricher.EnrichBatch(ctx, reqs)
	if len(items) != len(reqs) {
		t.Fatalf("batch returned %d items, want %d", len(items), len(reqs))
	}
	for i, item := range items {
		if item.Err != nil {
			t.Errorf("%s: %v", reqs[i].TranscriptID, item.Err)
			continue
		}
		if item.Request.TranscriptID != reqs[i].TranscriptID || item.Result.Category == "" || !item.Result.Simulated {
			t.Errorf("item %d = %+v", i, item)
		}
	}
}
