// Package indexer builds the transcript index: clean, anonymize, embed and upsert.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/callscope/internal/anonymize"
	"github.com/hyperjump/callscope/internal/embedding"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/transcript"
	"github.com/hyperjump/callscope/internal/vector"
	"github.com/hyperjump/callscope/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultUpsertBatchSize = 64
	defaultPayloadMaxChars = 20000
)

var tracer = otel.Tracer("github.com/hyperjump/callscope/internal/indexer")

// Indexer rebuilds a vector store collection from raw transcripts. Only one rebuild runs
// at a time; read queries may proceed while it does.
type Indexer struct {
	store           vector.Store
	embedder        embedding.Embedder
	anonymizer      *anonymize.Anonymizer
	upsertBatchSize int
	payloadMaxChars int
	logger          *zap.Logger
	now             func() time.Time

	mu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger for rebuild progress.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithUpsertBatchSize sets how many points go into one store upsert.
func WithUpsertBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.upsertBatchSize = n
		}
	}
}

// WithPayloadMaxChars caps the stored payload text, in runes.
func WithPayloadMaxChars(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.payloadMaxChars = n
		}
	}
}

// NewIndexer creates an indexer over store using embedder for vectors and anonymizer for
// redaction.
func NewIndexer(store vector.Store, embedder embedding.Embedder, anonymizer *anonymize.Anonymizer, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:           store,
		embedder:        embedder,
		anonymizer:      anonymizer,
		upsertBatchSize: defaultUpsertBatchSize,
		payloadMaxChars: defaultPayloadMaxChars,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	if idx.anonymizer == nil {
		idx.anonymizer = anonymize.New()
	}
	return idx
}

type prepared struct {
	id   string
	text string
	meta map[string]string
}

// Rebuild indexes records into the store.
//
// With RebuildAbort a non-empty collection is left untouched and a
// *models.CollectionNotEmptyError reports its size. RebuildReplace drops every existing
// point once all embeddings are computed, swapping the whole collection in a single
// store call so a failure keeps the previous contents. RebuildAppend writes only ids the collection
// does not hold yet and refuses a collection embedded by another model.
//
// Records with a missing id, a repeated id or empty text after cleaning and
// anonymization are skipped and counted. Nothing is written when embedding fails.
func (idx *Indexer) Rebuild(ctx context.Context, records []models.Transcript, mode models.RebuildMode) (*models.RebuildReport, error) {
	if !idx.mu.TryLock() {
		return nil, models.ErrRebuildInProgress
	}
	defer idx.mu.Unlock()

	ctx, span := tracer.Start(ctx, "indexer.Rebuild")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)), attribute.Int("records", len(records)))

	report, err := idx.rebuild(ctx, records, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		idx.logger.Warn("index rebuild failed",
			zap.String("collection", idx.store.Collection()),
			zap.String("mode", string(mode)),
			zap.Error(err))
		return nil, err
	}
	return report, nil
}

func (idx *Indexer) rebuild(ctx context.Context, records []models.Transcript, mode models.RebuildMode) (*models.RebuildReport, error) {
	start := idx.now()
	model := idx.embedder.Model()
	report := &models.RebuildReport{
		Collection:     idx.store.Collection(),
		Mode:           mode,
		EmbeddingModel: model,
	}

	existing, err := idx.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	switch mode {
	case models.RebuildAbort:
		if existing > 0 {
			return nil, &models.CollectionNotEmptyError{Collection: idx.store.Collection(), Points: existing}
		}
	case models.RebuildAppend:
		if existing > 0 {
			other, err := idx.store.CountOtherModels(ctx, model)
			if err != nil {
				return nil, err
			}
			if other > 0 {
				return nil, &models.ModelMismatchError{Collection: idx.store.Collection(), Want: model}
			}
		}
	case models.RebuildReplace:
	default:
		return nil, &models.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown rebuild mode %q", mode)}
	}

	candidates := idx.dedupe(records, report)
	if mode == models.RebuildAppend && existing > 0 && len(candidates) > 0 {
		ids := make([]string, len(candidates))
		for i, r := range candidates {
			ids[i] = r.ID
		}
		stored, err := idx.store.ExistingIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		kept := candidates[:0]
		for _, r := range candidates {
			if stored[r.ID] {
				report.Skip(models.SkipExisting)
				continue
			}
			kept = append(kept, r)
		}
		candidates = kept
	}

	items := idx.prepare(candidates, report)
	vectors, err := idx.embed(ctx, items)
	if err != nil {
		return nil, err
	}

	indexedAt := idx.now().UTC()
	points := make([]*models.IndexPoint, len(items))
	for i, it := range items {
		text := utils.TruncateRunes(it.text, idx.payloadMaxChars)
		points[i] = &models.IndexPoint{
			ID:     it.id,
			Vector: vectors[i],
			Payload: models.Payload{
				TranscriptID:   it.id,
				Text:           text,
				SearchText:     strings.ToLower(text),
				EmbeddingModel: model,
				IndexedAt:      indexedAt,
				Metadata:       it.meta,
			},
		}
	}
	if err := idx.write(ctx, mode, points); err != nil {
		return nil, err
	}
	report.Indexed = len(points)

	report.DurationMs = idx.now().Sub(start).Milliseconds()
	idx.logger.Info("index rebuilt",
		zap.String("collection", report.Collection),
		zap.String("mode", string(mode)),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.Skipped),
		zap.String("embedding_model", model),
		zap.Int64("duration_ms", report.DurationMs))
	return report, nil
}

func (idx *Indexer) write(ctx context.Context, mode models.RebuildMode, points []*models.IndexPoint) error {
	dims := idx.embedder.Dimensions()
	if mode == models.RebuildReplace {
		if err := idx.store.ReplaceAll(ctx, dims, points); err != nil {
			return fmt.Errorf("replace collection: %w", err)
		}
		return nil
	}
	if err := idx.store.EnsureCollection(ctx, dims); err != nil {
		return err
	}
	for start := 0; start < len(points); start += idx.upsertBatchSize {
		end := min(start+idx.upsertBatchSize, len(points))
		if err := idx.store.Upsert(ctx, points[start:end]); err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// dedupe drops records without an id and every repeat of an id after its first record.
func (idx *Indexer) dedupe(records []models.Transcript, report *models.RebuildReport) []models.Transcript {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Transcript, 0, len(records))
	for _, r := range records {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			report.Skip(models.SkipMissingID)
			continue
		}
		if _, dup := seen[r.ID]; dup {
			report.Skip(models.SkipDuplicate)
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (idx *Indexer) prepare(records []models.Transcript, report *models.RebuildReport) []prepared {
	out := make([]prepared, 0, len(records))
	hits := make(map[anonymize.Category]int)
	for _, r := range records {
		text, found := idx.anonymizer.AnonymizeWithReport(Clean(r.Text))
		for c, n := range found {
			hits[c] += n
		}
		if strings.TrimSpace(text) == "" {
			report.Skip(models.SkipEmpty)
			idx.logger.Debug("indexer skipping empty transcript", zap.String("id", r.ID))
			continue
		}
		out = append(out, prepared{id: r.ID, text: text, meta: r.Metadata})
	}
	if len(hits) > 0 {
		fields := make([]zap.Field, 0, len(hits))
		for c, n := range hits {
			fields = append(fields, zap.Int(string(c), n))
		}
		idx.logger.Debug("indexer anonymization hits", fields...)
	}
	return out
}

func (idx *Indexer) embed(ctx context.Context, items []prepared) ([][]float32, error) {
	if len(items) == 0 {
		return nil, nil
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(items) {
		return nil, fmt.Errorf("generate embeddings: got %d vectors for %d texts", len(vectors), len(items))
	}
	return vectors, nil
}

// IndexFile parses the call log at path and appends it to the collection. If allowedExts
// is non-empty, the file's extension must be in it. Returns an error if the path is not a
// regular file, cannot be parsed, or the rebuild fails.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) (*models.RebuildReport, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !transcript.ExtensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	t, err := transcript.ParseFile(absPath)
	if err != nil {
		return nil, err
	}
	report, err := idx.Rebuild(ctx, []models.Transcript{*t}, models.RebuildAppend)
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer file indexed",
		zap.String("path", absPath),
		zap.String("id", t.ID),
		zap.Int("indexed", report.Indexed))
	return report, nil
}

// IsConflict reports whether err means the collection state blocked a rebuild rather than
// a failure of the rebuild itself.
func IsConflict(err error) bool {
	var notEmpty *models.CollectionNotEmptyError
	var mismatch *models.ModelMismatchError
	return errors.Is(err, models.ErrRebuildInProgress) || errors.As(err, &notEmpty) || errors.As(err, &mismatch)
}
