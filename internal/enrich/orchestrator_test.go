package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/callscope/internal/anonymize"
	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/openai"
	"github.com/hyperjump/callscope/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCompleter struct {
	mu       sync.Mutex
	outputs  []string
	err      error
	requests []openai.ChatRequest
}

func (f *fakeCompleter) ChatCompletion(_ context.Context, req openai.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.outputs) == 0 {
		return "", errors.New("no scripted output")
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func seededStore(t *testing.T) *vector.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := vector.NewMemoryStore("enrich_test")
	require.NoError(t, store.EnsureCollection(ctx, 2))
	require.NoError(t, store.Upsert(ctx, []*models.IndexPoint{{
		ID:     "sample_01",
		Vector: []float32{1, 0},
		Payload: models.Payload{
			TranscriptID: "sample_01",
			Text:         "Cliente <PERSONA> reporta que internet no funciona y pide visita técnica",
		},
	}}))
	return store
}

func newOrchestrator(t *testing.T, completer Completer, callsEnabled bool) *Orchestrator {
	t.Helper()
	classify, err := NewClassifyTask(config.DefaultCategories, Params{MaxTokens: 20})
	require.NoError(t, err)
	o, err := New(seededStore(t), anonymize.New(), completer, callsEnabled,
		WithLogger(zap.NewNop()),
		WithModel("gpt-4o-mini"),
		WithTask(NewTopicsTask(Params{MaxTokens: 50, Temperature: 0.1})),
		WithTask(classify),
	)
	require.NoError(t, err)
	return o
}

func TestNew_requirements(t *testing.T) {
	store := seededStore(t)
	topics := WithTask(NewTopicsTask(Params{}))
	classify, err := NewClassifyTask([]string{"A"}, Params{})
	require.NoError(t, err)

	_, err = New(store, anonymize.New(), nil, true, topics, WithTask(classify))
	assert.Error(t, err, "calls enabled without completer")

	_, err = New(store, anonymize.New(), nil, false, topics)
	assert.Error(t, err, "classification task missing")

	_, err = New(nil, anonymize.New(), nil, false, topics, WithTask(classify))
	assert.Error(t, err, "payload source missing")

	o, err := New(store, anonymize.New(), nil, false, topics, WithTask(classify))
	require.NoError(t, err)
	assert.False(t, o.CallsEnabled())
}

func TestEnrich_validation(t *testing.T) {
	completer := &fakeCompleter{}
	o := newOrchestrator(t, completer, true)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.EnrichRequest
	}{
		{"both", models.EnrichRequest{Kind: models.EnrichTopics, TranscriptID: "sample_01", Text: "hola"}},
		{"neither", models.EnrichRequest{Kind: models.EnrichClassify}},
		{"unknown kind", models.EnrichRequest{Kind: "summary", Text: "hola"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Enrich(ctx, tt.req)
			var verr *models.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
	assert.Zero(t, completer.calls(), "validation failures must not reach the model")
}

func TestEnrich_notFound(t *testing.T) {
	completer := &fakeCompleter{}
	o := newOrchestrator(t, completer, true)
	_, err := o.Enrich(context.Background(), models.EnrichRequest{Kind: models.EnrichClassify, TranscriptID: "missing_id"})
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing_id", nf.ID)
	assert.Zero(t, completer.calls())
}

func TestEnrich_simulation(t *testing.T) {
	completer := &fakeCompleter{}
	o := newOrchestrator(t, completer, false)
	ctx := context.Background()
	req := models.EnrichRequest{Kind: models.EnrichTopics, Text: "X"}

	first, err := o.Enrich(ctx, req)
	require.NoError(t, err)
	second, err := o.Enrich(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.Simulated)
	assert.Equal(t, SimulatedModel, first.Model)
	assert.GreaterOrEqual(t, len(first.Topics), 2)
	assert.LessOrEqual(t, len(first.Topics), 3)
	for _, topic := range first.Topics {
		assert.Contains(t, SimulatedTopics, topic)
	}

	cls, err := o.Enrich(ctx, models.EnrichRequest{Kind: models.EnrichClassify, TranscriptID: "sample_01"})
	require.NoError(t, err)
	assert.True(t, cls.Simulated)
	assert.Contains(t, config.DefaultCategories, cls.Category)
	assert.Equal(t, "sample_01", cls.TranscriptID)

	assert.Zero(t, completer.calls(), "simulation must not call the model")
}

func TestEnrich_realCall(t *testing.T) {
	completer := &fakeCompleter{outputs: []string{"Conectividad, Visita técnica", "Problemas Técnicos."}}
	o := newOrchestrator(t, completer, true)
	ctx := context.Background()

	topics, err := o.Enrich(ctx, models.EnrichRequest{Kind: models.EnrichTopics, TranscriptID: "sample_01"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Conectividad", "Visita técnica"}, topics.Topics)
	assert.False(t, topics.Simulated)
	assert.Equal(t, "gpt-4o-mini", topics.Model)

	cls, err := o.Enrich(ctx, models.EnrichRequest{Kind: models.EnrichClassify, Text: "no me funciona el router"})
	require.NoError(t, err)
	assert.Equal(t, "Problemas Técnicos", cls.Category)

	require.Len(t, completer.requests, 2)
	first := completer.requests[0]
	assert.Equal(t, 50, first.MaxTokens)
	assert.Equal(t, 0.1, first.Temperature)
	assert.Contains(t, first.Messages[0].Content, "internet no funciona")
	assert.True(t, strings.HasSuffix(first.Messages[0].Content, "Temas principales:"))
	assert.Contains(t, completer.requests[1].Messages[0].Content, "Reclamos")
}

func TestEnrich_rawTextIsAnonymized(t *testing.T) {
	completer := &fakeCompleter{outputs: []string{"Facturación, Cobro duplicado"}}
	o := newOrchestrator(t, completer, true)

	_, err := o.Enrich(context.Background(), models.EnrichRequest{
		Kind: models.EnrichTopics,
		Text: "Me llamo Juan Pérez, mi correo es juan@example.com y me cobraron dos veces",
	})
	require.NoError(t, err)
	require.Len(t, completer.requests, 1)
	prompt := completer.requests[0].Messages[0].Content
	assert.NotContains(t, prompt, "juan@example.com")
	assert.NotContains(t, prompt, "Juan Pérez")
	assert.Contains(t, prompt, "<EMAIL>")
}

func TestEnrich_strictReprompt(t *testing.T) {
	completer := &fakeCompleter{outputs: []string{"No estoy seguro", "Reclamos"}}
	o := newOrchestrator(t, completer, true)

	res, err := o.Enrich(context.Background(), models.EnrichRequest{Kind: models.EnrichClassify, TranscriptID: "sample_01"})
	require.NoError(t, err)
	assert.Equal(t, "Reclamos", res.Category)
	require.Len(t, completer.requests, 2)
	assert.Contains(t, completer.requests[1].Messages[0].Content, "IMPORTANTE")
	assert.Contains(t, completer.requests[1].Messages[0].Content, "No estoy seguro")
}

func TestEnrich_upstreamFormatError(t *testing.T) {
	completer := &fakeCompleter{outputs: []string{"¿Puedes repetir?", "Otra cosa"}}
	o := newOrchestrator(t, completer, true)

	_, err := o.Enrich(context.Background(), models.EnrichRequest{Kind: models.EnrichTopics, TranscriptID: "sample_01"})
	var ferr *models.UpstreamFormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "topics", ferr.Task)
	assert.Equal(t, "Otra cosa", ferr.Output)
	assert.Equal(t, 2, completer.calls(), "exactly one re-prompt")
}

func TestEnrich_hedgedClassificationFails(t *testing.T) {
	completer := &fakeCompleter{outputs: []string{"No es Reclamos", "Podría ser Reclamos pero no estoy seguro"}}
	o := newOrchestrator(t, completer, true)

	res, err := o.Enrich(context.Background(), models.EnrichRequest{Kind: models.EnrichClassify, TranscriptID: "sample_01"})
	var ferr *models.UpstreamFormatError
	require.ErrorAs(t, err, &ferr)
	assert.Nil(t, res)
	assert.Equal(t, "classify", ferr.Task)
	assert.Equal(t, 2, completer.calls())
}

func TestEnrich_externalError(t *testing.T) {
	upstream := &models.ExternalServiceError{Service: "llm", Op: "/chat/completions", Err: errors.New("503")}
	completer := &fakeCompleter{err: upstream}
	o := newOrchestrator(t, completer, true)

	_, err := o.Enrich(context.Background(), models.EnrichRequest{Kind: models.EnrichClassify, TranscriptID: "sample_01"})
	var ext *models.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, 1, completer.calls(), "transport errors are not re-prompted")
}

// barrierCompleter blocks each call until want calls are in flight at once.
type barrierCompleter struct {
	want    int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (b *barrierCompleter) ChatCompletion(ctx context.Context, _ openai.ChatRequest) (string, error) {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.want {
		close(b.release)
	}
	b.mu.Unlock()
	select {
	case <-b.release:
		return "Reclamos", nil
	case <-time.After(5 * time.Second):
		return "", errors.New("requests were serialized")
	}
}

func TestEnrichBatch_concurrent(t *testing.T) {
	completer := &barrierCompleter{want: 3, release: make(chan struct{})}
	o := newOrchestrator(t, completer, true)

	reqs := []models.EnrichRequest{
		{Kind: models.EnrichClassify, TranscriptID: "sample_01"},
		{Kind: models.EnrichClassify, TranscriptID: "sample_01"},
		{Kind: models.EnrichClassify, Text: "quiero presentar un reclamo"},
		{Kind: models.EnrichClassify, TranscriptID: "missing"},
	}
	items := o.EnrichBatch(context.Background(), reqs)
	require.Len(t, items, 4)
	for i := 0; i < 3; i++ {
		require.NoError(t, items[i].Err, "item %d", i)
		assert.Equal(t, "Reclamos", items[i].Result.Category)
	}
	var nf *models.NotFoundError
	assert.ErrorAs(t, items[3].Err, &nf)
	assert.Equal(t, reqs[3], items[3].Request)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	o, err := NewFromConfig(cfg, seededStore(t), anonymize.New(), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, o.CallsEnabled())

	res, err := o.Enrich(context.Background(), models.EnrichRequest{Kind: models.EnrichClassify, Text: "hola"})
	require.NoError(t, err)
	assert.True(t, res.Simulated)

	cfg.LLM.Categories = nil
	_, err = NewFromConfig(cfg, seededStore(t), anonymize.New(), zap.NewNop())
	assert.Error(t, err)
}
