package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/openai"
	"github.com/hyperjump/callscope/pkg/utils"
)

const (
	defaultMaxInputChars = 4000
	defaultWorkers       = 4
	// SimulatedModel is reported as the model of simulated results.
	SimulatedModel = "simulated"
)

var tracer = otel.Tracer("github.com/hyperjump/callscope/internal/enrich")

// PayloadSource resolves a transcript id to its stored payload.
type PayloadSource interface {
	GetPayload(ctx context.Context, id string) (*models.Payload, error)
}

// Redactor anonymizes raw text before it reaches the language model.
type Redactor interface {
	Anonymize(text string) string
}

// Completer is the language model capability.
type Completer interface {
	ChatCompletion(ctx context.Context, req openai.ChatRequest) (string, error)
}

// Orchestrator runs enrichment requests. Requests are independent: concurrent calls only
// share the completer's rate limit.
type Orchestrator struct {
	payloads      PayloadSource
	redactor      Redactor
	completer     Completer
	callsEnabled  bool
	model         string
	tasks         map[models.EnrichKind]Task
	maxInputChars int
	workers       int
	logger        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithModel sets the chat model name sent to the completer.
func WithModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// WithTask registers t, replacing any task of the same kind.
func WithTask(t Task) Option {
	return func(o *Orchestrator) { o.tasks[t.Kind()] = t }
}

// WithMaxInputChars caps the transcript text placed in prompts, in runes.
func WithMaxInputChars(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxInputChars = n
		}
	}
}

// WithWorkers bounds how many requests EnrichBatch runs at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// New returns an orchestrator. callsEnabled is the process-wide switch: when false the
// completer is never called and may be nil. Both topic and classification tasks must be
// registered through WithTask.
func New(payloads PayloadSource, redactor Redactor, completer Completer, callsEnabled bool, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		payloads:      payloads,
		redactor:      redactor,
		completer:     completer,
		callsEnabled:  callsEnabled,
		tasks:         make(map[models.EnrichKind]Task),
		maxInputChars: defaultMaxInputChars,
		workers:       defaultWorkers,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = utils.OrNop(o.logger)
	if payloads == nil || redactor == nil {
		return nil, errors.New("enrich: payload source and redactor are required")
	}
	if callsEnabled && completer == nil {
		return nil, errors.New("enrich: language model calls are enabled but no completer is configured")
	}
	for _, kind := range []models.EnrichKind{models.EnrichTopics, models.EnrichClassify} {
		if _, ok := o.tasks[kind]; !ok {
			return nil, fmt.Errorf("enrich: no task registered for %s", kind)
		}
	}
	return o, nil
}

// CallsEnabled reports whether real language model calls are made.
func (o *Orchestrator) CallsEnabled() bool { return o.callsEnabled }

// Enrich resolves the request text, then either simulates the answer or asks the
// language model and parses its output. Output that fails to parse gets one stricter
// re-prompt before failing with *models.UpstreamFormatError.
func (o *Orchestrator) Enrich(ctx context.Context, req models.EnrichRequest) (*models.EnrichmentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	task := o.tasks[req.Kind]

	ctx, span := tracer.Start(ctx, "enrich.Enrich")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(req.Kind)), attribute.Bool("calls_enabled", o.callsEnabled))

	text, err := o.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var res *models.EnrichmentResult
	if !o.callsEnabled {
		res = task.Simulate(text)
		res.Model = SimulatedModel
	} else {
		res, err = o.call(ctx, task, text)
		if err != nil {
			span.RecordError(err)
			o.logger.Warn("enrichment failed",
				zap.String("kind", string(req.Kind)),
				zap.String("transcript_id", req.TranscriptID),
				zap.Error(err))
			return nil, err
		}
		res.Model = o.model
	}
	res.Kind = req.Kind
	res.TranscriptID = strings.TrimSpace(req.TranscriptID)
	o.logger.Debug("enrichment done",
		zap.String("kind", string(req.Kind)),
		zap.String("transcript_id", res.TranscriptID),
		zap.Bool("simulated", res.Simulated))
	return res, nil
}

// resolve returns anonymized text for the request, truncated for prompting.
func (o *Orchestrator) resolve(ctx context.Context, req models.EnrichRequest) (string, error) {
	var text string
	if id := strings.TrimSpace(req.TranscriptID); id != "" {
		p, err := o.payloads.GetPayload(ctx, id)
		if err != nil {
			return "", err
		}
		text = p.Text
	} else {
		text = o.redactor.Anonymize(req.Text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &models.ValidationError{Field: "text", Reason: "transcript text is empty"}
	}
	return utils.TruncateRunes(text, o.maxInputChars), nil
}

func (o *Orchestrator) call(ctx context.Context, task Task, text string) (*models.EnrichmentResult, error) {
	out, err := o.complete(ctx, task, task.Prompt(text))
	if err != nil {
		return nil, err
	}
	res, perr := task.Parse(out)
	if perr == nil {
		return res, nil
	}
	o.logger.Debug("model output rejected, re-prompting",
		zap.String("kind", string(task.Kind())),
		zap.Int("output_len", len(out)),
		zap.NamedError("reason", perr))

	out, err = o.complete(ctx, task, task.StrictPrompt(text, out))
	if err != nil {
		return nil, err
	}
	res, perr = task.Parse(out)
	if perr != nil {
		return nil, &models.UpstreamFormatError{Task: string(task.Kind()), Output: out}
	}
	return res, nil
}

func (o *Orchestrator) complete(ctx context.Context, task Task, prompt string) (string, error) {
	p := task.Params()
	return o.completer.ChatCompletion(ctx, openai.ChatRequest{
		Model:       o.model,
		Messages:    []openai.Message{{Role: "user", Content: prompt}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
}

// BatchItem is the outcome of one request in EnrichBatch.
type BatchItem struct {
	Request models.EnrichRequest
	Result  *models.EnrichmentResult
	Err     error
}

// EnrichBatch runs reqs with bounded concurrency and returns outcomes in request order.
// A failing request does not stop the others.
func (o *Orchestrator) EnrichBatch(ctx context.Context, reqs []models.EnrichRequest) []BatchItem {
	out := make([]BatchItem, len(reqs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)
	for i, req := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req models.EnrichRequest) {
			defer func() { <-sem; wg.Done() }()
			res, err := o.Enrich(ctx, req)
			out[i] = BatchItem{Request: req, Result: res, Err: err}
		}(i, req)
	}
	wg.Wait()
	return out
}
