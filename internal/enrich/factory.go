package enrich

import (
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/openai"
)

// NewFromConfig builds an orchestrator with both tasks from cfg. An OpenAI chat client is
// created only when calls are enabled.
func NewFromConfig(cfg *config.Config, payloads PayloadSource, redactor Redactor, logger *zap.Logger) (*Orchestrator, error) {
	llm := cfg.LLM
	classify, err := NewClassifyTask(llm.Categories, taskParams(llm.Classify))
	if err != nil {
		return nil, err
	}
	var completer Completer
	if llm.CallsEnabled {
		completer = openai.New("llm", openai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKey:            cfg.OpenAI.APIKey,
			Timeout:           llm.Timeout,
			MaxRetries:        llm.MaxRetries,
			RequestsPerSecond: llm.RequestsPerSecond,
			Burst:             llm.Burst,
		}, openai.WithLogger(logger))
	}
	return New(payloads, redactor, completer, llm.CallsEnabled,
		WithLogger(logger),
		WithModel(llm.Model),
		WithMaxInputChars(llm.MaxInputChars),
		WithWorkers(llm.Workers),
		WithTask(NewTopicsTask(taskParams(llm.Topics))),
		WithTask(classify),
	)
}

func taskParams(t config.TaskConfig) Params {
	p := Params{MaxTokens: t.MaxTokens}
	if t.Temperature != nil {
		p.Temperature = *t.Temperature
	}
	return p
}
