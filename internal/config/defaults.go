package config

import "time"

// DefaultCategories is the closed category set used for classification when the config
// does not provide one.
var DefaultCategories = []string{
	"Problemas Técnicos",
	"Soporte Comercial",
	"Solicitudes Administrativas",
	"Consultas Generales",
	"Reclamos",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendSQLite
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "transcripts_prod"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "./data/callscope.db"
	}
	if cfg.Store.UpsertBatchSize == 0 {
		cfg.Store.UpsertBatchSize = 64
	}
	if cfg.Store.PayloadMaxChars == 0 {
		cfg.Store.PayloadMaxChars = 20000
	}
	if cfg.Store.Qdrant.Host == "" {
		cfg.Store.Qdrant.Host = "localhost"
	}
	if cfg.Store.Qdrant.Port == 0 {
		cfg.Store.Qdrant.Port = 6334
	}
	if cfg.Store.Qdrant.Timeout == 0 {
		cfg.Store.Qdrant.Timeout = 10 * time.Second
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 2048
	}
	if cfg.Embedding.MaxInputChars == 0 {
		cfg.Embedding.MaxInputChars = 8000
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 3
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 3
	}
	if cfg.LLM.MaxInputChars == 0 {
		cfg.LLM.MaxInputChars = 4000
	}
	if cfg.LLM.Workers == 0 {
		cfg.LLM.Workers = 4
	}
	applyTaskDefaults(&cfg.LLM.Topics, 50, 0.1)
	applyTaskDefaults(&cfg.LLM.Classify, 20, 0.0)
	if len(cfg.LLM.Categories) == 0 {
		cfg.LLM.Categories = append([]string(nil), DefaultCategories...)
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	if cfg.Watch.RetryInterval == 0 {
		cfg.Watch.RetryInterval = 10 * time.Second
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

func applyTaskDefaults(t *TaskConfig, maxTokens int, temperature float64) {
	if t.MaxTokens == 0 {
		t.MaxTokens = maxTokens
	}
	if t.Temperature == nil {
		t.Temperature = &temperature
	}
}
