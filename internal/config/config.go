// Package config provides configuration loading and structs for the callscope service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Anonymize AnonymizeConfig `yaml:"anonymize"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Backend         string       `yaml:"backend"`
	Collection      string       `yaml:"collection"`
	SQLitePath      string       `yaml:"sqlite_path"`
	UpsertBatchSize int          `yaml:"upsert_batch_size"`
	PayloadMaxChars int          `yaml:"payload_max_chars"`
	Qdrant          QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	APIKey  string        `yaml:"api_key"`
	UseTLS  bool          `yaml:"use_tls"`
	Timeout time.Duration `yaml:"timeout"`
}

// OpenAIConfig holds credentials shared by the embedding and chat clients.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Embedding providers. An empty provider picks openai when an API key is configured
// and lexicon otherwise.
const (
	ProviderOpenAI  = "openai"
	ProviderLexicon = "lexicon"
	ProviderMock    = "mock"
)

// EmbeddingConfig holds embedding client settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
	MaxInputChars     int           `yaml:"max_input_chars"`
}

// ResolvedProvider returns the provider to use given the configured API key.
func (e *EmbeddingConfig) ResolvedProvider(apiKey string) string {
	if e.Provider != "" {
		return e.Provider
	}
	if apiKey != "" {
		return ProviderOpenAI
	}
	return ProviderLexicon
}

// LLMConfig holds enrichment settings. CallsEnabled is the process-wide switch between
// real language model calls and simulated results.
type LLMConfig struct {
	CallsEnabled      bool          `yaml:"calls_enabled"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	Workers           int           `yaml:"workers"`
	Topics            TaskConfig    `yaml:"topics"`
	Classify          TaskConfig    `yaml:"classify"`
	Categories        []string      `yaml:"categories"`
}

// TaskConfig holds per-task completion parameters.
type TaskConfig struct {
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// AnonymizeConfig holds anonymizer settings.
type AnonymizeConfig struct {
	Names []string `yaml:"names"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories   []string      `yaml:"directories"`
	Extensions    []string      `yaml:"extensions"`
	Recursive     *bool         `yaml:"recursive"`
	Debounce      time.Duration `yaml:"debounce"`
	// RetryInterval is how often files deferred by a busy or conflicting rebuild are
	// tried again.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.SQLitePath = expandPath(cfg.Store.SQLitePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with every default applied, for running without a file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment. It is called once at startup, after
// any .env file has been loaded.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		cfg.OpenAI.APIKey = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("ENABLE_OPENAI_CALLS"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ENABLE_OPENAI_CALLS: %w", err)
		}
		cfg.LLM.CallsEnabled = enabled
	}
	if v, ok := os.LookupEnv("QDRANT_HOST"); ok && v != "" {
		cfg.Store.Qdrant.Host = v
	}
	if v, ok := os.LookupEnv("QDRANT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QDRANT_PORT: %w", err)
		}
		cfg.Store.Qdrant.Port = port
	}
	if v, ok := os.LookupEnv("QDRANT_API_KEY"); ok {
		cfg.Store.Qdrant.APIKey = v
	}
	if v, ok := os.LookupEnv("QDRANT_COLLECTION"); ok && v != "" {
		cfg.Store.Collection = v
	}
	if v, ok := os.LookupEnv("CALLSCOPE_STORE"); ok && v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	return nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.CallsEnabled && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("llm.calls_enabled requires an OpenAI API key"))
	}
	switch c.Embedding.ResolvedProvider(c.OpenAI.APIKey) {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("embedding provider openai requires an OpenAI API key"))
		}
	case ProviderLexicon, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendQdrant:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection must be set"))
	}
	if len(c.LLM.Categories) == 0 {
		errs = append(errs, errors.New("llm.categories must not be empty"))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
