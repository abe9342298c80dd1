package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
store:
  backend: qdrant
  sqlite_path: "./callscope.db"
  qdrant:
    host: qdrant.internal
    timeout: 3s
llm:
  classify:
    temperature: 0.2
watch:
  directories: ["./inbox"]
  debounce: 1s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Backend != BackendQdrant || cfg.Store.Qdrant.Host != "qdrant.internal" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Store.Qdrant.Timeout != 3*time.Second || cfg.Store.Qdrant.Port != 6334 {
		t.Errorf("unexpected qdrant config: %+v", cfg.Store.Qdrant)
	}
	if want := filepath.Join(dir, "callscope.db"); cfg.Store.SQLitePath != want {
		t.Errorf("sqlite_path = %q, want %q", cfg.Store.SQLitePath, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch dir = %q, want %q", cfg.Watch.Directories[0], want)
	}
	if cfg.Watch.Debounce != time.Second || cfg.Watch.RetryInterval != 10*time.Second || !cfg.Watch.RecursiveOrDefault() {
		t.Errorf("unexpected watch config: %+v", cfg.Watch)
	}
	if *cfg.LLM.Classify.Temperature != 0.2 || cfg.LLM.Classify.MaxTokens != 20 {
		t.Errorf("unexpected classify config: %+v", cfg.LLM.Classify)
	}
	if *cfg.LLM.Topics.Temperature != 0.1 || cfg.LLM.Topics.MaxTokens != 50 {
		t.Errorf("unexpected topics config: %+v", cfg.LLM.Topics)
	}
	if cfg.Debug || cfg.LLM.CallsEnabled {
		t.Error("debug and calls_enabled should default to false when unset")
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Store.Backend != BackendSQLite || cfg.Store.Collection != "transcripts_prod" {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.Dimensions != 1536 {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || len(cfg.LLM.Categories) != 5 {
		t.Errorf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", " sk-env ")
	t.Setenv("ENABLE_OPENAI_CALLS", "true")
	t.Setenv("QDRANT_HOST", "db")
	t.Setenv("QDRANT_PORT", "7334")
	t.Setenv("QDRANT_COLLECTION", "calls_test")
	t.Setenv("CALLSCOPE_STORE", "QDRANT")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.OpenAI.APIKey != "sk-env" || !cfg.LLM.CallsEnabled {
		t.Errorf("openai env not applied: %+v %+v", cfg.OpenAI, cfg.LLM.CallsEnabled)
	}
	if cfg.Store.Qdrant.Host != "db" || cfg.Store.Qdrant.Port != 7334 {
		t.Errorf("qdrant env not applied: %+v", cfg.Store.Qdrant)
	}
	if cfg.Store.Collection != "calls_test" || cfg.Store.Backend != BackendQdrant {
		t.Errorf("store env not applied: %+v", cfg.Store)
	}
	if cfg.Embedding.ResolvedProvider(cfg.OpenAI.APIKey) != ProviderOpenAI {
		t.Error("expected openai embeddings when an API key is present")
	}
}

func TestApplyEnv_invalid(t *testing.T) {
	t.Setenv("ENABLE_OPENAI_CALLS", "maybe")
	if err := ApplyEnv(Default()); err == nil {
		t.Fatal("expected error for unparseable ENABLE_OPENAI_CALLS")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.CallsEnabled = true
	cfg.Store.Backend = "faiss"
	cfg.Embedding.Provider = ProviderOpenAI
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"calls_enabled", "embedding provider openai", "faiss"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Store.Collection = "saved"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Store.Collection != "saved" {
		t.Errorf("collection = %q, want saved", loaded.Store.Collection)
	}
}
