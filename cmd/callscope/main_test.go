package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"internet lento", "-top", "3"},
			expected: []string{"-top", "3", "internet lento"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-mode", "keyword", "boleta"},
			expected: []string{"-mode", "keyword", "boleta"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"cobro duplicado"},
			expected: []string{"cobro duplicado"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"problemas", "de", "conexión", "-json"},
			expected: []string{"-json", "problemas", "de", "conexión"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"internet"}, "internet"},
		{"multiple words", []string{"cobro", "duplicado"}, "cobro duplicado"},
		{"single quoted phrase", []string{"cobro duplicado"}, "cobro duplicado"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "ENABLE_OPENAI_CALLS", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_API_KEY", "QDRANT_COLLECTION", "CALLSCOPE_STORE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfig_missingDefaultUsesDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.CallsEnabled {
		t.Error("calls must be disabled by default")
	}
	if cfg.Store.Backend != config.BackendSQLite {
		t.Errorf("backend = %s, want sqlite", cfg.Store.Backend)
	}
}

func TestLoadConfig_missingExplicitPathFails(t *testing.T) {
	clearEnv(t)
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func TestLoadConfig_envOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
store:
  backend: sqlite
  sqlite_path: "./calls.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALLSCOPE_STORE", "memory")
	t.Setenv("QDRANT_COLLECTION", "calls_test")

	cfg, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Backend != config.BackendMemory || cfg.Store.Collection != "calls_test" {
		t.Errorf("env overrides not applied: %+v", cfg.Store)
	}
	if cfg.Store.SQLitePath != filepath.Join(dir, "calls.db") {
		t.Errorf("sqlite path = %s, want it relative to the config dir", cfg.Store.SQLitePath)
	}
}

func TestLoadConfig_callsEnabledWithoutKeyFails(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("ENABLE_OPENAI_CALLS", "true")
	if _, err := loadConfig(defaultConfigPath); err == nil {
		t.Error("expected startup refusal when calls are enabled without an API key")
	}
}

func TestInitializeComponents_endToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "calls.db")
	cfg.Embedding.Provider = config.ProviderLexicon

	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()

	ctx := context.Background()
	report, err := components.Indexer.Rebuild(ctx, []models.Transcript{
		{ID: "a", Text: "internet no funciona"},
		{ID: "b", Text: "cobro duplicado en boleta"},
	}, models.RebuildAbort)
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 2 {
		t.Errorf("indexed = %d, want 2", report.Indexed)
	}
	resp, err := components.Engine.Search(ctx, &models.SearchQuery{Query: "boleta", Mode: models.SearchKeyword, TopN: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].TranscriptID != "b" {
		t.Errorf("results = %+v", resp.Results)
	}
	st := components.Reporter.Check(ctx)
	if st.PointsCount != 2 || st.Store != "sqlite" || st.CallsEnabled {
		t.Errorf("status = %+v", st)
	}
}

func TestRunInit(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	if err := runInit([]string{"-config", path}); err != nil {
		t.Fatal(err)
	}
	if err := runInit([]string{"-config", path}); err == nil {
		t.Error("expected refusal to overwrite without -force")
	}
	if err := runInit([]string{"-config", path, "-force"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Collection != "transcripts_prod" || len(cfg.LLM.Categories) != len(config.DefaultCategories) {
		t.Errorf("unexpected round-tripped config: %+v", cfg.Store)
	}
}
