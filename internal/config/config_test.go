package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "nonexistent"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown default provider")
	}
}

func TestValidate_BadEmbeddingProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.Provider = "weirdco"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestValidate_ZeroEmbeddingDims(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.Dims = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for dims=0")
	}
}

func TestValidate_EnabledProviderNeedsAPIBase(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{Enabled: true}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled provider without apiBase")
	}
}

// --- Load ---

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
  "general": {"logLevel": "debug"},
  "embedding": {"provider": "openai", "apiBase": "https://api.openai.com/v1", "model": "text-embedding-3-small", "dims": 1536}
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("logLevel = %s", cfg.General.LogLevel)
	}
	// Untouched fields keep their defaults.
	if cfg.General.DefaultProvider != "ollama" {
		t.Fatalf("defaultProvider = %s", cfg.General.DefaultProvider)
	}
	if cfg.Embedding.Dims != 1536 {
		t.Fatalf("dims = %d", cfg.Embedding.Dims)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SAHAYAK_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
  "providers": {
    "ollama": {"enabled": true, "apiBase": "http://localhost:11434"},
    "openai": {"enabled": true, "apiBase": "${SAHAYAK_TEST_BASE:-https://api.openai.com/v1}", "apiKey": "${SAHAYAK_TEST_KEY}"}
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	oc := cfg.Providers["openai"]
	if oc.APIKey != "sk-from-env" {
		t.Fatalf("apiKey = %s", oc.APIKey)
	}
	if oc.APIBase != "https://api.openai.com/v1" {
		t.Fatalf("apiBase default not applied: %s", oc.APIBase)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// --- Tuning ---

func TestLoadTuning_EmptyPathGivesDefaults(t *testing.T) {
	tun, err := LoadTuning("")
	if err != nil {
		t.Fatal(err)
	}
	if tun.Memory.SummarizeThreshold != 20 || tun.Retrieval.TopK != 6 {
		t.Fatalf("unexpected defaults: %+v", tun)
	}
	if tun.Retrieval.Weights.Similarity+tun.Retrieval.Weights.Recency+tun.Retrieval.Weights.Importance == 0 {
		t.Fatal("default weights missing")
	}
}

func TestLoadTuning_ProfileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	raw := `
retrieval:
  weights:
    similarity: 0.8
    recency: 0.1
    importance: 0.1
  topK: 10
memory:
  capacityLimit: 500
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	tun, err := LoadTuning(path)
	if err != nil {
		t.Fatal(err)
	}
	if tun.Retrieval.Weights.Similarity != 0.8 {
		t.Fatalf("similarity weight = %v", tun.Retrieval.Weights.Similarity)
	}
	if tun.Retrieval.TopK != 10 {
		t.Fatalf("topK = %d", tun.Retrieval.TopK)
	}
	if tun.Memory.CapacityLimit != 500 {
		t.Fatalf("capacityLimit = %d", tun.Memory.CapacityLimit)
	}
	// Fields absent from the profile keep defaults.
	if tun.Memory.SummarizeThreshold != 20 {
		t.Fatalf("summarizeThreshold = %d", tun.Memory.SummarizeThreshold)
	}
}

// --- Accessors ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	v, err := GetByPath(cfg, "general.defaultProvider")
	if err != nil {
		t.Fatal(err)
	}
	if v != "ollama" {
		t.Fatalf("got %v", v)
	}
	if _, err := GetByPath(cfg, "general.noSuchKey"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.logLevel", "debug"); err != nil {
		t.Fatal(err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("logLevel = %s", cfg.General.LogLevel)
	}

	if err := SetByPath(cfg, "providers.ollama.defaultModel", "qwen2.5:7b"); err != nil {
		t.Fatal(err)
	}
	if cfg.Providers["ollama"].DefaultModel != "qwen2.5:7b" {
		t.Fatalf("defaultModel = %s", cfg.Providers["ollama"].DefaultModel)
	}
}

func TestSetByPath_TypeMismatch(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "embedding.dims", "not-a-number"); err == nil {
		t.Fatal("expected error for type mismatch")
	}
}
