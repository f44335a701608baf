package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REVCLAW_HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HomeDir != home {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, home)
	}
	if cfg.Memory.Dir != ".revclaw/memory" {
		t.Errorf("Memory.Dir = %q", cfg.Memory.Dir)
	}
	if cfg.Memory.LogFile != "log.jsonl" {
		t.Errorf("Memory.LogFile = %q", cfg.Memory.LogFile)
	}
	if cfg.Embedding.Provider != "none" {
		t.Errorf("Embedding.Provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Guard.SkipCIMarker != "[revclaw skip-ci]" {
		t.Errorf("Guard.SkipCIMarker = %q", cfg.Guard.SkipCIMarker)
	}
	if cfg.Router.MemoryMinSimilarity != 0.75 {
		t.Errorf("Router.MemoryMinSimilarity = %v", cfg.Router.MemoryMinSimilarity)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REVCLAW_HOME", home)

	yaml := `
log_level: debug
worker_count: 5
embedding:
  provider: ollama
  model: mxbai-embed-large
  dimensions: 1024
router:
  min_score: 3
  memory_max_hits: 10
guard:
  branch: main
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.WorkerCount != 5 {
		t.Errorf("WorkerCount = %d", cfg.WorkerCount)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimensions != 1024 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Router.MinScore != 3 || cfg.Router.MemoryMaxHits != 10 {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if cfg.Guard.Branch != "main" {
		t.Errorf("Guard.Branch = %q", cfg.Guard.Branch)
	}
	// Unset fields keep defaults.
	if cfg.Guard.Remote != "origin" {
		t.Errorf("Guard.Remote = %q", cfg.Guard.Remote)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REVCLAW_HOME", home)
	t.Setenv("REVCLAW_LOG_LEVEL", "warn")
	t.Setenv("REVCLAW_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("OLLAMA_BASE_URL", "http://127.0.0.1:9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.BaseURL != "http://127.0.0.1:9999" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
}

func TestLoad_RejectsUnknownEmbeddingProvider(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REVCLAW_HOME", home)
	t.Setenv("REVCLAW_EMBEDDING_PROVIDER", "weaviate")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical configs produced different fingerprints")
	}
	b.Router.MinScore = 7
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("changed config produced identical fingerprint")
	}
}

func TestPaths(t *testing.T) {
	cfg := defaultConfig()
	cfg.HomeDir = "/home/u/.revclaw"
	cfg.RepoDir = "/work/repo"
	if got := cfg.LogPath(); got != filepath.Join("/work/repo", ".revclaw/memory", "log.jsonl") {
		t.Errorf("LogPath = %q", got)
	}
	if got := cfg.IndexPath(); got != filepath.Join("/home/u/.revclaw", "index.db") {
		t.Errorf("IndexPath = %q", got)
	}
}

func TestSetEmbeddingProvider_PreservesOtherKeys(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SetEmbeddingProvider(home, "ollama"); err != nil {
		t.Fatalf("SetEmbeddingProvider: %v", err)
	}
	t.Setenv("REVCLAW_HOME", home)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q", cfg.Embedding.Provider)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q (existing key was lost)", cfg.LogLevel)
	}
}
