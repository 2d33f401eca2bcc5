package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setEnvEmpty(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ChunkSize != 500 || cfg.ChunkOverlap != 20 {
		t.Errorf("chunking = %d/%d, want 500/20", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.MemoryWindowK != 5 || cfg.RetrievalK != 100 {
		t.Errorf("window/retrieval = %d/%d, want 5/100", cfg.MemoryWindowK, cfg.RetrievalK)
	}
	if cfg.MaxTokens != 512 || cfg.Temperature != 0.7 || cfg.TopP != 0.95 {
		t.Errorf("unexpected generation defaults %+v", cfg.Params())
	}
	if cfg.BackendProvider != "mock" || cfg.EmbedProvider != "hash" {
		t.Errorf("unexpected providers %q/%q", cfg.BackendProvider, cfg.EmbedProvider)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	setEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "chat.yaml")
	yml := `
bind_addr: ":9000"
chunk_size: 300
retrieval_k: 50
temperature: 1.2
backend_timeout: 5s
data_dir: /tmp/chat-data
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHAT_RETRIEVAL_K", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9000" || cfg.ChunkSize != 300 || cfg.Temperature != 1.2 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.BackendTimeout != 5*time.Second {
		t.Errorf("BackendTimeout = %v, want 5s", cfg.BackendTimeout)
	}
	if cfg.RetrievalK != 25 {
		t.Errorf("RetrievalK = %d, want env override 25", cfg.RetrievalK)
	}
	if cfg.HistoryPath() != "/tmp/chat-data/history.db" || cfg.IndexDir() != "/tmp/chat-data/index" {
		t.Errorf("unexpected paths %q %q", cfg.HistoryPath(), cfg.IndexDir())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"CHAT_CHUNK_OVERLAP":        "500",
		"CHAT_MEMORY_WINDOW_K":      "0",
		"CHAT_MAX_TOKENS":           "4096",
		"CHAT_TEMPERATURE":          "0",
		"CHAT_TOP_P":                "2",
		"CHAT_BACKEND_PROVIDER":     "carrier-pigeon",
		"CHAT_CHUNK_SIZE":           "abc",
		"CHAT_INGEST_ALLOW_PRIVATE": "maybe",
		"CHAT_INGEST_MAX_CHARS":     "0",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			setEnvEmpty(t)
			t.Setenv(key, val)
			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	setEnvEmpty(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("expected read error, got %v", err)
	}
}

func setEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"CHAT_BIND_ADDR",
		"CHAT_SHUTDOWN_TIMEOUT",
		"CHAT_SESSION_INACTIVITY_TIMEOUT",
		"CHAT_METRICS_NAMESPACE",
		"CHAT_LOG_LEVEL",
		"CHAT_DATA_DIR",
		"DATABASE_URL",
		"CHAT_CHUNK_SIZE",
		"CHAT_CHUNK_OVERLAP",
		"CHAT_MEMORY_WINDOW_K",
		"CHAT_RETRIEVAL_K",
		"CHAT_MAX_TOKENS",
		"CHAT_TEMPERATURE",
		"CHAT_TOP_P",
		"CHAT_SYSTEM_PROMPT",
		"CHAT_BACKEND_PROVIDER",
		"CHAT_BACKEND_MODEL",
		"CHAT_BACKEND_URL",
		"CHAT_BACKEND_API_KEY",
		"CHAT_BACKEND_TIMEOUT",
		"CHAT_EMBED_PROVIDER",
		"CHAT_EMBED_MODEL",
		"CHAT_EMBED_URL",
		"CHAT_EMBED_API_KEY",
		"CHAT_EMBED_DIMS",
		"CHAT_EMBED_CACHE_BYTES",
		"CHAT_PERSIST_RETRIES",
		"CHAT_INGEST_TIMEOUT",
		"CHAT_INGEST_MAX_BYTES",
		"CHAT_INGEST_MAX_CHARS",
		"CHAT_INGEST_ALLOW_PRIVATE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadIngestSettings(t *testing.T) {
	setEnvEmpty(t)
	t.Setenv("CHAT_INGEST_ALLOW_PRIVATE", "yes")
	t.Setenv("CHAT_INGEST_MAX_BYTES", "4096")
	t.Setenv("CHAT_INGEST_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	opts := cfg.Ingest()
	if !opts.AllowPrivate || opts.MaxBytes != 4096 || opts.Timeout != 3*time.Second {
		t.Errorf("unexpected ingest options %+v", opts)
	}
	if cfg.IngestMaxChars != 20000 {
		t.Errorf("IngestMaxChars = %d, want 20000", cfg.IngestMaxChars)
	}
}
