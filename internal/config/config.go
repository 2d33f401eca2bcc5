// Package config loads runtime settings from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/chat-memory/internal/chunker"
	"github.com/rcliao/chat-memory/internal/embedding"
	"github.com/rcliao/chat-memory/internal/ingest"
	"github.com/rcliao/chat-memory/internal/llm"
	"github.com/rcliao/chat-memory/internal/vectorindex"
	"github.com/rcliao/chat-memory/internal/window"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr                 string        `yaml:"bind_addr"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
	SessionInactivityTimeout time.Duration `yaml:"session_inactivity_timeout"`
	MetricsNamespace         string        `yaml:"metrics_namespace"`
	LogLevel                 string        `yaml:"log_level"`

	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`

	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	MemoryWindowK int `yaml:"memory_window_k"`
	RetrievalK    int `yaml:"retrieval_k"`

	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	SystemPrompt string  `yaml:"system_prompt"`

	BackendProvider string        `yaml:"backend_provider"`
	BackendModel    string        `yaml:"backend_model"`
	BackendURL      string        `yaml:"backend_url"`
	BackendAPIKey   string        `yaml:"backend_api_key"`
	BackendTimeout  time.Duration `yaml:"backend_timeout"`

	EmbedProvider   string `yaml:"embed_provider"`
	EmbedModel      string `yaml:"embed_model"`
	EmbedURL        string `yaml:"embed_url"`
	EmbedAPIKey     string `yaml:"embed_api_key"`
	EmbedDims       int    `yaml:"embed_dims"`
	EmbedCacheBytes int64  `yaml:"embed_cache_bytes"`

	PersistRetries int `yaml:"persist_retries"`

	IngestTimeout      time.Duration `yaml:"ingest_timeout"`
	IngestMaxBytes     int64         `yaml:"ingest_max_bytes"`
	IngestMaxChars     int           `yaml:"ingest_max_chars"`
	IngestAllowPrivate bool          `yaml:"ingest_allow_private"`
}

// Default returns the built-in settings.
func Default() Config {
	home, _ := os.UserHomeDir()
	p := llm.DefaultParams()
	return Config{
		BindAddr:                 ":8080",
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		MetricsNamespace:         "chat_memory",
		LogLevel:                 "info",
		DataDir:                  filepath.Join(home, ".chat-memory"),
		ChunkSize:                chunker.DefaultSize,
		ChunkOverlap:             chunker.DefaultOverlap,
		MemoryWindowK:            window.DefaultK,
		RetrievalK:               vectorindex.DefaultK,
		MaxTokens:                p.MaxTokens,
		Temperature:              p.Temperature,
		TopP:                     p.TopP,
		BackendProvider:          "mock",
		BackendTimeout:           60 * time.Second,
		EmbedProvider:            "hash",
		EmbedCacheBytes:          32 << 20,
		PersistRetries:           2,
		IngestTimeout:            ingest.DefaultTimeout,
		IngestMaxBytes:           ingest.DefaultMaxBytes,
		IngestMaxChars:           20000,
	}
}

// Load applies defaults, then the YAML file at path (if not empty), then
// environment variables, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.BindAddr = envOrDefault("CHAT_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("CHAT_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("CHAT_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = envOrDefault("CHAT_DATA_DIR", cfg.DataDir)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.SystemPrompt = envOrDefault("CHAT_SYSTEM_PROMPT", cfg.SystemPrompt)
	cfg.BackendProvider = envOrDefault("CHAT_BACKEND_PROVIDER", cfg.BackendProvider)
	cfg.BackendModel = envOrDefault("CHAT_BACKEND_MODEL", cfg.BackendModel)
	cfg.BackendURL = envOrDefault("CHAT_BACKEND_URL", cfg.BackendURL)
	cfg.BackendAPIKey = envOrDefault("CHAT_BACKEND_API_KEY", cfg.BackendAPIKey)
	cfg.EmbedProvider = envOrDefault("CHAT_EMBED_PROVIDER", cfg.EmbedProvider)
	cfg.EmbedModel = envOrDefault("CHAT_EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedURL = envOrDefault("CHAT_EMBED_URL", cfg.EmbedURL)
	cfg.EmbedAPIKey = envOrDefault("CHAT_EMBED_API_KEY", cfg.EmbedAPIKey)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CHAT_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"CHAT_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"CHAT_BACKEND_TIMEOUT", &cfg.BackendTimeout},
		{"CHAT_INGEST_TIMEOUT", &cfg.IngestTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CHAT_CHUNK_SIZE", &cfg.ChunkSize},
		{"CHAT_CHUNK_OVERLAP", &cfg.ChunkOverlap},
		{"CHAT_MEMORY_WINDOW_K", &cfg.MemoryWindowK},
		{"CHAT_RETRIEVAL_K", &cfg.RetrievalK},
		{"CHAT_MAX_TOKENS", &cfg.MaxTokens},
		{"CHAT_EMBED_DIMS", &cfg.EmbedDims},
		{"CHAT_PERSIST_RETRIES", &cfg.PersistRetries},
		{"CHAT_INGEST_MAX_CHARS", &cfg.IngestMaxChars},
	}
	for _, i := range ints {
		if *i.dst, err = intFromEnv(i.key, *i.dst); err != nil {
			return err
		}
	}

	if cfg.Temperature, err = floatFromEnv("CHAT_TEMPERATURE", cfg.Temperature); err != nil {
		return err
	}
	if cfg.TopP, err = floatFromEnv("CHAT_TOP_P", cfg.TopP); err != nil {
		return err
	}
	if cfg.EmbedCacheBytes, err = int64FromEnv("CHAT_EMBED_CACHE_BYTES", cfg.EmbedCacheBytes); err != nil {
		return err
	}
	if cfg.IngestMaxBytes, err = int64FromEnv("CHAT_INGEST_MAX_BYTES", cfg.IngestMaxBytes); err != nil {
		return err
	}
	if cfg.IngestAllowPrivate, err = boolFromEnv("CHAT_INGEST_ALLOW_PRIVATE", cfg.IngestAllowPrivate); err != nil {
		return err
	}
	return nil
}

// Validate checks option ranges.
func (c Config) Validate() error {
	if err := c.ChunkOptions().Validate(); err != nil {
		return err
	}
	if c.MemoryWindowK <= 0 {
		return fmt.Errorf("memory_window_k must be positive")
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("retrieval_k must be positive")
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("session_inactivity_timeout must be at least 5s")
	}
	if c.PersistRetries < 0 {
		return fmt.Errorf("persist_retries must be >= 0")
	}
	if c.EmbedCacheBytes < 0 {
		return fmt.Errorf("embed_cache_bytes must be >= 0")
	}
	if c.IngestTimeout <= 0 || c.IngestMaxBytes <= 0 || c.IngestMaxChars <= 0 {
		return fmt.Errorf("ingest_timeout, ingest_max_bytes and ingest_max_chars must be positive")
	}
	switch strings.ToLower(c.BackendProvider) {
	case "mock", "anthropic", "openai":
	default:
		return fmt.Errorf("invalid backend_provider %q (expected mock|anthropic|openai)", c.BackendProvider)
	}
	switch strings.ToLower(c.EmbedProvider) {
	case "hash", "ollama", "openai":
	default:
		return fmt.Errorf("invalid embed_provider %q (expected hash|ollama|openai)", c.EmbedProvider)
	}
	return nil
}

// ChunkOptions returns the chunker settings.
func (c Config) ChunkOptions() chunker.Options {
	return chunker.Options{Size: c.ChunkSize, Overlap: c.ChunkOverlap}
}

// Params returns the default generation parameters.
func (c Config) Params() llm.Params {
	return llm.Params{MaxTokens: c.MaxTokens, Temperature: c.Temperature, TopP: c.TopP}
}

// Embedding returns the embedding provider settings.
func (c Config) Embedding() embedding.Config {
	return embedding.Config{
		Provider:   c.EmbedProvider,
		Model:      c.EmbedModel,
		URL:        c.EmbedURL,
		APIKey:     c.EmbedAPIKey,
		Dims:       c.EmbedDims,
		CacheBytes: c.EmbedCacheBytes,
	}
}

// Backend returns the inference backend settings.
func (c Config) Backend() llm.Config {
	return llm.Config{
		Provider: strings.ToLower(c.BackendProvider),
		Model:    c.BackendModel,
		URL:      c.BackendURL,
		APIKey:   c.BackendAPIKey,
	}
}

// Ingest returns the page fetcher settings.
func (c Config) Ingest() ingest.Options {
	return ingest.Options{
		Timeout:      c.IngestTimeout,
		MaxBytes:     c.IngestMaxBytes,
		AllowPrivate: c.IngestAllowPrivate,
	}
}

// HistoryPath is the SQLite file used when no database URL is set.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// IndexDir is where the vector index persists its collections.
func (c Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
