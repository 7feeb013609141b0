package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/ragchat/internal/composer"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Search     SearchConfig
	Memory     MemoryConfig
	Ingest     IngestConfig
	Storage    StorageConfig
	Log        LogConfig
	Telemetry  TelemetryConfig
	ONNX       ONNXConfig
	Locale     string
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL         string
	Model           string
	EmbedModel      string
	PingTimeout     time.Duration
	GenerateTimeout time.Duration
	EmbedTimeout    time.Duration
}

type GenerationConfig struct {
	MaxConcurrency int
}

type SearchConfig struct {
	BaseURL        string
	Language       string
	Timeout        time.Duration
	Enabled        bool
	MaxConcurrency int
}

type MemoryConfig struct {
	Capacity         int
	TopK             int
	Dimensions       int
	Encoder          string // hash, ollama or onnx
	Index            string // flat or chromem
	CacheMB          int    // embedding cache size; 0 disables it
	IdleTTL          time.Duration
	MaxConversations int
	SweepInterval    time.Duration
}

type IngestConfig struct {
	MaxChars int
}

type StorageConfig struct {
	DataDir   string
	UploadDir string // defaults to <DataDir>/uploads
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	OTLPEndpoint string
}

type ONNXConfig struct {
	LibraryPath   string
	ModelPath     string
	TokenizerPath string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4000},
		Ollama: OllamaConfig{
			BaseURL:         "http://localhost:11434",
			Model:           "deepseek-r1:1.5b",
			EmbedModel:      "nomic-embed-text",
			PingTimeout:     5 * time.Second,
			GenerateTimeout: 30 * time.Second,
			EmbedTimeout:    10 * time.Second,
		},
		Generation: GenerationConfig{MaxConcurrency: 4},
		Search: SearchConfig{
			BaseURL:        "http://localhost:8080",
			Language:       "zh",
			Timeout:        10 * time.Second,
			Enabled:        true,
			MaxConcurrency: 8,
		},
		Memory: MemoryConfig{
			Capacity:         20,
			TopK:             3,
			Dimensions:       384,
			Encoder:          "hash",
			Index:            "flat",
			CacheMB:          16,
			IdleTTL:          time.Hour,
			MaxConversations: 1000,
			SweepInterval:    5 * time.Minute,
		},
		Ingest:  IngestConfig{MaxChars: 2000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info", Format: "text"},
		Locale:  "en",
	}
}

// Load reads configuration from the YAML file at FilePath and environment
// variables (RAGCHAT_*), which override file values, then validates it.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	validEncoders   = []string{"hash", "ollama", "onnx"}
	validIndexes    = []string{"flat", "chromem"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(validURL(c.Ollama.BaseURL), "ollama.base_url %q is not an http(s) URL", c.Ollama.BaseURL)
	check(c.Ollama.Model != "", "ollama.model must be set")
	check(c.Ollama.PingTimeout > 0, "ollama.ping_timeout must be positive")
	check(c.Ollama.GenerateTimeout > 0, "ollama.generate_timeout must be positive")
	check(c.Ollama.EmbedTimeout > 0, "ollama.embed_timeout must be positive")
	check(c.Generation.MaxConcurrency > 0, "generation.max_concurrency must be positive")
	check(validURL(c.Search.BaseURL), "search.base_url %q is not an http(s) URL", c.Search.BaseURL)
	check(c.Search.Timeout > 0, "search.timeout must be positive")
	check(c.Search.MaxConcurrency > 0, "search.max_concurrency must be positive")
	check(c.Memory.Capacity > 0, "memory.capacity must be positive")
	check(c.Memory.TopK > 0, "memory.top_k must be positive")
	check(c.Memory.Dimensions > 0, "memory.dimensions must be positive")
	check(slices.Contains(validEncoders, c.Memory.Encoder), "memory.encoder %q must be one of %s", c.Memory.Encoder, strings.Join(validEncoders, ", "))
	check(slices.Contains(validIndexes, c.Memory.Index), "memory.index %q must be one of %s", c.Memory.Index, strings.Join(validIndexes, ", "))
	check(c.Memory.CacheMB >= 0, "memory.cache_mb must not be negative")
	check(c.Memory.MaxConversations > 0, "memory.max_conversations must be positive")
	check(c.Memory.IdleTTL >= 0, "memory.idle_ttl must not be negative")
	check(c.Memory.SweepInterval >= 0, "memory.sweep_interval must not be negative")
	check(c.Ingest.MaxChars > 0, "ingest.max_chars must be positive")
	check(c.Storage.DataDir != "", "storage.data_dir must be set")
	check(slices.Contains(validLogLevels, c.Log.Level), "log.level %q must be one of %s", c.Log.Level, strings.Join(validLogLevels, ", "))
	check(slices.Contains(validLogFormats, c.Log.Format), "log.format %q must be one of %s", c.Log.Format, strings.Join(validLogFormats, ", "))
	check(slices.Contains(composer.Locales(), c.Locale), "locale %q must be one of %s", c.Locale, strings.Join(composer.Locales(), ", "))
	if c.Memory.Encoder == "onnx" {
		check(c.ONNX.ModelPath != "" && c.ONNX.TokenizerPath != "", "memory.encoder onnx needs onnx.model_path and onnx.tokenizer_path")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
