package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RAGCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "RAGCHAT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "RAGCHAT_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "RAGCHAT_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.ping_timeout", typ: kDuration, env: "RAGCHAT_OLLAMA_PING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.PingTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.PingTimeout },
	},
	{
		key: "ollama.generate_timeout", typ: kDuration, env: "RAGCHAT_OLLAMA_GENERATE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.GenerateTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.GenerateTimeout },
	},
	{
		key: "ollama.embed_timeout", typ: kDuration, env: "RAGCHAT_OLLAMA_EMBED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedTimeout },
	},
	{
		key: "generation.max_concurrency", typ: kInt, env: "RAGCHAT_GENERATION_MAX_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxConcurrency },
	},
	{
		key: "search.base_url", typ: kString, env: "RAGCHAT_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.language", typ: kString, env: "RAGCHAT_SEARCH_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Search.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Language },
	},
	{
		key: "search.timeout", typ: kDuration, env: "RAGCHAT_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "search.enabled", typ: kBool, env: "RAGCHAT_SEARCH_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Search.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.Enabled },
	},
	{
		key: "search.max_concurrency", typ: kInt, env: "RAGCHAT_SEARCH_MAX_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxConcurrency },
	},
	{
		key: "memory.capacity", typ: kInt, env: "RAGCHAT_MEMORY_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Memory.Capacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.Capacity },
	},
	{
		key: "memory.top_k", typ: kInt, env: "RAGCHAT_MEMORY_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Memory.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.TopK },
	},
	{
		key: "memory.dimensions", typ: kInt, env: "RAGCHAT_MEMORY_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Memory.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.Dimensions },
	},
	{
		key: "memory.encoder", typ: kString, env: "RAGCHAT_MEMORY_ENCODER",
		apply:   func(cfg *Config, v any) { cfg.Memory.Encoder = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.Encoder },
	},
	{
		key: "memory.index", typ: kString, env: "RAGCHAT_MEMORY_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Memory.Index = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.Index },
	},
	{
		key: "memory.cache_mb", typ: kInt, env: "RAGCHAT_MEMORY_CACHE_MB",
		apply:   func(cfg *Config, v any) { cfg.Memory.CacheMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.CacheMB },
	},
	{
		key: "memory.idle_ttl", typ: kDuration, env: "RAGCHAT_MEMORY_IDLE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Memory.IdleTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.IdleTTL },
	},
	{
		key: "memory.max_conversations", typ: kInt, env: "RAGCHAT_MEMORY_MAX_CONVERSATIONS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxConversations = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxConversations },
	},
	{
		key: "memory.sweep_interval", typ: kDuration, env: "RAGCHAT_MEMORY_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Memory.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.SweepInterval },
	},
	{
		key: "ingest.max_chars", typ: kInt, env: "RAGCHAT_INGEST_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxChars },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RAGCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.upload_dir", typ: kString, env: "RAGCHAT_STORAGE_UPLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.UploadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.UploadDir },
	},
	{
		key: "locale", typ: kString, env: "RAGCHAT_LOCALE",
		apply:   func(cfg *Config, v any) { cfg.Locale = v.(string) },
		extract: func(cfg Config) any { return cfg.Locale },
	},
	{
		key: "log.level", typ: kString, env: "RAGCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "RAGCHAT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "telemetry.otlp_endpoint", typ: kString, env: "RAGCHAT_TELEMETRY_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.OTLPEndpoint },
	},
	{
		key: "onnx.library_path", typ: kString, env: "RAGCHAT_ONNX_LIBRARY_PATH",
		apply:   func(cfg *Config, v any) { cfg.ONNX.LibraryPath = v.(string) },
		extract: func(cfg Config) any { return cfg.ONNX.LibraryPath },
	},
	{
		key: "onnx.model_path", typ: kString, env: "RAGCHAT_ONNX_MODEL_PATH",
		apply:   func(cfg *Config, v any) { cfg.ONNX.ModelPath = v.(string) },
		extract: func(cfg Config) any { return cfg.ONNX.ModelPath },
	},
	{
		key: "onnx.tokenizer_path", typ: kString, env: "RAGCHAT_ONNX_TOKENIZER_PATH",
		apply:   func(cfg *Config, v any) { cfg.ONNX.TokenizerPath = v.(string) },
		extract: func(cfg Config) any { return cfg.ONNX.TokenizerPath },
	},
}

// parse converts raw to the Go value of the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
