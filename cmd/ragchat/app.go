package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/ragchat/internal/api"
	"github.com/kalambet/ragchat/internal/composer"
	"github.com/kalambet/ragchat/internal/config"
	"github.com/kalambet/ragchat/internal/embedding"
	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/memory"
	"github.com/kalambet/ragchat/internal/metrics"
	"github.com/kalambet/ragchat/internal/ollama"
	"github.com/kalambet/ragchat/internal/pipeline"
	"github.com/kalambet/ragchat/internal/search"
	"github.com/kalambet/ragchat/internal/storage"
	"github.com/kalambet/ragchat/internal/telemetry"
)

// app is the fully wired process: storage, memory registry, search,
// ingestion and the generation pipeline behind the chat service.
type app struct {
	cfg      config.Config
	store    *storage.Store
	ollama   *ollama.Client
	memories *memory.Registry
	search   *search.Client
	ingestor *ingest.Ingestor
	metrics  *metrics.Metrics
	service  *api.Service

	closers []func()
}

// setupLogging installs the default slog logger from the log.* keys.
func setupLogging(cfg config.Config, w io.Writer) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// newApp builds every component from cfg. The caller must call close.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, "ragchat", version)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	})

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	})

	a.ollama = ollama.New(cfg.Ollama.BaseURL)

	enc, err := a.encoder()
	if err != nil {
		a.close()
		return nil, err
	}

	index, err := memory.ParseIndexKind(cfg.Memory.Index)
	if err != nil {
		a.close()
		return nil, err
	}

	msgs := composer.Catalog(cfg.Locale)
	a.memories = memory.NewRegistry(func() *memory.Store {
		return memory.New(enc,
			memory.WithCapacity(cfg.Memory.Capacity),
			memory.WithIndex(index),
		)
	}, cfg.Memory.MaxConversations)
	a.metrics.TrackStores(a.memories.Len)

	a.search = search.New(search.Config{
		BaseURL:        cfg.Search.BaseURL,
		Language:       cfg.Search.Language,
		Timeout:        cfg.Search.Timeout,
		Disabled:       !cfg.Search.Enabled,
		MaxConcurrency: cfg.Search.MaxConcurrency,
		Labels: search.Labels{
			Header:           msgs.SearchHeader,
			NoTitle:          msgs.SearchNoTitle,
			UnavailableTitle: msgs.SearchUnavailableTitle,
		},
	})

	a.ingestor = ingest.New(cfg.Ingest.MaxChars, ingest.Labels{
		FileContent:     msgs.FileContentPrefix,
		UnsupportedType: msgs.UnsupportedFileType,
		ExtractionError: msgs.ExtractionError,
	})

	orch := pipeline.New(
		a.ollama,
		a.search,
		a.ingestor,
		composer.New(msgs, 0),
		a.metrics,
		pipeline.Config{
			Model:           cfg.Ollama.Model,
			TopK:            cfg.Memory.TopK,
			PingTimeout:     cfg.Ollama.PingTimeout,
			GenerateTimeout: cfg.Ollama.GenerateTimeout,
			MaxConcurrency:  cfg.Generation.MaxConcurrency,
		},
	)
	a.service = api.NewService(a.store, a.memories, orch, msgs, cfg.Storage.UploadDir)
	return a, nil
}

// encoder selects the embedding encoder named by memory.encoder and wraps
// it in the embedding cache when memory.cache_mb is positive.
func (a *app) encoder() (embedding.Encoder, error) {
	var enc embedding.Encoder
	switch a.cfg.Memory.Encoder {
	case "ollama":
		enc = embedding.NewOllamaEncoder(a.ollama, a.cfg.Ollama.EmbedModel, a.cfg.Memory.Dimensions,
			embedding.WithEmbedTimeout(a.cfg.Ollama.EmbedTimeout))
	case "onnx":
		onnx, err := embedding.NewONNXEncoder(embedding.ONNXConfig{
			LibraryPath:   a.cfg.ONNX.LibraryPath,
			ModelPath:     a.cfg.ONNX.ModelPath,
			TokenizerPath: a.cfg.ONNX.TokenizerPath,
			Dimensions:    a.cfg.Memory.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("loading onnx encoder: %w", err)
		}
		if c, ok := onnx.(interface{ Close() error }); ok {
			a.closers = append(a.closers, func() { c.Close() })
		}
		enc = onnx
	default:
		enc = embedding.NewHashEncoder(a.cfg.Memory.Dimensions)
	}

	if a.cfg.Memory.CacheMB <= 0 {
		return enc, nil
	}
	cached, err := embedding.NewCachedEncoder(enc, int64(a.cfg.Memory.CacheMB)<<20)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}

// startBackground runs the ingest worker and the idle-store janitor until
// ctx is cancelled.
func (a *app) startBackground(ctx context.Context) error {
	worker := ingest.NewWorker(a.store, a.ingestor, func(ctx context.Context, id string) ingest.Inserter {
		return a.service.ConversationMemory(ctx, id)
	}, 0)
	worker.OnResult(func(r ingest.Result) {
		a.metrics.ObserveIngest(r.Kind)
	})
	go worker.Run(ctx)

	janitor := memory.NewJanitor(a.memories, a.cfg.Memory.SweepInterval, a.cfg.Memory.IdleTTL)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting memory janitor: %w", err)
	}
	a.closers = append(a.closers, janitor.Stop)
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
