// Package pipeline runs one chat turn: it ingests an optional document,
// grows the conversation memory with the question and fresh web context,
// retrieves the nearest entries and asks the generation backend.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/ragchat/internal/composer"
	"github.com/kalambet/ragchat/internal/failure"
	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/metrics"
)

var tracer = otel.Tracer("github.com/kalambet/ragchat/internal/pipeline")

const (
	DefaultTopK            = 3
	DefaultPingTimeout     = 5 * time.Second
	DefaultGenerateTimeout = 30 * time.Second
	DefaultMaxConcurrency  = 4
)

// Backend is the generation service.
type Backend interface {
	Ping(ctx context.Context) error
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Searcher supplies formatted web context for a question.
type Searcher interface {
	Context(ctx context.Context, query string) (string, failure.Kind)
}

// Ingestor folds an uploaded document into memory.
type Ingestor interface {
	Ingest(ctx context.Context, store ingest.Inserter, path string) ingest.Result
}

// Memory is the conversation store a turn reads and writes.
type Memory interface {
	Insert(ctx context.Context, text string) error
	Query(ctx context.Context, text string, k int) ([]string, error)
}

// Config tunes an Orchestrator. Zero fields take defaults.
type Config struct {
	Model           string
	TopK            int
	PingTimeout     time.Duration
	GenerateTimeout time.Duration
	MaxConcurrency  int
}

// Request is one user turn.
type Request struct {
	UserID         string // caller identity, only recorded in logs and spans
	ConversationID string
	Prompt         string
	FilePath       string // optional uploaded document
}

// Outcome is the result of a turn. Text is either the model's answer or a
// localized failure message; ErrorKind is set exactly when Succeeded is
// false.
type Outcome struct {
	Text       string         `json:"text"`
	Succeeded  bool           `json:"succeeded"`
	ErrorKind  failure.Kind   `json:"error_kind,omitempty"`
	Model      string         `json:"model"`
	Retrieved  []string       `json:"retrieved,omitempty"`
	SearchKind failure.Kind   `json:"search_kind,omitempty"`
	Ingest     *ingest.Result `json:"ingest,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Orchestrator runs chat turns against a generation backend.
type Orchestrator struct {
	backend  Backend
	search   Searcher
	ingestor Ingestor
	composer *composer.Composer
	metrics  *metrics.Metrics
	cfg      Config
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// New creates an Orchestrator wired to its collaborators. m may be nil.
func New(backend Backend, search Searcher, ingestor Ingestor, comp *composer.Composer, m *metrics.Metrics, cfg Config) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Orchestrator{
		backend:  backend,
		search:   search,
		ingestor: ingestor,
		composer: comp,
		metrics:  m,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:   slog.Default(),
	}
}

// Model returns the generation model name.
func (o *Orchestrator) Model() string { return o.cfg.Model }

// Generate runs one turn on store:
//  1. Ingest the uploaded file, if any
//  2. Insert the question into memory
//  3. Search the web and insert the formatted context
//  4. Retrieve the nearest entries for the question
//  5. Build the context block
//  6. Ping the backend (no generation when it is down)
//  7. Generate the answer
//
// Memory and search failures degrade the context but never fail the turn.
// Generate never returns an error; backend failures are reported in the
// Outcome with a localized message.
func (o *Orchestrator) Generate(ctx context.Context, store Memory, req Request) (out Outcome) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.Generate", trace.WithAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("user.id", req.UserID),
		attribute.Bool("request.has_file", req.FilePath != ""),
	))
	defer func() {
		out.Duration = time.Since(start)
		span.SetAttributes(attribute.Bool("turn.succeeded", out.Succeeded))
		if !out.Succeeded {
			span.SetStatus(codes.Error, string(out.ErrorKind))
		}
		span.End()
		o.metrics.ObserveTurn(out.ErrorKind, out.Duration)
	}()

	out.Model = o.cfg.Model
	log := o.logger.With("conversation_id", req.ConversationID, "user_id", req.UserID)

	// 1. Uploaded document.
	if req.FilePath != "" {
		res := o.ingestor.Ingest(ctx, store, req.FilePath)
		out.Ingest = &res
		o.metrics.ObserveIngest(res.Kind)
	}

	// 2. The question itself.
	if err := store.Insert(ctx, req.Prompt); err != nil {
		log.Warn("inserting question into memory failed", "error", err)
	}

	// 3. Web context.
	searchContext, kind := o.search.Context(ctx, req.Prompt)
	out.SearchKind = kind
	o.metrics.ObserveSearch(kind)
	if kind != failure.None {
		log.Warn("web search degraded", "kind", kind)
	}
	if searchContext != "" {
		if err := store.Insert(ctx, searchContext); err != nil {
			log.Warn("inserting search context into memory failed", "error", err)
		}
	}

	// 4. Retrieval.
	retrieved, err := store.Query(ctx, req.Prompt, o.cfg.TopK)
	if err != nil {
		log.Warn("memory query failed", "error", err)
	}
	out.Retrieved = retrieved

	// 5. Prompt.
	prompt := o.composer.Compose(o.composer.ContextBlock(retrieved, searchContext), req.Prompt)

	// 6. Liveness.
	if err := o.ping(ctx); err != nil {
		log.Warn("generation backend unreachable", "error", err)
		out.ErrorKind = failure.ConnectivityError
		out.Text = o.composer.Messages.ConnectivityFailure
		return out
	}

	// 7. Generation.
	answer, err := o.generate(ctx, prompt)
	if err != nil {
		out.ErrorKind = failure.Classify(err)
		if out.ErrorKind == failure.TimeoutError {
			out.Text = o.composer.Messages.TimeoutFailure + err.Error()
		} else {
			out.Text = o.composer.Messages.GenerationFailure + err.Error()
		}
		log.Warn("generation failed", "kind", out.ErrorKind, "error", err)
		return out
	}

	log.Debug("turn complete",
		"retrieved", len(retrieved),
		"search_kind", kind,
		"elapsed", time.Since(start),
	)
	out.Text = answer
	out.Succeeded = true
	return out
}

// ping is not gated on the generation slots: a saturated backend is still
// reachable.
func (o *Orchestrator) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PingTimeout)
	defer cancel()
	return o.backend.Ping(ctx)
}

// generate waits for a slot within the generation budget. A slot wait that
// runs out of budget is a timeout.
func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: waiting for backend slot: %w", failure.ErrTimeout, err)
		}
		return "", fmt.Errorf("waiting for backend slot: %w", err)
	}
	defer o.sem.Release(1)
	return o.backend.Generate(ctx, o.cfg.Model, prompt)
}
