// Package search augments generation with live web results from a SearXNG
// instance. Failures never propagate: they are reported as a single
// synthetic result and a failure.Kind.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/ragchat/internal/failure"
)

const (
	// DefaultBaseURL is where a local SearXNG listens by default.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultTimeout bounds one search request.
	DefaultTimeout = 10 * time.Second

	// MaxResults is how many results a search keeps.
	MaxResults = 3

	// SnippetRunes is how much of a result's content goes into the context.
	SnippetRunes = 200

	defaultMaxConcurrency = 8
)

var tracer = otel.Tracer("github.com/kalambet/ragchat/internal/search")

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Labels are the fixed strings the client writes into results and context.
type Labels struct {
	Header           string
	NoTitle          string
	UnavailableTitle string
}

// DefaultLabels returns the English labels.
func DefaultLabels() Labels {
	return Labels{
		Header:           "[web search results]",
		NoTitle:          "no title",
		UnavailableTitle: "search service unavailable",
	}
}

// Config configures a Client. Zero fields take defaults.
type Config struct {
	BaseURL        string
	Language       string
	Timeout        time.Duration
	Disabled       bool
	MaxConcurrency int
	Labels         Labels
}

// Client queries a SearXNG instance.
type Client struct {
	baseURL    string
	language   string
	timeout    time.Duration
	disabled   bool
	labels     Labels
	sem        *semaphore.Weighted
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "zh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Labels == (Labels{}) {
		cfg.Labels = DefaultLabels()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		language:   cfg.Language,
		timeout:    cfg.Timeout,
		disabled:   cfg.Disabled,
		labels:     cfg.Labels,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
}

// Enabled reports whether Context performs network calls.
func (c *Client) Enabled() bool { return !c.disabled }

// BaseURL returns the SearXNG address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// searxResponse mirrors the parts of SearXNG's JSON output we read.
type searxResponse struct {
	Results *[]searxResult `json:"results"`
}

type searxResult struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	URL     *string `json:"url"`
}

// Search runs query against SearXNG in language lang (the configured
// language when empty) and returns at most MaxResults results. On any
// failure it returns exactly one synthetic result describing the failure
// and the failure's kind.
func (c *Client) Search(ctx context.Context, query, lang string) ([]Result, failure.Kind) {
	if lang == "" {
		lang = c.language
	}
	ctx, span := tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("search.language", lang),
	))
	defer span.End()

	results, err := c.search(ctx, query, lang)
	if err != nil {
		kind := failure.SearchUnavailable
		if failure.Classify(err) == failure.TimeoutError {
			kind = failure.TimeoutError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("web search failed", "error", err, "kind", kind)
		return []Result{{Title: c.labels.UnavailableTitle, Content: failureDetail(err)}}, kind
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, failure.None
}

func (c *Client) search(ctx context.Context, query, lang string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, classify("waiting for search slot", err)
	}
	defer c.sem.Release(1)

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("language", lang)
	params.Set("safesearch", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating search request: %w", failure.ErrSearchUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify("search request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", failure.ErrSearchUnavailable, resp.StatusCode)
	}

	var body searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, classify("decoding search response", err)
	}
	if body.Results == nil {
		return nil, fmt.Errorf("%w: response has no results list", failure.ErrSearchUnavailable)
	}
	return c.format(*body.Results), nil
}

// failureDetail is the error text without the unavailable sentinel, which
// the synthetic result's title already carries.
func failureDetail(err error) string {
	return strings.TrimPrefix(err.Error(), failure.ErrSearchUnavailable.Error()+": ")
}

// format keeps the first MaxResults hits and fills in missing fields.
func (c *Client) format(raw []searxResult) []Result {
	if len(raw) > MaxResults {
		raw = raw[:MaxResults]
	}
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		res := Result{Title: c.labels.NoTitle, URL: "#"}
		if r.Title != nil {
			res.Title = textOf(*r.Title)
		}
		if r.Content != nil {
			res.Content = textOf(*r.Content)
		}
		if r.URL != nil {
			res.URL = *r.URL
		}
		out = append(out, res)
	}
	return out
}

// Context runs a search in the configured language and formats the results
// as a numbered block under the search header. It returns "" when search is
// disabled or there are no results; a failed search still yields a block
// holding the synthetic result.
func (c *Client) Context(ctx context.Context, query string) (string, failure.Kind) {
	if c.disabled {
		return "", failure.None
	}
	results, kind := c.Search(ctx, query, "")
	return FormatContext(c.labels.Header, results), kind
}

// FormatContext renders results as they are inserted into memory.
func FormatContext(header string, results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	for i, r := range results {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(r.Title)
		sb.WriteString(": ")
		sb.WriteString(truncateRunes(r.Content, SnippetRunes))
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncateRunes cuts s to n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", failure.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", failure.ErrSearchUnavailable, op, err)
}
