// Package ingest turns uploaded documents into memory entries. It extracts
// plain text from PDF and Word files, records a placeholder for anything
// else, and never lets a bad file fail the surrounding turn.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kalambet/ragchat/internal/failure"
)

// DefaultMaxChars is how much extracted text is kept for memory.
const DefaultMaxChars = 2000

// Inserter is the part of a memory store the ingestor writes to.
type Inserter interface {
	Insert(ctx context.Context, text string) error
}

// Labels are the fixed prefixes the ingestor writes into memory.
type Labels struct {
	FileContent     string
	UnsupportedType string
	ExtractionError string
}

// DefaultLabels returns the English labels.
func DefaultLabels() Labels {
	return Labels{
		FileContent:     "file content: ",
		UnsupportedType: "[unsupported file type] ",
		ExtractionError: "[file extraction error] ",
	}
}

// Result describes what ingesting one file did.
type Result struct {
	Path     string       `json:"path"`
	Text     string       `json:"text,omitempty"` // the memory entry text, if any was derived
	Kind     failure.Kind `json:"kind,omitempty"`
	Err      error        `json:"-"`
	Inserted bool         `json:"inserted"`
}

// Detail returns the error message, or "" when ingestion succeeded.
func (r Result) Detail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// extractor pulls plain text out of a file.
type extractor func(path string) (string, error)

// Ingestor extracts text from files and inserts it into a memory store.
type Ingestor struct {
	maxChars   int
	labels     Labels
	extractors map[string]extractor
	logger     *slog.Logger
}

// New creates an Ingestor that keeps at most maxChars runes of extracted
// text. If maxChars <= 0, DefaultMaxChars is used; zero labels take the
// English defaults.
func New(maxChars int, labels Labels) *Ingestor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if labels == (Labels{}) {
		labels = DefaultLabels()
	}
	return &Ingestor{
		maxChars: maxChars,
		labels:   labels,
		extractors: map[string]extractor{
			".pdf":  extractPDF,
			".docx": extractDOCX,
			".doc":  extractDOCX,
		},
		logger: slog.Default(),
	}
}

// Supported reports whether path has an extension the ingestor can read.
func (ing *Ingestor) Supported(path string) bool {
	_, ok := ing.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Ingest reads the file at path and inserts at most one entry into store:
// the truncated file text, an unsupported-type placeholder, or an
// extraction error note. Blank documents insert nothing. Ingest never
// returns an error; failures are reported in the Result.
func (ing *Ingestor) Ingest(ctx context.Context, store Inserter, path string) Result {
	res := Result{Path: path}
	name := filepath.Base(path)

	extract, ok := ing.extractors[strings.ToLower(filepath.Ext(path))]
	switch {
	case !ok:
		res.Kind = failure.UnsupportedFileType
		res.Err = fmt.Errorf("%w: %s", failure.ErrUnsupportedFileType, name)
		res.Text = ing.labels.UnsupportedType + name

	default:
		raw, err := extract(path)
		if err != nil {
			res.Kind = failure.ExtractionError
			res.Err = fmt.Errorf("%w: %s: %w", failure.ErrExtraction, name, err)
			res.Text = ing.labels.ExtractionError + err.Error()
			break
		}
		text := strings.TrimSpace(raw)
		if text == "" {
			ing.logger.Debug("document has no text", "file", name)
			return res
		}
		res.Text = ing.labels.FileContent + truncate(text, ing.maxChars)
	}

	if res.Err != nil {
		ing.logger.Warn("document ingestion degraded", "file", name, "kind", res.Kind, "error", res.Err)
	}

	if err := store.Insert(ctx, res.Text); err != nil {
		ing.logger.Warn("inserting document into memory failed", "file", name, "error", err)
		if res.Err == nil {
			res.Err = fmt.Errorf("inserting %s into memory: %w", name, err)
		} else {
			res.Err = errors.Join(res.Err, err)
		}
		return res
	}
	res.Inserted = true
	return res
}

// truncate keeps the first n runes of s, marking a cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
