package embedding

import (
	"context"
	"fmt"
	"time"
)

// maxOllamaInputRunes bounds what is sent to the embed endpoint; the model
// truncates to its own context anyway.
const maxOllamaInputRunes = 8000

// DefaultEmbedTimeout bounds a single embed call.
const DefaultEmbedTimeout = 10 * time.Second

// EmbedClient is the subset of the Ollama client used for embeddings.
type EmbedClient interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// OllamaEncoder encodes text through the generation backend's embed endpoint.
type OllamaEncoder struct {
	client  EmbedClient
	model   string
	dims    int
	timeout time.Duration
}

// OllamaOption configures an OllamaEncoder.
type OllamaOption func(*OllamaEncoder)

// WithEmbedTimeout bounds each embed call. Non-positive values keep the
// default.
func WithEmbedTimeout(d time.Duration) OllamaOption {
	return func(e *OllamaEncoder) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewOllamaEncoder creates an OllamaEncoder for the given embed model.
// dims is the expected vector size; responses of another size are rejected.
func NewOllamaEncoder(client EmbedClient, model string, dims int, opts ...OllamaOption) *OllamaEncoder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	e := &OllamaEncoder{client: client, model: model, dims: dims, timeout: DefaultEmbedTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode returns the normalized embedding for text.
func (e *OllamaEncoder) Encode(ctx context.Context, text string) (Vector, error) {
	if r := []rune(text); len(r) > maxOllamaInputRunes {
		text = string(r[:maxOllamaInputRunes])
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) != e.dims {
		return nil, fmt.Errorf("embed model %s returned %d dimensions, want %d", e.model, len(vec), e.dims)
	}
	return Normalize(Vector(vec)), nil
}

// Dimensions returns the vector size.
func (e *OllamaEncoder) Dimensions() int { return e.dims }
