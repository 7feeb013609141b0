// Package embedding turns text into fixed-dimension vectors for the memory
// store. All encoders return unit-normalized vectors so L2 distance and
// cosine similarity rank neighbours identically.
package embedding

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// DefaultDimensions matches the MiniLM family of sentence encoders.
const DefaultDimensions = 384

// Vector is an embedding produced by an Encoder.
type Vector []float32

// Encoder converts text into a Vector. Implementations must be deterministic
// for a given text within one process lifetime and safe for concurrent use.
type Encoder interface {
	Encode(ctx context.Context, text string) (Vector, error)
	Dimensions() int
}

// EncodeBatch encodes texts concurrently, preserving input order.
// Returns nil (not error) for empty/nil input.
func EncodeBatch(ctx context.Context, enc Encoder, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([]Vector, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming a remote encoder.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := enc.Encode(gCtx, text)
			if err != nil {
				return fmt.Errorf("encoding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v Vector) Vector {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

// SquaredL2 returns the squared Euclidean distance between a and b.
// Vectors of different length are treated as infinitely far apart.
func SquaredL2(a, b Vector) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// L2 returns the Euclidean distance between a and b.
func L2(a, b Vector) float64 {
	return math.Sqrt(SquaredL2(a, b))
}
