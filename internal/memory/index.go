package memory

import (
	"context"
	"fmt"

	"github.com/kalambet/ragchat/internal/embedding"
)

// IndexKind names a similarity index implementation.
type IndexKind string

const (
	// IndexFlat scans every entry. Exact, and cheap at memory-sized capacities.
	IndexFlat IndexKind = "flat"

	// IndexChromem keeps entries in an embedded chromem-go collection.
	IndexChromem IndexKind = "chromem"
)

// ParseIndexKind validates an index name from configuration.
func ParseIndexKind(s string) (IndexKind, error) {
	switch IndexKind(s) {
	case IndexFlat, IndexChromem:
		return IndexKind(s), nil
	default:
		return "", fmt.Errorf("unknown memory index %q (want %q or %q)", s, IndexFlat, IndexChromem)
	}
}

// Index maps entry keys (Seq) to vectors and proposes nearest-neighbour
// candidates. Keys are always addressed explicitly; an Index never derives
// an entry from its position. The Store re-ranks candidates exactly.
type Index interface {
	// Add registers e as the newest entry.
	Add(ctx context.Context, e Entry) error

	// RemoveOldest drops the entry with key seq, which must be the oldest.
	// remaining holds the entries left in the store, oldest first.
	RemoveOldest(ctx context.Context, seq uint64, remaining []Entry) error

	// Candidates returns up to n keys likely to be nearest to query.
	Candidates(ctx context.Context, query embedding.Vector, n int) ([]uint64, error)

	// Rebuild replaces the index contents with entries, oldest first.
	Rebuild(ctx context.Context, entries []Entry) error

	// Keys returns every key held, oldest first.
	Keys() []uint64
}

func newIndex(kind IndexKind) Index {
	if kind == IndexChromem {
		return newChromemIndex()
	}
	return newFlatIndex()
}

// flatIndex holds keys in insertion order and offers all of them as
// candidates.
type flatIndex struct {
	keys []uint64
}

func newFlatIndex() *flatIndex {
	return &flatIndex{}
}

func (f *flatIndex) Add(_ context.Context, e Entry) error {
	f.keys = append(f.keys, e.Seq)
	return nil
}

func (f *flatIndex) RemoveOldest(ctx context.Context, seq uint64, remaining []Entry) error {
	if len(f.keys) == 0 || f.keys[0] != seq {
		return f.Rebuild(ctx, remaining)
	}
	f.keys = append(f.keys[:0:0], f.keys[1:]...)
	return nil
}

func (f *flatIndex) Candidates(_ context.Context, _ embedding.Vector, _ int) ([]uint64, error) {
	return f.Keys(), nil
}

func (f *flatIndex) Rebuild(_ context.Context, entries []Entry) error {
	f.keys = make([]uint64, len(entries))
	for i, e := range entries {
		f.keys[i] = e.Seq
	}
	return nil
}

func (f *flatIndex) Keys() []uint64 {
	out := make([]uint64, len(f.keys))
	copy(out, f.keys)
	return out
}
