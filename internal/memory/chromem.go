package memory

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kalambet/ragchat/internal/embedding"
)

const chromemCollection = "memory"

// chromemIndex keeps entry vectors in an in-process chromem-go collection.
// Document IDs are the decimal entry Seq. Eviction rebuilds the collection
// from the remaining entries so IDs and vectors never drift apart.
//
// chromem cannot normalize a zero vector, so those entries are tracked
// separately and always offered as candidates.
type chromemIndex struct {
	db   *chromem.DB
	col  *chromem.Collection
	keys []uint64
	zero map[uint64]bool
}

func newChromemIndex() *chromemIndex {
	c := &chromemIndex{}
	// An empty rebuild only fails if chromem rejects the collection name.
	_ = c.reset()
	return c
}

func (c *chromemIndex) reset() error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return fmt.Errorf("creating chromem collection: %w", err)
	}
	c.db, c.col = db, col
	c.keys = nil
	c.zero = make(map[uint64]bool)
	return nil
}

func (c *chromemIndex) Add(ctx context.Context, e Entry) error {
	if c.col == nil {
		return fmt.Errorf("chromem collection not initialized")
	}
	if isZero(e.Vector) {
		c.zero[e.Seq] = true
		c.keys = append(c.keys, e.Seq)
		return nil
	}
	doc := chromem.Document{
		ID:        strconv.FormatUint(e.Seq, 10),
		Content:   e.Text,
		Embedding: append([]float32(nil), e.Vector...),
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding chromem document %d: %w", e.Seq, err)
	}
	c.keys = append(c.keys, e.Seq)
	return nil
}

func (c *chromemIndex) RemoveOldest(ctx context.Context, _ uint64, remaining []Entry) error {
	return c.Rebuild(ctx, remaining)
}

func (c *chromemIndex) Candidates(ctx context.Context, query embedding.Vector, n int) ([]uint64, error) {
	if isZero(query) {
		return c.Keys(), nil
	}

	out := make([]uint64, 0, n+len(c.zero))
	for seq := range c.zero {
		out = append(out, seq)
	}

	if c.col == nil {
		return out, nil
	}
	count := c.col.Count()
	if n > count {
		n = count
	}
	if n <= 0 {
		return out, nil
	}

	results, err := c.col.QueryEmbedding(ctx, append([]float32(nil), query...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}
	for _, r := range results {
		seq, err := strconv.ParseUint(r.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, seq)
	}
	return out, nil
}

func (c *chromemIndex) Rebuild(ctx context.Context, entries []Entry) error {
	if err := c.reset(); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.Add(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (c *chromemIndex) Keys() []uint64 {
	out := make([]uint64, len(c.keys))
	copy(out, c.keys)
	return out
}

func isZero(v embedding.Vector) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
