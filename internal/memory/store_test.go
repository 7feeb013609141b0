package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ragchat/internal/embedding"
)

// fixedEncoder returns preset vectors for known texts and a hash embedding
// for everything else.
type fixedEncoder struct {
	vecs map[string]embedding.Vector
	err  error
	fall embedding.Encoder
}

func newFixedEncoder(vecs map[string]embedding.Vector) *fixedEncoder {
	return &fixedEncoder{vecs: vecs, fall: embedding.NewHashEncoder(2)}
}

func (f *fixedEncoder) Encode(ctx context.Context, text string) (embedding.Vector, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return append(embedding.Vector(nil), v...), nil
	}
	return f.fall.Encode(ctx, text)
}

func (f *fixedEncoder) Dimensions() int { return 2 }

var indexKinds = []IndexKind{IndexFlat, IndexChromem}

func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ringSeqs []uint64
	for _, e := range s.entriesLocked() {
		ringSeqs = append(ringSeqs, e.Seq)
	}
	if keys := s.index.Keys(); !slices.Equal(keys, ringSeqs) && !(len(keys) == 0 && len(ringSeqs) == 0) {
		t.Fatalf("index keys %v out of step with ring %v", keys, ringSeqs)
	}
	if s.size > s.capacity {
		t.Fatalf("size %d exceeds capacity %d", s.size, s.capacity)
	}
}

func TestStore_FIFOEviction(t *testing.T) {
	for _, kind := range indexKinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			s := New(embedding.NewHashEncoder(64), WithIndex(kind))

			for i := 1; i <= 21; i++ {
				if err := s.Insert(ctx, fmt.Sprintf("memory text number %d", i)); err != nil {
					t.Fatalf("Insert %d: %v", i, err)
				}
				assertConsistent(t, s)
			}

			if s.Len() != 20 {
				t.Fatalf("Len = %d, want 20", s.Len())
			}
			entries := s.Entries()
			if entries[0].Text != "memory text number 2" {
				t.Errorf("oldest = %q, want text 2", entries[0].Text)
			}
			if entries[19].Text != "memory text number 21" {
				t.Errorf("newest = %q, want text 21", entries[19].Text)
			}
			for _, e := range entries {
				if e.Text == "memory text number 1" {
					t.Fatal("first inserted text survived eviction")
				}
			}
		})
	}
}

func TestStore_CapacityBound(t *testing.T) {
	ctx := context.Background()
	s := New(embedding.NewHashEncoder(16), WithCapacity(3))
	for i := 0; i < 10; i++ {
		_ = s.Insert(ctx, fmt.Sprintf("t%d", i))
		if s.Len() > 3 {
			t.Fatalf("Len = %d after %d inserts", s.Len(), i+1)
		}
	}
	var texts []string
	for _, e := range s.Entries() {
		texts = append(texts, e.Text)
	}
	if want := []string{"t7", "t8", "t9"}; !slices.Equal(texts, want) {
		t.Errorf("entries = %v, want %v", texts, want)
	}
}

func TestStore_QueryOrderedByDistance(t *testing.T) {
	for _, kind := range indexKinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			enc := newFixedEncoder(map[string]embedding.Vector{
				"far":   {-1, 0},
				"near":  {1, 0},
				"mid":   {0, 1},
				"query": {0.9, 0.1},
			})
			s := New(enc, WithIndex(kind))
			for _, text := range []string{"far", "near", "mid"} {
				if err := s.Insert(ctx, text); err != nil {
					t.Fatalf("Insert: %v", err)
				}
			}

			matches, err := s.QueryScored(ctx, "query", 3)
			if err != nil {
				t.Fatalf("QueryScored: %v", err)
			}
			var got []string
			for i, m := range matches {
				got = append(got, m.Text)
				if i > 0 && matches[i-1].Distance > m.Distance {
					t.Errorf("distances not ascending: %v", matches)
				}
			}
			if want := []string{"near", "mid", "far"}; !slices.Equal(got, want) {
				t.Errorf("order = %v, want %v", got, want)
			}
		})
	}
}

func TestStore_QueryReturnsMinKSize(t *testing.T) {
	ctx := context.Background()
	s := New(embedding.NewHashEncoder(16))
	_ = s.Insert(ctx, "one")
	_ = s.Insert(ctx, "two")

	got, err := s.Query(ctx, "one", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}

	got, _ = s.Query(ctx, "one", 1)
	if len(got) != 1 || got[0] != "one" {
		t.Errorf("Query(k=1) = %v, want [one]", got)
	}
}

func TestStore_QueryEmptyAndNonPositiveK(t *testing.T) {
	ctx := context.Background()
	s := New(embedding.NewHashEncoder(16))

	if got, err := s.Query(ctx, "anything", 3); err != nil || len(got) != 0 {
		t.Errorf("empty store Query = %v, %v; want empty", got, err)
	}
	_ = s.Insert(ctx, "something")
	for _, k := range []int{0, -1} {
		if got, _ := s.Query(ctx, "something", k); len(got) != 0 {
			t.Errorf("Query(k=%d) = %v, want empty", k, got)
		}
	}
}

func TestStore_SelfMatchIsNearest(t *testing.T) {
	ctx := context.Background()
	s := New(embedding.NewHashEncoder(0))
	texts := []string{
		"the cat sat on the mat",
		"quarterly revenue grew",
		"rust borrow checker",
		"go channels and goroutines",
	}
	for _, text := range texts {
		_ = s.Insert(ctx, text)
	}
	for _, text := range texts {
		matches, err := s.QueryScored(ctx, text, 1)
		if err != nil {
			t.Fatalf("QueryScored: %v", err)
		}
		if matches[0].Text != text || matches[0].Distance != 0 {
			t.Errorf("nearest to %q = %q at %f", text, matches[0].Text, matches[0].Distance)
		}
	}
}

func TestStore_TiesBrokenByInsertionOrder(t *testing.T) {
	for _, kind := range indexKinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			enc := newFixedEncoder(map[string]embedding.Vector{
				"first":  {0, 1},
				"second": {0, 1},
				"third":  {0, 1},
				"q":      {1, 0},
			})
			s := New(enc, WithIndex(kind))
			for _, text := range []string{"first", "second", "third"} {
				_ = s.Insert(ctx, text)
			}
			got, _ := s.Query(ctx, "q", 2)
			if want := []string{"first", "second"}; !slices.Equal(got, want) {
				t.Errorf("Query = %v, want %v", got, want)
			}
		})
	}
}

func TestStore_EncoderErrorLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	enc := newFixedEncoder(nil)
	s := New(enc)
	_ = s.Insert(ctx, "kept")

	boom := errors.New("encoder down")
	enc.err = boom
	if err := s.Insert(ctx, "lost"); !errors.Is(err, boom) {
		t.Fatalf("Insert err = %v, want %v", err, boom)
	}
	if _, err := s.Query(ctx, "kept", 1); !errors.Is(err, boom) {
		t.Fatalf("Query err = %v, want %v", err, boom)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	assertConsistent(t, s)
}

func TestStore_InsertBatchKeepsOrderAndBound(t *testing.T) {
	for _, kind := range indexKinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			s := New(embedding.NewHashEncoder(16), WithCapacity(3), WithIndex(kind))
			_ = s.Insert(ctx, "first")

			if err := s.InsertBatch(ctx, []string{"a", "b", "c"}); err != nil {
				t.Fatalf("InsertBatch: %v", err)
			}
			var got []string
			for _, e := range s.Entries() {
				got = append(got, e.Text)
			}
			if !slices.Equal(got, []string{"a", "b", "c"}) {
				t.Errorf("entries = %v, want [a b c]", got)
			}
			assertConsistent(t, s)

			if err := s.InsertBatch(ctx, nil); err != nil {
				t.Errorf("empty batch: %v", err)
			}
		})
	}
}

func TestStore_InsertBatchEncoderError(t *testing.T) {
	ctx := context.Background()
	enc := newFixedEncoder(nil)
	s := New(enc)
	_ = s.Insert(ctx, "kept")

	enc.err = errors.New("encoder down")
	if err := s.InsertBatch(ctx, []string{"x", "y"}); err == nil {
		t.Fatal("expected error")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := New(embedding.NewHashEncoder(8), WithIndex(IndexChromem))
	_ = s.Insert(ctx, "a")
	_ = s.Insert(ctx, "b")
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("Len after Reset = %d", s.Len())
	}
	assertConsistent(t, s)

	_ = s.Insert(ctx, "c")
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Seq != 2 {
		t.Errorf("entries after Reset = %+v, want one entry with Seq 2", entries)
	}
}

func TestStore_ZeroVectorsWithChromem(t *testing.T) {
	ctx := context.Background()
	enc := newFixedEncoder(map[string]embedding.Vector{
		"blank": {0, 0},
		"real":  {1, 0},
		"q":     {1, 0},
	})
	s := New(enc, WithIndex(IndexChromem))
	_ = s.Insert(ctx, "blank")
	_ = s.Insert(ctx, "real")

	got, err := s.Query(ctx, "q", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if want := []string{"real", "blank"}; !slices.Equal(got, want) {
		t.Errorf("Query = %v, want %v", got, want)
	}
	if got, _ := s.Query(ctx, "blank", 1); len(got) != 1 {
		t.Errorf("zero query returned %v", got)
	}
}

func TestStore_LookupRejectsStaleSeq(t *testing.T) {
	ctx := context.Background()
	s := New(embedding.NewHashEncoder(8), WithCapacity(2))
	for _, text := range []string{"a", "b", "c"} {
		_ = s.Insert(ctx, text)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.lookupLocked(0); ok {
		t.Error("evicted seq 0 still resolvable")
	}
	if e, ok := s.lookupLocked(2); !ok || e.Text != "c" {
		t.Errorf("lookup(2) = %+v, %v", e, ok)
	}
	if _, ok := s.lookupLocked(3); ok {
		t.Error("future seq resolvable")
	}
}

func TestStore_ConcurrentInsertAndQuery(t *testing.T) {
	for _, kind := range indexKinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			s := New(embedding.NewHashEncoder(32), WithCapacity(5), WithIndex(kind))

			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(2)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						_ = s.Insert(ctx, fmt.Sprintf("writer %d item %d", w, i))
					}
				}(w)
				go func() {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						got, err := s.Query(ctx, "writer item", 3)
						if err != nil {
							t.Errorf("Query: %v", err)
							return
						}
						if len(got) > 3 {
							t.Errorf("Query returned %d results", len(got))
						}
					}
				}()
			}
			wg.Wait()

			if s.Len() != 5 {
				t.Errorf("Len = %d, want 5", s.Len())
			}
			assertConsistent(t, s)
		})
	}
}

func TestStore_LastUsedAdvances(t *testing.T) {
	s := New(embedding.NewHashEncoder(8))
	before := s.LastUsed()
	time.Sleep(2 * time.Millisecond)
	_, _ = s.Query(context.Background(), "x", 1)
	if !s.LastUsed().After(before) {
		t.Error("Query did not update LastUsed")
	}
}

func TestParseIndexKind(t *testing.T) {
	if k, err := ParseIndexKind("chromem"); err != nil || k != IndexChromem {
		t.Errorf("ParseIndexKind(chromem) = %q, %v", k, err)
	}
	if _, err := ParseIndexKind("hnsw"); err == nil {
		t.Error("expected error for unknown index")
	}
}
