// Package memory holds the bounded semantic memory used to ground
// generation. A Store is a fixed-capacity ring of entries with FIFO
// eviction and exact nearest-neighbour lookup; a Registry keeps one Store
// per conversation.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/ragchat/internal/embedding"
)

// DefaultCapacity is the number of entries a Store keeps before evicting.
const DefaultCapacity = 20

// Entry is one remembered text with its embedding. Seq is the insertion
// number within the owning Store and never repeats.
type Entry struct {
	Seq       uint64
	Text      string
	Vector    embedding.Vector
	CreatedAt time.Time
}

// Match is an Entry returned by a query along with its L2 distance to the
// query vector.
type Match struct {
	Entry
	Distance float64
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the maximum number of entries. Values <= 0 are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithIndex selects the similarity index implementation.
func WithIndex(kind IndexKind) Option {
	return func(s *Store) { s.indexKind = kind }
}

// WithLogger overrides the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a capacity-bounded, FIFO-evicting memory of texts. All methods
// are safe for concurrent use; inserts and evictions are serialized against
// queries so a reader never sees the ring and the index disagree.
type Store struct {
	enc       embedding.Encoder
	capacity  int
	indexKind IndexKind
	logger    *slog.Logger

	mu      sync.RWMutex
	ring    []Entry
	head    int // position of the oldest entry
	size    int
	nextSeq uint64
	index   Index

	lastUsed atomic.Int64 // unix nanos of the last Insert or Query
}

// New creates an empty Store that embeds texts with enc.
func New(enc embedding.Encoder, opts ...Option) *Store {
	s := &Store{
		enc:       enc,
		capacity:  DefaultCapacity,
		indexKind: IndexFlat,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ring = make([]Entry, s.capacity)
	s.index = newIndex(s.indexKind)
	s.touch()
	return s
}

// Insert embeds text and appends it as the newest entry. When the store is
// already full the single oldest entry is evicted first. An encoder error
// leaves the store unchanged.
func (s *Store) Insert(ctx context.Context, text string) error {
	vec, err := s.enc.Encode(ctx, text)
	if err != nil {
		return fmt.Errorf("encoding memory entry: %w", err)
	}
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(ctx, text, vec)
	return nil
}

// InsertBatch embeds texts concurrently and appends them oldest first, as
// if Insert had been called for each in order. An encoder error leaves the
// store unchanged.
func (s *Store) InsertBatch(ctx context.Context, texts []string) error {
	vecs, err := embedding.EncodeBatch(ctx, s.enc, texts)
	if err != nil {
		return fmt.Errorf("encoding memory entries: %w", err)
	}
	if len(vecs) == 0 {
		return nil
	}
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, text := range texts {
		s.insertLocked(ctx, text, vecs[i])
	}
	return nil
}

func (s *Store) insertLocked(ctx context.Context, text string, vec embedding.Vector) {
	if s.size == s.capacity {
		evicted := s.ring[s.head]
		s.ring[s.head] = Entry{}
		s.head = (s.head + 1) % s.capacity
		s.size--
		if err := s.index.RemoveOldest(ctx, evicted.Seq, s.entriesLocked()); err != nil {
			s.repairLocked(ctx, err)
		}
	}

	e := Entry{Seq: s.nextSeq, Text: text, Vector: vec, CreatedAt: time.Now().UTC()}
	s.nextSeq++
	s.ring[(s.head+s.size)%s.capacity] = e
	s.size++
	if err := s.index.Add(ctx, e); err != nil {
		s.repairLocked(ctx, err)
	}
}

// Query returns the texts of the k entries nearest to text by L2 distance,
// closest first. Fewer than k entries yields all of them; an empty store or
// k <= 0 yields an empty slice.
func (s *Store) Query(ctx context.Context, text string, k int) ([]string, error) {
	matches, err := s.QueryScored(ctx, text, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return texts, nil
}

// QueryScored is Query with the matched entries and their distances.
// Equal distances are ordered by insertion, earlier first.
func (s *Store) QueryScored(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := s.enc.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encoding memory query: %w", err)
	}
	s.touch()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.size == 0 {
		return nil, nil
	}
	n := min(k, s.size)

	seqs, err := s.index.Candidates(ctx, vec, candidateCount(n, s.size))
	if err != nil {
		s.logger.Warn("memory index query failed, scanning all entries", "error", err)
		seqs = s.index.Keys()
	}

	matches := make([]Match, 0, len(seqs))
	for _, seq := range seqs {
		e, ok := s.lookupLocked(seq)
		if !ok {
			continue // stale key from the index; never return it
		}
		matches = append(matches, Match{Entry: e, Distance: embedding.L2(vec, e.Vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Seq < matches[j].Seq
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int { return s.capacity }

// Entries returns a copy of the held entries, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked()
}

// Reset drops every entry. Sequence numbers keep increasing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]Entry, s.capacity)
	s.head, s.size = 0, 0
	s.index = newIndex(s.indexKind)
}

// LastUsed reports when the store was last inserted into or queried.
func (s *Store) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Store) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Store) entriesLocked() []Entry {
	out := make([]Entry, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%s.capacity]
	}
	return out
}

// lookupLocked finds the entry with the given seq. Held entries always carry
// consecutive seqs starting at the oldest, so the position is arithmetic and
// anything outside the live range is rejected.
func (s *Store) lookupLocked(seq uint64) (Entry, bool) {
	if s.size == 0 {
		return Entry{}, false
	}
	oldest := s.ring[s.head].Seq
	if seq < oldest || seq-oldest >= uint64(s.size) {
		return Entry{}, false
	}
	return s.ring[(s.head+int(seq-oldest))%s.capacity], true
}

// repairLocked rebuilds the index from the ring after an index failure. If
// the configured index cannot be rebuilt the store falls back to the flat
// index, which cannot fail.
func (s *Store) repairLocked(ctx context.Context, cause error) {
	s.logger.Warn("memory index out of sync, rebuilding", "error", cause)
	entries := s.entriesLocked()
	if err := s.index.Rebuild(ctx, entries); err == nil {
		return
	}
	flat := newFlatIndex()
	_ = flat.Rebuild(ctx, entries)
	s.index = flat
	s.logger.Warn("memory index rebuild failed, using flat index", "index", s.indexKind)
}

// candidateCount widens the candidate set an approximate index must return
// so the exact re-rank can honour insertion-order tie breaks.
func candidateCount(n, size int) int {
	return min(size, max(4*n, 16))
}
