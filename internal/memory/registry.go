package memory

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxStores bounds how many conversation stores a Registry keeps.
const DefaultMaxStores = 1000

// Registry owns one Store per conversation ID. Stores are created lazily
// and dropped when idle or when the registry is over its bound, least
// recently used first.
type Registry struct {
	mu        sync.RWMutex
	stores    map[string]*Store
	factory   func() *Store
	maxStores int
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistry creates a registry that builds new stores with factory.
// If maxStores <= 0, DefaultMaxStores is used.
func NewRegistry(factory func() *Store, maxStores int) *Registry {
	if maxStores <= 0 {
		maxStores = DefaultMaxStores
	}
	return &Registry{
		stores:    make(map[string]*Store),
		factory:   factory,
		maxStores: maxStores,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Get returns the store for id, creating it on first use.
func (r *Registry) Get(id string) *Store {
	s, _ := r.GetOrCreate(id)
	return s
}

// GetOrCreate returns the store for id and whether this call created it.
func (r *Registry) GetOrCreate(id string) (*Store, bool) {
	r.mu.RLock()
	s, ok := r.stores[id]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[id]; ok {
		return s, false
	}
	if len(r.stores) >= r.maxStores {
		r.evictLRULocked()
	}
	s = r.factory()
	r.stores[id] = s
	return s, true
}

// Lookup returns the store for id without creating one.
func (r *Registry) Lookup(id string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	return s, ok
}

// Drop forgets the store for id. It reports whether one existed.
func (r *Registry) Drop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[id]; !ok {
		return false
	}
	delete(r.stores, id)
	return true
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// Sweep drops every store unused for longer than idle and returns how many
// were dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, s := range r.stores {
		if s.LastUsed().Before(cutoff) {
			delete(r.stores, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Info("dropped idle conversation memories", "count", dropped, "remaining", len(r.stores))
	}
	return dropped
}

func (r *Registry) evictLRULocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, s := range r.stores {
		if at := s.LastUsed(); oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID != "" {
		delete(r.stores, oldestID)
		r.logger.Debug("evicted least recently used conversation memory", "conversation", oldestID)
	}
}
