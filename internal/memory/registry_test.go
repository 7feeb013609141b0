package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/ragchat/internal/embedding"
)

func newTestRegistry(maxStores int) *Registry {
	enc := embedding.NewHashEncoder(16)
	return NewRegistry(func() *Store { return New(enc, WithCapacity(4)) }, maxStores)
}

func TestRegistry_GetCreatesOncePerID(t *testing.T) {
	r := newTestRegistry(0)

	a := r.Get("conv-a")
	if again := r.Get("conv-a"); again != a {
		t.Fatal("Get returned a different store for the same id")
	}
	if b := r.Get("conv-b"); b == a {
		t.Fatal("different ids share a store")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestRegistry_GetOrCreateReportsCreation(t *testing.T) {
	r := newTestRegistry(0)

	a, created := r.GetOrCreate("conv-a")
	if !created {
		t.Error("first GetOrCreate should create")
	}
	again, created := r.GetOrCreate("conv-a")
	if created || again != a {
		t.Error("second GetOrCreate should return the existing store")
	}

	r.Drop("conv-a")
	if _, created := r.GetOrCreate("conv-a"); !created {
		t.Error("GetOrCreate after Drop should create")
	}
}

func TestRegistry_IsolatesConversations(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(0)
	_ = r.Get("a").Insert(ctx, "secret for a")

	got, _ := r.Get("b").Query(ctx, "secret for a", 3)
	if len(got) != 0 {
		t.Errorf("conversation b saw %v", got)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := newTestRegistry(0)
	stores := make([]*Store, 16)
	var wg sync.WaitGroup
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i] = r.Get("shared")
		}(i)
	}
	wg.Wait()
	for _, s := range stores[1:] {
		if s != stores[0] {
			t.Fatal("concurrent Get created more than one store")
		}
	}
}

func TestRegistry_LookupAndDrop(t *testing.T) {
	r := newTestRegistry(0)
	if _, ok := r.Lookup("x"); ok {
		t.Fatal("Lookup created a store")
	}
	r.Get("x")
	if _, ok := r.Lookup("x"); !ok {
		t.Fatal("Lookup missed existing store")
	}
	if !r.Drop("x") {
		t.Error("Drop(x) = false")
	}
	if r.Drop("x") {
		t.Error("second Drop(x) = true")
	}
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	r := newTestRegistry(2)
	r.Get("old")
	time.Sleep(2 * time.Millisecond)
	recent := r.Get("recent")
	time.Sleep(2 * time.Millisecond)
	_, _ = recent.Query(context.Background(), "touch", 1)

	r.Get("new")
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if _, ok := r.Lookup("old"); ok {
		t.Error("least recently used store was kept")
	}
	if _, ok := r.Lookup("recent"); !ok {
		t.Error("recently used store was evicted")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r := newTestRegistry(0)
	for i := 0; i < 3; i++ {
		r.Get(fmt.Sprintf("c%d", i))
	}

	if n := r.Sweep(time.Hour); n != 0 {
		t.Fatalf("Sweep dropped %d fresh stores", n)
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if n := r.Sweep(time.Hour); n != 3 {
		t.Fatalf("Sweep dropped %d, want 3", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after sweep", r.Len())
	}
}

func TestJanitor_SweepOnce(t *testing.T) {
	r := newTestRegistry(0)
	r.Get("idle")
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	j := NewJanitor(r, time.Minute, time.Minute)
	j.SweepOnce()
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestJanitor_StartStop(t *testing.T) {
	r := newTestRegistry(0)
	j := NewJanitor(r, time.Minute, time.Hour)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
	j.Stop()

	disabled := NewJanitor(r, 0, time.Hour)
	if err := disabled.Start(); err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	disabled.Stop()
}
