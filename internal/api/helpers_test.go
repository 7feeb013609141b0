package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kalambet/ragchat/internal/composer"
	"github.com/kalambet/ragchat/internal/embedding"
	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/memory"
	"github.com/kalambet/ragchat/internal/metrics"
	"github.com/kalambet/ragchat/internal/ollama"
	"github.com/kalambet/ragchat/internal/pipeline"
	"github.com/kalambet/ragchat/internal/search"
	"github.com/kalambet/ragchat/internal/storage"
)

// testEnv is a Service wired to fake Ollama and SearXNG servers.
type testEnv struct {
	service     *Service
	store       *storage.Store
	memories    *memory.Registry
	search      *search.Client
	metrics     *metrics.Metrics
	uploadDir   string
	pingStatus  atomic.Int32
	generations atomic.Int32
	searches    atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{uploadDir: t.TempDir()}
	env.pingStatus.Store(http.StatusOK)

	gen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(int(env.pingStatus.Load()))
		case "/api/generate":
			env.generations.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"response": "model answer", "done": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(gen.Close)

	searx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.searches.Add(1)
		w.Write([]byte(`{"results":[{"title":"Result","content":"snippet","url":"https://example.com"}]}`))
	}))
	t.Cleanup(searx.Close)

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	msgs := composer.Catalog("en")
	env.store = store
	env.metrics = metrics.New()
	env.memories = memory.NewRegistry(func() *memory.Store {
		return memory.New(embedding.NewHashEncoder(0))
	}, 0)
	env.search = search.New(search.Config{BaseURL: searx.URL})
	orch := pipeline.New(
		ollama.New(gen.URL),
		env.search,
		ingest.New(0, ingest.Labels{}),
		composer.New(msgs, 0),
		env.metrics,
		pipeline.Config{Model: "test-model"},
	)
	env.service = NewService(store, env.memories, orch, msgs, env.uploadDir)
	return env
}

func (env *testEnv) handler() http.Handler {
	return NewHandler(Deps{Service: env.service, Store: env.store, Metrics: env.metrics})
}
