package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/ragchat/internal/failure"
)

func newSearxServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("format") != "json" || q.Get("safesearch") != "1" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSearch_FormatsFirstThree(t *testing.T) {
	srv, _ := newSearxServer(t, `{"results":[
		{"title":"Go","content":"The Go <b>programming</b> language","url":"https://go.dev"},
		{"content":"no title here"},
		{"title":"Third","content":"c3","url":"u3"},
		{"title":"Fourth","content":"c4","url":"u4"}
	]}`)

	c := New(Config{BaseURL: srv.URL})
	results, kind := c.Search(context.Background(), "golang", "en")
	if kind != failure.None {
		t.Fatalf("kind = %q, want none", kind)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	if results[0].Content != "The Go programming language" {
		t.Errorf("content = %q, html not stripped", results[0].Content)
	}
	if results[1].Title != "no title" || results[1].URL != "#" {
		t.Errorf("defaults not applied: %+v", results[1])
	}
}

func TestSearch_SendsQueryAndLanguage(t *testing.T) {
	var gotQ, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ, gotLang = r.URL.Query().Get("q"), r.URL.Query().Get("language")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	c.Search(context.Background(), "hello world", "")
	if gotQ != "hello world" || gotLang != "zh" {
		t.Errorf("q=%q language=%q, want hello world / zh", gotQ, gotLang)
	}
}

func TestSearch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	results, kind := c.Search(context.Background(), "slow", "")
	if kind != failure.TimeoutError {
		t.Fatalf("kind = %q, want TimeoutError", kind)
	}
	if len(results) != 1 || results[0].Title != "search service unavailable" {
		t.Errorf("results = %+v, want one synthetic result", results)
	}
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) }},
		{"missing results", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) }},
		{"null results", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"results":null}`)) }},
		{"null body", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`null`)) }},
		{"results not a list", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"results":"oops"}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			results, kind := New(Config{BaseURL: srv.URL}).Search(context.Background(), "q", "")
			if kind != failure.SearchUnavailable {
				t.Errorf("kind = %q, want SearchUnavailable", kind)
			}
			if len(results) != 1 || results[0].Content == "" {
				t.Fatalf("results = %+v, want one synthetic result with detail", results)
			}
			if strings.HasPrefix(results[0].Content, "search service unavailable") {
				t.Errorf("detail repeats the title: %q", results[0].Content)
			}
		})
	}
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, kind := New(Config{BaseURL: srv.URL}).Search(context.Background(), "q", "")
	if kind != failure.SearchUnavailable {
		t.Errorf("kind = %q, want SearchUnavailable", kind)
	}
}

func TestContext_Format(t *testing.T) {
	long := strings.Repeat("x", 250)
	srv, _ := newSearxServer(t, `{"results":[
		{"title":"Short","content":"brief","url":"u1"},
		{"title":"Long","content":"`+long+`","url":"u2"}
	]}`)

	got, kind := New(Config{BaseURL: srv.URL}).Context(context.Background(), "q")
	if kind != failure.None {
		t.Fatalf("kind = %q", kind)
	}
	want := "[web search results]\n1. Short: brief\n2. Long: " + strings.Repeat("x", 200) + "...\n"
	if got != want {
		t.Errorf("Context =\n%q\nwant\n%q", got, want)
	}
}

func TestContext_NoResults(t *testing.T) {
	srv, _ := newSearxServer(t, `{"results":[]}`)
	if got, _ := New(Config{BaseURL: srv.URL}).Context(context.Background(), "q"); got != "" {
		t.Errorf("Context = %q, want empty", got)
	}
}

func TestContext_FailureNeverPanicsAndIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	got, kind := New(Config{BaseURL: srv.URL}).Context(context.Background(), "q")
	if kind != failure.SearchUnavailable {
		t.Errorf("kind = %q", kind)
	}
	if !strings.HasPrefix(got, "[web search results]\n1. search service unavailable: search request: ") {
		t.Errorf("Context = %q", got)
	}
	if strings.Count(got, "search service unavailable") != 1 {
		t.Errorf("unavailable note repeated: %q", got)
	}
}

func TestContext_Disabled(t *testing.T) {
	srv, calls := newSearxServer(t, `{"results":[{"title":"t","content":"c"}]}`)
	c := New(Config{BaseURL: srv.URL, Disabled: true})
	if got, kind := c.Context(context.Background(), "q"); got != "" || kind != failure.None {
		t.Errorf("Context = %q, %q; want empty", got, kind)
	}
	if calls.Load() != 0 {
		t.Errorf("disabled client made %d requests", calls.Load())
	}
}

func TestContext_CustomLabels(t *testing.T) {
	srv, _ := newSearxServer(t, `{"results":[{"content":"内容"}]}`)
	c := New(Config{BaseURL: srv.URL, Labels: Labels{Header: "【网络搜索结果】", NoTitle: "无标题", UnavailableTitle: "搜索服务不可用"}})
	got, _ := c.Context(context.Background(), "q")
	if got != "【网络搜索结果】\n1. 无标题: 内容\n" {
		t.Errorf("Context = %q", got)
	}
}

func TestTextOf(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain  text\n here", "plain text here"},
		{"<p>one</p><p>two</p>", "one two"},
		{"Go<b>lang</b> &amp; friends", "Golang & friends"},
		{"a<script>alert(1)</script>b", "ab"},
		{"line<br/>break", "line break"},
	}
	for _, tt := range tests {
		if got := textOf(tt.in); got != tt.want {
			t.Errorf("textOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("你好世界", 2); got != "你好..." {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes = %q", got)
	}
}
