package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/ragchat/internal/config"
	"github.com/kalambet/ragchat/internal/search"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        string
	Fields      map[string]string
	FileName    string
	FileBody    string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			ContentType: r.Header.Get("Content-Type"),
		}
		if mt, _, _ := mime.ParseMediaType(rec.ContentType); mt == "multipart/form-data" {
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				rec.Fields = map[string]string{}
				for k, v := range r.MultipartForm.Value {
					rec.Fields[k] = v[0]
				}
				if f, hdr, err := r.FormFile("file"); err == nil {
					b, _ := io.ReadAll(f)
					f.Close()
					rec.FileName = hdr.Filename
					rec.FileBody = string(b)
				}
			}
		} else {
			var body bytes.Buffer
			body.ReadFrom(r.Body)
			rec.Body = body.String()
		}
		ts.requests = append(ts.requests, rec)

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"conversation not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

func withoutColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

var ctx = context.Background()

const turnJSON = `{
	"conversation_id": "conv-1",
	"user_message": {"id":"m1","conversation_id":"conv-1","content":"hi","is_user":true},
	"model_response": {"id":"m2","conversation_id":"conv-1","content":"hello there","is_user":false},
	"succeeded": true,
	"model": "deepseek-r1:1.5b",
	"duration_ms": 12
}`

func TestSendChat_JSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /v1/chat": turnJSON})

	resp, err := sendChat(ctx, ts.client(), "hi", "conv-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ModelResponse.Content != "hello there" || !resp.Succeeded {
		t.Errorf("response = %+v", resp)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if req.ContentType != "application/json" {
		t.Errorf("content type = %q", req.ContentType)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("failed to parse request body: %v", err)
	}
	if body["message"] != "hi" || body["conversation_id"] != "conv-1" {
		t.Errorf("body = %v", body)
	}
}

func TestSendChat_WithFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /v1/chat": turnJSON})

	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := sendChat(ctx, ts.client(), "summarize", "", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := ts.requests[0]
	if req.Fields["message"] != "summarize" {
		t.Errorf("fields = %v", req.Fields)
	}
	if _, ok := req.Fields["conversation_id"]; ok {
		t.Error("empty conversation_id should not be sent")
	}
	if req.FileName != "notes.pdf" || req.FileBody != "%PDF-fake" {
		t.Errorf("file = %q %q", req.FileName, req.FileBody)
	}
}

func TestSendChat_EmptyMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := sendChat(ctx, ts.client(), "   ", "", ""); err == nil {
		t.Fatal("expected error for empty message")
	}
	if len(ts.requests) != 0 {
		t.Error("no request should be sent for an empty message")
	}
}

func TestSendChat_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := sendChat(ctx, ts.client(), "hi", "missing", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "conversation not found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestChatCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"chat"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "requires at least 1 arg") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestListConversations(t *testing.T) {
	withoutColor(t)
	ts := newTestServer(t, map[string]string{
		"GET /v1/conversations": `[{"id":"0123456789abcdef","title":"New conversation","last_activity":"2026-01-01T00:00:00Z","message_count":4}]`,
	})

	var out bytes.Buffer
	if err := listConversations(ctx, &out, ts.client(), 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.requests[0].Path != "/v1/conversations?limit=20" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	line := out.String()
	for _, want := range []string{"01234567", "2026-01-01T00:00:00Z", "4", "New conversation"} {
		if !strings.Contains(line, want) {
			t.Errorf("output %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "89abcdef") {
		t.Error("id should be shortened")
	}
}

func TestListConversations_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /v1/conversations": `[]`})

	var out bytes.Buffer
	if err := listConversations(ctx, &out, ts.client(), 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No conversations found.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestShowConversation(t *testing.T) {
	withoutColor(t)
	ts := newTestServer(t, map[string]string{
		"GET /v1/conversations/conv-1": `[
			{"id":"m1","content":"what is go","is_user":true,"created_at":"2026-01-01T10:00:00Z"},
			{"id":"m2","content":"error: cannot connect","is_user":false,"error_kind":"ConnectivityError","created_at":"2026-01-01T10:00:01Z"}
		]`,
	})

	var out bytes.Buffer
	if err := showConversation(ctx, &out, ts.client(), "conv-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"you [2026-01-01 10:00:00]", "what is go", "model [2026-01-01 10:00:01]", "ConnectivityError"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunSearch(t *testing.T) {
	withoutColor(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("language") != "en" {
			t.Errorf("language = %q", r.URL.Query().Get("language"))
		}
		w.Write([]byte(`{"results":[{"title":"Go","content":"The Go language","url":"https://go.dev"}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	client := search.New(search.Config{BaseURL: srv.URL})
	if err := runSearch(ctx, &out, client, "golang", "en"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "1. Go") || !strings.Contains(got, "https://go.dev") || !strings.Contains(got, "The Go language") {
		t.Errorf("output = %q", got)
	}
}

func TestRunSearch_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runSearch(ctx, &out, search.New(search.Config{BaseURL: srv.URL}), "golang", "")
	if err == nil || !strings.Contains(err.Error(), "SearchUnavailable") {
		t.Errorf("err = %v", err)
	}
	if !strings.Contains(out.String(), "search service unavailable") {
		t.Errorf("output = %q", out.String())
	}
}

func TestClient_NotReachable(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		w.Write([]byte("bad gateway"))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	resp, err := client.get(ctx, "/v1/conversations")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil || !strings.Contains(err.Error(), "502: bad gateway") {
		t.Errorf("err = %v", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintTurn(t *testing.T) {
	var out bytes.Buffer
	printTurn(&out, "the answer", true, "", nil)
	if out.String() != "the answer\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Ollama.Model = "deepseek-r1:1.5b"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestEmbedModel(t *testing.T) {
	cfg := config.Config{}
	cfg.Ollama.EmbedModel = "nomic-embed-text"

	cfg.Memory.Encoder = "hash"
	if got := embedModel(cfg); got != "" {
		t.Errorf("hash encoder: embedModel = %q, want empty", got)
	}
	cfg.Memory.Encoder = "ollama"
	if got := embedModel(cfg); got != "nomic-embed-text" {
		t.Errorf("ollama encoder: embedModel = %q", got)
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(abc) = %q", got)
	}
	if got := shortID("0123456789"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
}
