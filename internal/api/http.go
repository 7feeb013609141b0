package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/ragchat/internal/metrics"
	"github.com/kalambet/ragchat/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 32 << 20 // 32MB
)

// Deps holds the dependencies of the HTTP API.
type Deps struct {
	Service *Service
	Store   *storage.Store
	Metrics *metrics.Metrics // optional; /metrics is 404 without it
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", handleChat(deps))
		r.Get("/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Post("/conversations/{id}/documents", handleUploadDocument(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// handleChat accepts multipart/form-data (fields message, conversation_id,
// user_id, optional file) or a JSON body without a file.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TurnRequest

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "multipart/form-data":
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
			if err := r.ParseMultipartForm(maxUploadSize); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
				return
			}
			defer r.MultipartForm.RemoveAll()

			req.UserID = r.FormValue("user_id")
			req.ConversationID = r.FormValue("conversation_id")
			req.Message = r.FormValue("message")
			if f, hdr, err := r.FormFile("file"); err == nil {
				defer f.Close()
				req.File = &Upload{Name: hdr.Filename, Body: f}
			} else if !errors.Is(err, http.ErrMissingFile) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading file: %v", err)
				return
			}

		default:
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			var body chatRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			req.UserID = body.UserID
			req.ConversationID = body.ConversationID
			req.Message = body.Message
		}

		resp, err := deps.Service.Turn(r.Context(), req)
		switch {
		case errors.Is(err, ErrEmptyMessage):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

type conversationView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)

		convs, err := deps.Store.ListConversations(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}

		views := make([]conversationView, 0, len(convs))
		for _, c := range convs {
			views = append(views, conversationView{
				ID:           c.ID,
				Title:        c.Title,
				CreatedAt:    c.CreatedAt,
				LastActivity: c.LastActivity,
				MessageCount: c.MessageCount,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetConversation(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		msgs, err := deps.Store.ListMessages(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		views := make([]MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, messageView(m))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Service.DeleteConversation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		f, hdr, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer f.Close()

		resp, err := deps.Service.UploadDocument(id, Upload{Name: hdr.Filename, Body: f})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue document: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

type documentView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	Kind           string    `json:"kind,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, documentView{
			ID:             doc.ID,
			ConversationID: doc.ConversationID,
			Filename:       doc.Filename,
			Status:         doc.Status,
			Kind:           doc.Kind,
			Detail:         doc.Detail,
			UpdatedAt:      doc.UpdatedAt,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
