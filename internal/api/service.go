package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kalambet/ragchat/internal/composer"
	"github.com/kalambet/ragchat/internal/failure"
	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/memory"
	"github.com/kalambet/ragchat/internal/pipeline"
	"github.com/kalambet/ragchat/internal/storage"
)

// ErrEmptyMessage is returned when a turn carries no message text.
var ErrEmptyMessage = errors.New("message is required")

// Upload is a file attached to a turn or a document upload.
type Upload struct {
	Name string
	Body io.Reader
}

// TurnRequest is one user message, optionally with a file.
type TurnRequest struct {
	UserID         string // optional caller identity
	ConversationID string // empty starts a new conversation
	Message        string
	File           *Upload
}

// TurnResponse is what a chat turn returns to clients.
type TurnResponse struct {
	ConversationID string         `json:"conversation_id"`
	UserMessage    MessageView    `json:"user_message"`
	ModelResponse  MessageView    `json:"model_response"`
	Succeeded      bool           `json:"succeeded"`
	ErrorKind      failure.Kind   `json:"error_kind,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	Model          string         `json:"model"`
	DurationMs     int64          `json:"duration_ms"`
	Retrieved      []string       `json:"-"`
	Ingest         *ingest.Result `json:"-"`
}

// MessageView is the JSON form of a stored message.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	IsUser         bool      `json:"is_user"`
	FilePath       string    `json:"file_path,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func messageView(m storage.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		IsUser:         m.IsUser,
		FilePath:       m.FilePath,
		ErrorKind:      m.ErrorKind,
		CreatedAt:      m.CreatedAt,
	}
}

// Service runs chat turns and persists their transcripts. It is shared by
// the HTTP API, the MCP tools and the CLI.
type Service struct {
	store        *storage.Store
	memories     *memory.Registry
	orchestrator *pipeline.Orchestrator
	messages     composer.Messages
	uploadDir    string
	logger       *slog.Logger
}

// NewService wires a Service. Uploaded files are written to uploadDir.
func NewService(store *storage.Store, memories *memory.Registry, orch *pipeline.Orchestrator, msgs composer.Messages, uploadDir string) *Service {
	return &Service{
		store:        store,
		memories:     memories,
		orchestrator: orch,
		messages:     msgs,
		uploadDir:    uploadDir,
		logger:       slog.Default(),
	}
}

// Turn runs one chat turn. A new conversation is created when
// req.ConversationID is empty; an unknown ID yields storage.ErrNotFound.
// Backend failures are not errors: they come back as an unsuccessful
// response holding a localized message.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return TurnResponse{}, ErrEmptyMessage
	}

	convID, err := s.resolveConversation(req.ConversationID)
	if err != nil {
		return TurnResponse{}, err
	}

	mem := s.memoryFor(ctx, convID, req.ConversationID != "")

	var filePath string
	if req.File != nil && req.File.Name != "" {
		filePath, err = s.saveUpload(*req.File)
		if err != nil {
			return TurnResponse{}, err
		}
	}

	userMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Content:        req.Message,
		IsUser:         true,
		FilePath:       filePath,
		CreatedAt:      time.Now(),
	}
	dup, err := s.store.HasMessage(convID, req.Message)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("checking duplicate message: %w", err)
	}
	if !dup {
		if err := s.store.SaveMessage(userMsg); err != nil {
			return TurnResponse{}, fmt.Errorf("saving user message: %w", err)
		}
	}

	out := s.orchestrator.Generate(ctx, mem, pipeline.Request{
		UserID:         req.UserID,
		ConversationID: convID,
		Prompt:         req.Message,
		FilePath:       filePath,
	})

	modelMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Content:        out.Text,
		FilePath:       filePath,
		ErrorKind:      string(out.ErrorKind),
		CreatedAt:      time.Now(),
	}
	if err := s.store.SaveMessage(modelMsg); err != nil {
		return TurnResponse{}, fmt.Errorf("saving model response: %w", err)
	}
	if err := s.store.TouchConversation(convID, modelMsg.CreatedAt); err != nil {
		s.logger.Warn("updating conversation activity failed", "conversation_id", convID, "error", err)
	}

	return TurnResponse{
		ConversationID: convID,
		UserMessage:    messageView(userMsg),
		ModelResponse:  messageView(modelMsg),
		Succeeded:      out.Succeeded,
		ErrorKind:      out.ErrorKind,
		Warnings:       warnings(out),
		Model:          out.Model,
		DurationMs:     out.Duration.Milliseconds(),
		Retrieved:      out.Retrieved,
		Ingest:         out.Ingest,
	}, nil
}

// DocumentResponse acknowledges a queued document upload.
type DocumentResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Filename       string `json:"filename"`
	Status         string `json:"status"`
}

// UploadDocument stores file for conversationID and queues it for
// asynchronous ingestion into the conversation's memory.
func (s *Service) UploadDocument(conversationID string, file Upload) (DocumentResponse, error) {
	if _, err := s.store.GetConversation(conversationID); err != nil {
		return DocumentResponse{}, err
	}
	path, err := s.saveUpload(file)
	if err != nil {
		return DocumentResponse{}, err
	}

	doc := storage.Document{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Filename:       filepath.Base(path),
		Path:           path,
	}
	if err := s.store.SaveDocument(doc); err != nil {
		return DocumentResponse{}, fmt.Errorf("saving document: %w", err)
	}
	job, err := ingest.NewJob(uuid.New().String(), doc.ID)
	if err != nil {
		return DocumentResponse{}, fmt.Errorf("creating ingest job: %w", err)
	}
	if err := s.store.EnqueueJob(job); err != nil {
		return DocumentResponse{}, fmt.Errorf("enqueueing ingest job: %w", err)
	}
	return DocumentResponse{ID: doc.ID, ConversationID: conversationID, Filename: doc.Filename, Status: "queued"}, nil
}

// DeleteConversation removes the transcript and the in-memory store.
func (s *Service) DeleteConversation(id string) error {
	if err := s.store.DeleteConversation(id); err != nil {
		return err
	}
	s.memories.Drop(id)
	return nil
}

// Memory returns the store of an existing conversation.
func (s *Service) Memory(id string) (*memory.Store, bool) {
	return s.memories.Lookup(id)
}

// ConversationMemory returns the store of an existing conversation,
// reseeding it from the transcript when it was swept.
func (s *Service) ConversationMemory(ctx context.Context, id string) *memory.Store {
	return s.memoryFor(ctx, id, true)
}

// memoryFor returns the conversation's store. A store created here for a
// conversation that already has a transcript (the process restarted or the
// store was swept) is reseeded with the most recent user messages.
func (s *Service) memoryFor(ctx context.Context, convID string, existing bool) *memory.Store {
	mem, created := s.memories.GetOrCreate(convID)
	if !created || !existing {
		return mem
	}

	msgs, err := s.store.ListMessages(convID)
	if err != nil {
		s.logger.Warn("loading transcript for memory reseed failed", "conversation_id", convID, "error", err)
		return mem
	}
	var texts []string
	for _, m := range msgs {
		if m.IsUser {
			texts = append(texts, m.Content)
		}
	}
	if n := mem.Capacity(); len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	if err := mem.InsertBatch(ctx, texts); err != nil {
		s.logger.Warn("reseeding conversation memory failed", "conversation_id", convID, "error", err)
		return mem
	}
	s.logger.Debug("reseeded conversation memory", "conversation_id", convID, "entries", len(texts))
	return mem
}

func (s *Service) resolveConversation(id string) (string, error) {
	if id != "" {
		if _, err := s.store.GetConversation(id); err != nil {
			return "", err
		}
		return id, nil
	}
	conv := storage.Conversation{ID: uuid.New().String(), Title: s.messages.NewConversationTitle}
	if err := s.store.CreateConversation(conv); err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	return conv.ID, nil
}

// saveUpload writes the upload under a unique, sanitized name and returns
// its path.
func (s *Service) saveUpload(u Upload) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	name := uuid.New().String()[:8] + "_" + sanitizeFilename(u.Name)
	path := filepath.Join(s.uploadDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating upload: %w", err)
	}
	if _, err := io.Copy(f, u.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing upload: %w", err)
	}
	return path, nil
}

// sanitizeFilename keeps the base name with letters, digits, '.', '-' and
// '_'; everything else becomes '_'.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "upload"
	}
	return cleaned
}

func warnings(out pipeline.Outcome) []string {
	var w []string
	if out.Ingest != nil && out.Ingest.Kind != failure.None {
		w = append(w, fmt.Sprintf("%s: %s", out.Ingest.Kind, out.Ingest.Detail()))
	}
	if out.SearchKind != failure.None {
		w = append(w, fmt.Sprintf("web search degraded: %s", out.SearchKind))
	}
	return w
}
