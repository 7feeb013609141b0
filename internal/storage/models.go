package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one chat thread.
type Conversation struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	LastActivity time.Time
}

// ConversationSummary is a Conversation with its message count, as listed.
type ConversationSummary struct {
	Conversation
	MessageCount int
}

// Message is one user or assistant turn in a conversation.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	IsUser         bool
	FilePath       string
	ErrorKind      string // failure kind of an unsuccessful assistant reply
	CreatedAt      time.Time
}

// Document is a file uploaded for asynchronous ingestion.
type Document struct {
	ID             string
	ConversationID string
	Filename       string
	Path           string
	Status         string // "pending", "ingested", "failed"
	Kind           string // failure kind recorded by the ingestor, if any
	Detail         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
