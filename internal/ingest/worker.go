package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/ragchat/internal/storage"
)

// JobType is the queue type of document ingestion jobs.
const JobType = "ingest_document"

// JobStore abstracts the job queue and document bookkeeping.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	UpdateDocumentStatus(id, status, kind, detail string) error
}

// MemoryResolver returns the memory store of a conversation.
type MemoryResolver func(ctx context.Context, conversationID string) Inserter

// Payload is the JSON payload of an ingest_document job.
type Payload struct {
	DocumentID string `json:"document_id"`
}

// NewJob builds the queue entry that ingests documentID.
func NewJob(jobID, documentID string) (storage.Job, error) {
	payload, err := json.Marshal(Payload{DocumentID: documentID})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{ID: jobID, Type: JobType, PayloadJSON: string(payload)}, nil
}

// Worker processes ingest_document jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	ingestor *Ingestor
	memory   MemoryResolver
	poll     time.Duration
	onResult func(Result)
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, ingestor *Ingestor, memory MemoryResolver, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		ingestor: ingestor,
		memory:   memory,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// OnResult registers a callback invoked after each document is ingested.
func (w *Worker) OnResult(fn func(Result)) {
	w.onResult = fn
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// processJob ingests one document. A file that cannot be read is a
// completed job with a failed document; only a memory insert failure is
// retried.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	res := w.ingestor.Ingest(ctx, w.memory(ctx, doc.ConversationID), doc.Path)
	if w.onResult != nil {
		w.onResult(res)
	}

	if res.Text != "" && !res.Inserted {
		return fmt.Errorf("ingesting %s: %w", doc.Filename, res.Err)
	}

	status := "ingested"
	if res.Kind != "" {
		status = "failed"
	}
	if err := w.store.UpdateDocumentStatus(doc.ID, status, string(res.Kind), res.Detail()); err != nil {
		return fmt.Errorf("updating document %s: %w", doc.ID, err)
	}
	return nil
}
