package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ayoubkhl/ragrelay/internal/config"
	"github.com/ayoubkhl/ragrelay/internal/knowledge"
	"github.com/ayoubkhl/ragrelay/internal/models"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
	"github.com/ayoubkhl/ragrelay/pkg/chunker"
)

// Documents is the slice of the knowledge indexer the worker consumes.
type Documents interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.KnowledgeDocument, error)
	GetContent(ctx context.Context, tenantID, id uuid.UUID) (string, error)
	MarkProcessing(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, tenantID, id uuid.UUID, reason string) error
	CheckIndexingQuota(ctx context.Context, doc *models.KnowledgeDocument) error
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexingWorker chunks, embeds and persists an uploaded document. The
// chunk set becomes visible atomically together with the document's
// indexed status.
type IndexingWorker struct {
	docs     Documents
	embedder Embedder
	store    vectorstore.Store
	cfg      config.PipelineConfig
}

func NewIndexingWorker(docs Documents, embedder Embedder, store vectorstore.Store, cfg config.PipelineConfig) *IndexingWorker {
	return &IndexingWorker{
		docs:     docs,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}
}

func (w *IndexingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	docID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("parse document ID: %v: %w", err, asynq.SkipRetry)
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("parse tenant ID: %v: %w", err, asynq.SkipRetry)
	}

	doc, err := w.docs.GetByID(ctx, tenantID, docID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if doc.Status == models.DocStatusIndexed {
		slog.Info("document already indexed, suppressing duplicate", "document_id", docID)
		return nil
	}

	transitioned, err := w.docs.MarkProcessing(ctx, tenantID, docID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if transitioned {
		// Quota is consumed once per indexing run, not per retry attempt.
		if err := w.docs.CheckIndexingQuota(ctx, doc); err != nil {
			if usage.IsQuotaExceeded(err) {
				slog.Info("indexing aborted, quota exceeded", "tenant_id", tenantID, "document_id", docID, "reason", err)
				_ = w.docs.MarkFailed(ctx, tenantID, docID, err.Error())
				return nil
			}
			return fmt.Errorf("check indexing quota: %w", err)
		}
	}

	content, err := w.docs.GetContent(ctx, tenantID, docID)
	if err != nil {
		return fmt.Errorf("load document content: %w", err)
	}

	chunkResults := knowledge.ChunkContent(content, chunker.DefaultOptions())
	if len(chunkResults) == 0 {
		_ = w.docs.MarkFailed(ctx, tenantID, docID, "document produced no chunks")
		return nil
	}

	texts := make([]string, len(chunkResults))
	for i, c := range chunkResults {
		texts[i] = c.Content
	}

	// Retryable faults leave the document in processing: failed is reserved
	// for terminal outcomes, because a failed document re-enters the
	// MarkProcessing transition and would be charged again on retry.
	embedCtx, cancel := context.WithTimeout(ctx, w.cfg.EmbedTimeout)
	defer cancel()
	embeddings, err := w.embedder.Embed(embedCtx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunkResults) {
		_ = w.docs.MarkFailed(ctx, tenantID, docID, "embedding count mismatch")
		return fmt.Errorf("embedding count mismatch: %d texts, %d vectors: %w", len(chunkResults), len(embeddings), asynq.SkipRetry)
	}

	chunks := make([]vectorstore.Chunk, len(chunkResults))
	for i, cr := range chunkResults {
		chunks[i] = vectorstore.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			TenantID:   tenantID,
			ChunkIndex: cr.Index,
			Content:    cr.Content,
			Embedding:  embeddings[i],
			TokenCount: cr.TokenCount,
		}
	}

	// Abandon before the final write if the lease is gone.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lease lost before final write: %w", err)
	}

	if err := w.store.ReplaceDocumentChunks(ctx, docID, tenantID, chunks); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	slog.Info("document indexed",
		"tenant_id", tenantID,
		"document_id", docID,
		"chunks", len(chunks),
	)
	return nil
}
