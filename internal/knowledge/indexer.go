package knowledge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayoubkhl/ragrelay/internal/models"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/tenant"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
	"github.com/ayoubkhl/ragrelay/pkg/textextract"
)

var ErrUnsupportedType = errors.New("unsupported document type")

// Indexer owns the knowledge document lifecycle: content-hash dedup at
// upload, async chunk/embed dispatch, and status transitions.
type Indexer struct {
	db          *pgxpool.Pool
	tenants     *tenant.Service
	ledger      usage.Ledger
	plans       usage.PlanSource
	queueClient *queue.Client
	store       vectorstore.Store
}

func NewIndexer(db *pgxpool.Pool, tenants *tenant.Service, ledger usage.Ledger, plans usage.PlanSource, qc *queue.Client, store vectorstore.Store) *Indexer {
	return &Indexer{
		db:          db,
		tenants:     tenants,
		ledger:      ledger,
		plans:       plans,
		queueClient: qc,
		store:       store,
	}
}

type UploadRequest struct {
	Title    string
	MimeType string
	Data     []byte
}

// Ingest registers an uploaded document and queues it for indexing.
// Re-uploading byte-identical content for the same tenant returns the
// existing record unchanged; concurrent identical uploads resolve to a
// single winning insert with the loser adopting the winner's row.
func (s *Indexer) Ingest(ctx context.Context, tenantID uuid.UUID, req UploadRequest) (*models.KnowledgeDocument, error) {
	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := s.GetByHash(ctx, tenantID, hash); err == nil {
		return existing, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	extracted, err := textextract.Extract(bytes.NewReader(req.Data), int64(len(req.Data)), req.MimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, req.MimeType)
	}

	var doc models.KnowledgeDocument
	err = s.db.QueryRow(ctx,
		`INSERT INTO knowledge_documents (tenant_id, title, mime_type, content_hash, content, size_bytes, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'uploaded')
		 ON CONFLICT (tenant_id, content_hash) DO NOTHING
		 RETURNING id, tenant_id, title, mime_type, content_hash, size_bytes, status, error_reason, chunk_count, total_tokens, metadata, created_at, updated_at`,
		tenantID, req.Title, req.MimeType, hash, extracted.Content, int64(len(req.Data)),
	).Scan(&doc.ID, &doc.TenantID, &doc.Title, &doc.MimeType, &doc.ContentHash, &doc.SizeBytes,
		&doc.Status, &doc.ErrorReason, &doc.ChunkCount, &doc.TotalTokens, &doc.Metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race; the winner's row is the document.
		return s.GetByHash(ctx, tenantID, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	if err := s.tenants.AddDocumentUsage(ctx, tenantID, 1, float64(len(req.Data))/(1024*1024)); err != nil {
		slog.Error("failed to update tenant document aggregates", "tenant_id", tenantID, "error", err)
	}

	err = s.queueClient.EnqueueDocumentIndex(queue.DocumentIndexPayload{
		DocumentID: doc.ID.String(),
		TenantID:   tenantID.String(),
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateSuppressed) {
		return nil, fmt.Errorf("enqueue indexing job: %w", err)
	}

	return &doc, nil
}

func (s *Indexer) GetByHash(ctx context.Context, tenantID uuid.UUID, hash string) (*models.KnowledgeDocument, error) {
	return s.scanOne(ctx,
		`SELECT id, tenant_id, title, mime_type, content_hash, size_bytes, status, error_reason, chunk_count, total_tokens, metadata, created_at, updated_at
		 FROM knowledge_documents WHERE tenant_id = $1 AND content_hash = $2`,
		tenantID, hash)
}

func (s *Indexer) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.KnowledgeDocument, error) {
	doc, err := s.scanOne(ctx,
		`SELECT id, tenant_id, title, mime_type, content_hash, size_bytes, status, error_reason, chunk_count, total_tokens, metadata, created_at, updated_at
		 FROM knowledge_documents WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetContent returns the extracted text for the indexing worker.
func (s *Indexer) GetContent(ctx context.Context, tenantID, id uuid.UUID) (string, error) {
	var content string
	err := s.db.QueryRow(ctx,
		"SELECT content FROM knowledge_documents WHERE id = $1 AND tenant_id = $2",
		id, tenantID,
	).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("get document content: %w", err)
	}
	return content, nil
}

func (s *Indexer) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.KnowledgeDocument, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, title, mime_type, content_hash, size_bytes, status, error_reason, chunk_count, total_tokens, metadata, created_at, updated_at
		 FROM knowledge_documents WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.KnowledgeDocument
	for rows.Next() {
		var d models.KnowledgeDocument
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Title, &d.MimeType, &d.ContentHash, &d.SizeBytes,
			&d.Status, &d.ErrorReason, &d.ChunkCount, &d.TotalTokens, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Indexer) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	doc, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	// Chunks go first through the store so the vector index shrinks even
	// if the row delete below fails; the FK cascade covers the remainder.
	if err := s.store.DeleteDocument(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete document chunks: %w", err)
	}

	_, err = s.db.Exec(ctx, "DELETE FROM knowledge_documents WHERE id = $1 AND tenant_id = $2", id, tenantID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	return s.tenants.AddDocumentUsage(ctx, tenantID, -1, -float64(doc.SizeBytes)/(1024*1024))
}

// MarkProcessing transitions uploaded|failed -> processing and reports
// whether this call made the transition. A false return on a live document
// means another attempt is (or was) already processing it.
func (s *Indexer) MarkProcessing(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE knowledge_documents SET status = 'processing', error_reason = '', updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND status IN ('uploaded', 'failed')`,
		id, tenantID,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Indexer) MarkFailed(ctx context.Context, tenantID, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE knowledge_documents SET status = 'failed', error_reason = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// CheckIndexingQuota gates an indexing run: document count and storage
// against the tenant aggregates, then one unit of the daily indexing
// budget through the ledger.
func (s *Indexer) CheckIndexingQuota(ctx context.Context, doc *models.KnowledgeDocument) error {
	limits, err := s.plans.LimitsForTenant(ctx, doc.TenantID)
	if err != nil {
		return fmt.Errorf("load plan limits: %w", err)
	}

	t, err := s.tenants.GetByID(ctx, doc.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	if !models.Allows(limits.MaxDocuments, t.DocumentsCount) {
		return &usage.QuotaExceededError{Kind: usage.KindDocuments}
	}
	if limits.MaxStorageMb != nil && t.DocumentsStorageMb > float64(*limits.MaxStorageMb) {
		return &usage.QuotaExceededError{Kind: usage.KindStorage}
	}

	return s.ledger.TryConsume(ctx, doc.TenantID, time.Now().UTC(), models.UsageDelta{
		DocumentsIndexed: 1,
		StorageBytes:     doc.SizeBytes,
	})
}

func (s *Indexer) scanOne(ctx context.Context, sql string, args ...interface{}) (*models.KnowledgeDocument, error) {
	var d models.KnowledgeDocument
	err := s.db.QueryRow(ctx, sql, args...).Scan(
		&d.ID, &d.TenantID, &d.Title, &d.MimeType, &d.ContentHash, &d.SizeBytes,
		&d.Status, &d.ErrorReason, &d.ChunkCount, &d.TotalTokens, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
