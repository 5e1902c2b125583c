package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type KnowledgeDocument struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	TenantID    uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Title       string          `json:"title" db:"title"`
	MimeType    string          `json:"mime_type,omitempty" db:"mime_type"`
	ContentHash string          `json:"content_hash" db:"content_hash"`
	Content     string          `json:"-" db:"content"`
	SizeBytes   int64           `json:"size_bytes" db:"size_bytes"`
	Status      string          `json:"status" db:"status"`
	ErrorReason string          `json:"error_reason,omitempty" db:"error_reason"`
	ChunkCount  int             `json:"chunk_count" db:"chunk_count"`
	TotalTokens int             `json:"total_tokens" db:"total_tokens"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

type KnowledgeChunk struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Content    string    `json:"content" db:"content"`
	Embedding  []float32 `json:"-" db:"embedding"`
	TokenCount int       `json:"token_count" db:"token_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	DocStatusUploaded   = "uploaded"
	DocStatusProcessing = "processing"
	DocStatusIndexed    = "indexed"
	DocStatusFailed     = "failed"
)
