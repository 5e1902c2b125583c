package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	TenantID   uuid.UUID
	ChunkIndex int
	Content    string
	Embedding  []float32
	TokenCount int
}

type SearchOptions struct {
	TenantID uuid.UUID
	TopK     int
	MinScore float64
}

type SearchResult struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
	ChunkIndex int       `json:"chunk_index"`
	TokenCount int       `json:"token_count"`
}

// Store persists chunk embeddings and answers tenant-scoped similarity
// queries. Chunk visibility is per document and all-or-nothing: a search
// never observes a partially written chunk set.
type Store interface {
	ReplaceDocumentChunks(ctx context.Context, documentID, tenantID uuid.UUID, chunks []Chunk) error
	SimilaritySearch(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error
}
