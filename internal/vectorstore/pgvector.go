package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

// ReplaceDocumentChunks swaps the full chunk set for a document in one
// transaction together with the document's counters and status, so the
// new set becomes visible atomically.
func (s *PgVectorStore) ReplaceDocumentChunks(ctx context.Context, documentID, tenantID uuid.UUID, chunks []Chunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"DELETE FROM knowledge_chunks WHERE document_id = $1 AND tenant_id = $2",
		documentID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("clear existing chunks: %w", err)
	}

	totalTokens := 0
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		totalTokens += c.TokenCount

		_, err := tx.Exec(ctx,
			`INSERT INTO knowledge_chunks (id, document_id, tenant_id, chunk_index, content, embedding, token_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, documentID, tenantID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), c.TokenCount,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE knowledge_documents
		 SET chunk_count = $3, total_tokens = $4, status = 'indexed', error_reason = '', updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`,
		documentID, tenantID, len(chunks), totalTokens,
	)
	if err != nil {
		return fmt.Errorf("update document counters: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PgVectorStore) SimilaritySearch(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	embedding := pgvector.NewVector(query)

	// Cosine distance ascending is similarity descending; chunk_index
	// breaks ties deterministically.
	rows, err := s.db.Query(ctx,
		`SELECT id, document_id, content, chunk_index, token_count,
		        1 - (embedding <=> $1) AS score
		 FROM knowledge_chunks
		 WHERE tenant_id = $2
		 ORDER BY embedding <=> $1, chunk_index
		 LIMIT $3`,
		embedding, opts.TenantID, opts.TopK,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &r.ChunkIndex, &r.TokenCount, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if opts.MinScore > 0 && r.Score < opts.MinScore {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgVectorStore) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM knowledge_chunks WHERE document_id = $1 AND tenant_id = $2",
		documentID, tenantID,
	)
	return err
}
