package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayoubkhl/ragrelay/internal/embedding"
	"github.com/ayoubkhl/ragrelay/internal/models"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
)

// Engine answers tenant-scoped similarity queries. Every search consumes
// one unit of the daily RAG query budget before touching the store.
type Engine struct {
	store           vectorstore.Store
	embedSvc        *embedding.Service
	ledger          usage.Ledger
	embedTimeout    time.Duration
	retrieveTimeout time.Duration
}

func NewEngine(store vectorstore.Store, embedSvc *embedding.Service, ledger usage.Ledger, embedTimeout, retrieveTimeout time.Duration) *Engine {
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	if retrieveTimeout <= 0 {
		retrieveTimeout = 15 * time.Second
	}
	return &Engine{
		store:           store,
		embedSvc:        embedSvc,
		ledger:          ledger,
		embedTimeout:    embedTimeout,
		retrieveTimeout: retrieveTimeout,
	}
}

// Search embeds the query text and runs the store query. The quota unit is
// consumed before the embedding call so an exhausted tenant costs no
// provider traffic.
func (e *Engine) Search(ctx context.Context, tenantID uuid.UUID, query string, k int) ([]vectorstore.SearchResult, error) {
	if err := e.consume(ctx, tenantID); err != nil {
		return nil, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	queryVec, err := e.embedSvc.EmbedSingle(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return e.query(ctx, tenantID, queryVec, k)
}

// SearchVector runs the tenant-scoped nearest-neighbor query for an
// already-embedded vector. Fewer than k chunks for the tenant returns all
// available; quota exhaustion returns a QuotaExceededError without touching
// the store.
func (e *Engine) SearchVector(ctx context.Context, tenantID uuid.UUID, queryVec []float32, k int) ([]vectorstore.SearchResult, error) {
	if err := e.consume(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.query(ctx, tenantID, queryVec, k)
}

func (e *Engine) consume(ctx context.Context, tenantID uuid.UUID) error {
	return e.ledger.TryConsume(ctx, tenantID, time.Now().UTC(), models.UsageDelta{RagQueries: 1})
}

func (e *Engine) query(ctx context.Context, tenantID uuid.UUID, queryVec []float32, k int) ([]vectorstore.SearchResult, error) {
	searchCtx, cancel := context.WithTimeout(ctx, e.retrieveTimeout)
	defer cancel()

	results, err := e.store.SimilaritySearch(searchCtx, queryVec, vectorstore.SearchOptions{
		TenantID: tenantID,
		TopK:     k,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return results, nil
}

// AssembleContext joins retrieved chunks into a single context block,
// dropping whole chunks once the token budget is spent. Results keep their
// ranked order.
func AssembleContext(results []vectorstore.SearchResult, tokenBudget int) string {
	if tokenBudget <= 0 || len(results) == 0 {
		return ""
	}

	var b strings.Builder
	used := 0
	for _, r := range results {
		cost := r.TokenCount
		if cost <= 0 {
			cost = len(strings.Fields(r.Content))
		}
		if used+cost > tokenBudget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Content)
		used += cost
	}
	return b.String()
}
