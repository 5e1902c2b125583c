package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayoubkhl/ragrelay/internal/models"
)

// Kind names the counter whose limit was hit.
type Kind string

const (
	KindMessages   Kind = "messages"
	KindTokensIn   Kind = "tokens_in"
	KindTokensOut  Kind = "tokens_out"
	KindRagQueries Kind = "rag_queries"
	KindIndexing   Kind = "indexing"
	KindDocuments  Kind = "documents"
	KindStorage    Kind = "storage"
)

// QuotaExceededError is a business-rule drop, never retried. The failed
// check leaves counters untouched.
type QuotaExceededError struct {
	Kind Kind
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Kind)
}

func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// PlanSource supplies a tenant's plan limits; read-only to the ledger.
type PlanSource interface {
	LimitsForTenant(ctx context.Context, tenantID uuid.UUID) (models.PlanLimits, error)
}

// Ledger is the only writer of the daily usage counters. All mutation goes
// through TryConsume's atomic increment-with-limit-check.
type Ledger interface {
	TryConsume(ctx context.Context, tenantID uuid.UUID, day time.Time, delta models.UsageDelta) error
	Counters(ctx context.Context, tenantID uuid.UUID, day time.Time) (*models.UsageCounters, error)
}

type PgLedger struct {
	db    *pgxpool.Pool
	plans PlanSource
}

func NewPgLedger(db *pgxpool.Pool, plans PlanSource) *PgLedger {
	return &PgLedger{db: db, plans: plans}
}

// TryConsume checks every limited counter's prospective value against the
// tenant's plan and applies the whole delta, in one statement. The row for
// (tenant, day) is created lazily on the first write. When any limit would
// be crossed nothing is incremented and a QuotaExceededError names the
// offending kind.
func (l *PgLedger) TryConsume(ctx context.Context, tenantID uuid.UUID, day time.Time, delta models.UsageDelta) error {
	if delta.IsZero() {
		return nil
	}

	limits, err := l.plans.LimitsForTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load plan limits: %w", err)
	}

	// A delta that exceeds a limit on its own can never be applied; this
	// also covers the fresh-row insert path, where current is zero.
	if kind, bad := ExceededKind(models.UsageCounters{}, delta, limits); bad {
		return &QuotaExceededError{Kind: kind}
	}

	// The DO UPDATE WHERE clause makes check-and-increment a single atomic
	// operation; concurrent consumers serialize on the row and each sees
	// the other's increments in the prospective value.
	var applied models.UsageCounters
	err = l.db.QueryRow(ctx,
		`INSERT INTO usage_counters_daily
		     (tenant_id, day, messages_in, messages_out, tokens_in, tokens_out, rag_queries, documents_indexed, storage_bytes)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, day) DO UPDATE SET
		     messages_in       = usage_counters_daily.messages_in + EXCLUDED.messages_in,
		     messages_out      = usage_counters_daily.messages_out + EXCLUDED.messages_out,
		     tokens_in         = usage_counters_daily.tokens_in + EXCLUDED.tokens_in,
		     tokens_out        = usage_counters_daily.tokens_out + EXCLUDED.tokens_out,
		     rag_queries       = usage_counters_daily.rag_queries + EXCLUDED.rag_queries,
		     documents_indexed = usage_counters_daily.documents_indexed + EXCLUDED.documents_indexed,
		     storage_bytes     = usage_counters_daily.storage_bytes + EXCLUDED.storage_bytes,
		     updated_at        = now()
		 WHERE ($10::bigint IS NULL OR usage_counters_daily.messages_in + EXCLUDED.messages_in <= $10)
		   AND ($11::bigint IS NULL OR usage_counters_daily.tokens_in + EXCLUDED.tokens_in <= $11)
		   AND ($12::bigint IS NULL OR usage_counters_daily.tokens_out + EXCLUDED.tokens_out <= $12)
		   AND ($13::bigint IS NULL OR usage_counters_daily.rag_queries + EXCLUDED.rag_queries <= $13)
		   AND ($14::bigint IS NULL OR usage_counters_daily.documents_indexed + EXCLUDED.documents_indexed <= $14)
		 RETURNING messages_in, messages_out, tokens_in, tokens_out, rag_queries, documents_indexed, storage_bytes`,
		tenantID, day.UTC().Format("2006-01-02"),
		delta.MessagesIn, delta.MessagesOut, delta.TokensIn, delta.TokensOut,
		delta.RagQueries, delta.DocumentsIndexed, delta.StorageBytes,
		limits.MaxDailyMessages, limits.MaxTokensIn, limits.MaxTokensOut,
		limits.MaxDailyRagQueries, limits.MaxDailyIndexing,
	).Scan(&applied.MessagesIn, &applied.MessagesOut, &applied.TokensIn, &applied.TokensOut,
		&applied.RagQueries, &applied.DocumentsIndexed, &applied.StorageBytes)

	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update rejected the delta. Re-read only to name
		// the kind; enforcement already happened atomically above.
		current, readErr := l.Counters(ctx, tenantID, day)
		if readErr == nil {
			if kind, bad := ExceededKind(*current, delta, limits); bad {
				return &QuotaExceededError{Kind: kind}
			}
		}
		return &QuotaExceededError{Kind: KindMessages}
	}
	if err != nil {
		return fmt.Errorf("consume usage: %w", err)
	}
	return nil
}

func (l *PgLedger) Counters(ctx context.Context, tenantID uuid.UUID, day time.Time) (*models.UsageCounters, error) {
	var c models.UsageCounters
	c.TenantID = tenantID
	err := l.db.QueryRow(ctx,
		`SELECT messages_in, messages_out, tokens_in, tokens_out, rag_queries, documents_indexed, storage_bytes, day, updated_at
		 FROM usage_counters_daily WHERE tenant_id = $1 AND day = $2::date`,
		tenantID, day.UTC().Format("2006-01-02"),
	).Scan(&c.MessagesIn, &c.MessagesOut, &c.TokensIn, &c.TokensOut,
		&c.RagQueries, &c.DocumentsIndexed, &c.StorageBytes, &c.Day, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// No writes yet today; all counters are zero.
		c.Day = day.UTC().Truncate(24 * time.Hour)
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read usage counters: %w", err)
	}
	return &c, nil
}

// ExceededKind reports the first daily limit that current+delta would
// cross. Limits that are nil are unlimited.
func ExceededKind(current models.UsageCounters, delta models.UsageDelta, limits models.PlanLimits) (Kind, bool) {
	if delta.MessagesIn > 0 && !models.Allows(limits.MaxDailyMessages, current.MessagesIn+delta.MessagesIn) {
		return KindMessages, true
	}
	if delta.TokensIn > 0 && !models.Allows(limits.MaxTokensIn, current.TokensIn+delta.TokensIn) {
		return KindTokensIn, true
	}
	if delta.TokensOut > 0 && !models.Allows(limits.MaxTokensOut, current.TokensOut+delta.TokensOut) {
		return KindTokensOut, true
	}
	if delta.RagQueries > 0 && !models.Allows(limits.MaxDailyRagQueries, current.RagQueries+delta.RagQueries) {
		return KindRagQueries, true
	}
	if delta.DocumentsIndexed > 0 && !models.Allows(limits.MaxDailyIndexing, current.DocumentsIndexed+delta.DocumentsIndexed) {
		return KindIndexing, true
	}
	return "", false
}
