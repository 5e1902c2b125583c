package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounters is one row of the daily per-tenant ledger. Counters only
// ever grow; there is exactly one row per (tenant, day).
type UsageCounters struct {
	TenantID         uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Day              time.Time `json:"day" db:"day"`
	MessagesIn       int64     `json:"messages_in" db:"messages_in"`
	MessagesOut      int64     `json:"messages_out" db:"messages_out"`
	TokensIn         int64     `json:"tokens_in" db:"tokens_in"`
	TokensOut        int64     `json:"tokens_out" db:"tokens_out"`
	RagQueries       int64     `json:"rag_queries" db:"rag_queries"`
	DocumentsIndexed int64     `json:"documents_indexed" db:"documents_indexed"`
	StorageBytes     int64     `json:"storage_bytes" db:"storage_bytes"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// UsageDelta is a partial set of counter increments. Zero fields are not
// touched and not limit-checked.
type UsageDelta struct {
	MessagesIn       int64
	MessagesOut      int64
	TokensIn         int64
	TokensOut        int64
	RagQueries       int64
	DocumentsIndexed int64
	StorageBytes     int64
}

func (d UsageDelta) IsZero() bool {
	return d == UsageDelta{}
}
