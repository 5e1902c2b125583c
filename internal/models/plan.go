package models

import "time"

// PlanLimits holds the per-plan quota limits. A nil value means the limit
// is unlimited; zero is a real limit that blocks everything.
type PlanLimits struct {
	MaxDocuments       *int64 `json:"max_documents,omitempty"`
	MaxStorageMb       *int64 `json:"max_storage_mb,omitempty"`
	MaxDailyIndexing   *int64 `json:"max_daily_indexing,omitempty"`
	MaxDailyRagQueries *int64 `json:"max_daily_rag_queries,omitempty"`
	MaxDailyMessages   *int64 `json:"max_daily_messages,omitempty"`
	MaxTokensIn        *int64 `json:"max_tokens_in,omitempty"`
	MaxTokensOut       *int64 `json:"max_tokens_out,omitempty"`
}

type Plan struct {
	Code      string     `json:"code" db:"code"`
	Name      string     `json:"name" db:"name"`
	Limits    PlanLimits `json:"limits" db:"limits"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Allows reports whether a counter may grow to prospective under limit.
func Allows(limit *int64, prospective int64) bool {
	return limit == nil || prospective <= *limit
}
