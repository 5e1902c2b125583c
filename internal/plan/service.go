package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayoubkhl/ragrelay/internal/cache"
	"github.com/ayoubkhl/ragrelay/internal/models"
)

// Service reads the plan catalog. The catalog is owned by an external
// admin flow; this service never writes it.
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Cache
	ttl   time.Duration
}

func NewService(db *pgxpool.Pool, c *cache.Cache) *Service {
	return &Service{db: db, cache: c, ttl: 5 * time.Minute}
}

func (s *Service) GetByCode(ctx context.Context, code string) (*models.Plan, error) {
	key := "plan:" + code
	if s.cache != nil {
		var p models.Plan
		if err := s.cache.Get(ctx, key, &p); err == nil {
			return &p, nil
		}
	}

	var p models.Plan
	var limitsRaw []byte
	err := s.db.QueryRow(ctx,
		"SELECT code, name, limits, created_at, updated_at FROM plans WHERE code = $1", code,
	).Scan(&p.Code, &p.Name, &limitsRaw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", code, err)
	}
	if err := json.Unmarshal(limitsRaw, &p.Limits); err != nil {
		return nil, fmt.Errorf("decode plan limits: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, &p, s.ttl)
	}
	return &p, nil
}

// LimitsForTenant resolves a tenant's plan limits in one hop.
func (s *Service) LimitsForTenant(ctx context.Context, tenantID uuid.UUID) (models.PlanLimits, error) {
	key := "tenant-limits:" + tenantID.String()
	if s.cache != nil {
		var l models.PlanLimits
		if err := s.cache.Get(ctx, key, &l); err == nil {
			return l, nil
		}
	}

	var limitsRaw []byte
	err := s.db.QueryRow(ctx,
		`SELECT p.limits FROM plans p
		 JOIN tenants t ON t.plan_code = p.code
		 WHERE t.id = $1`,
		tenantID,
	).Scan(&limitsRaw)
	if err != nil {
		return models.PlanLimits{}, fmt.Errorf("limits for tenant %s: %w", tenantID, err)
	}

	var limits models.PlanLimits
	if err := json.Unmarshal(limitsRaw, &limits); err != nil {
		return models.PlanLimits{}, fmt.Errorf("decode plan limits: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, &limits, time.Minute)
	}
	return limits, nil
}
