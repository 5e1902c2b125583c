package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayoubkhl/ragrelay/internal/models"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT id, name, slug, plan_code, documents_count, documents_storage_mb, settings, created_at, updated_at
		 FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.PlanCode, &t.DocumentsCount, &t.DocumentsStorageMb, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		"SELECT id, tenant_id, email, full_name, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.TenantID, &u.Email, &u.FullName, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// AddDocumentUsage adjusts the tenant's running document aggregates after
// an upload or deletion. Deltas may be negative.
func (s *Service) AddDocumentUsage(ctx context.Context, tenantID uuid.UUID, docsDelta int64, storageMbDelta float64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tenants
		 SET documents_count = documents_count + $2,
		     documents_storage_mb = GREATEST(documents_storage_mb + $3, 0),
		     updated_at = now()
		 WHERE id = $1`,
		tenantID, docsDelta, storageMbDelta,
	)
	if err != nil {
		return fmt.Errorf("update tenant document usage: %w", err)
	}
	return nil
}
