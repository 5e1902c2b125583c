package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayoubkhl/ragrelay/internal/models"
)

var (
	// ErrNotFound means no active channel claims the number. Callers drop
	// the event silently; receipt was already acknowledged upstream.
	ErrNotFound = errors.New("no active channel for phone number")

	// ErrAmbiguous means more than one active channel claims the number.
	// That is a configuration fault; resolution fails closed.
	ErrAmbiguous = errors.New("phone number claimed by multiple active channels")
)

// Resolver maps an inbound E.164 number to the channel that owns it. The
// number is the only key available at webhook time, so the scan crosses
// tenants.
type Resolver interface {
	Resolve(ctx context.Context, phoneNumber string) (*models.Channel, error)
}

type PgResolver struct {
	db *pgxpool.Pool
}

func NewPgResolver(db *pgxpool.Pool) *PgResolver {
	return &PgResolver{db: db}
}

func (r *PgResolver) Resolve(ctx context.Context, phoneNumber string) (*models.Channel, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, type, name, is_active, config, created_at, updated_at
		 FROM channels
		 WHERE is_active
		   AND (config->>'phone_number' = $1 OR config->>'business_phone_number' = $1)`,
		phoneNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var matches []models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Type, &c.Name, &c.IsActive, &c.Config, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read channels: %w", err)
	}

	return Disambiguate(matches)
}

// Disambiguate enforces the single-claimant invariant over a match set.
func Disambiguate(matches []models.Channel) (*models.Channel, error) {
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &matches[0], nil
	default:
		return nil, ErrAmbiguous
	}
}
