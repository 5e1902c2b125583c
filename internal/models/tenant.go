package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	Name               string          `json:"name" db:"name"`
	Slug               string          `json:"slug" db:"slug"`
	PlanCode           string          `json:"plan_code" db:"plan_code"`
	DocumentsCount     int64           `json:"documents_count" db:"documents_count"`
	DocumentsStorageMb float64         `json:"documents_storage_mb" db:"documents_storage_mb"`
	Settings           json.RawMessage `json:"settings" db:"settings"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}
