package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const ChannelTypeWhatsApp = "whatsapp"

type Channel struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	TenantID  uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Type      string          `json:"type" db:"type"`
	Name      string          `json:"name" db:"name"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	Config    json.RawMessage `json:"config" db:"config"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WhatsAppConfig is the provider-specific config blob for whatsapp channels.
// Both numbers are stored in E.164; either may receive inbound traffic.
type WhatsAppConfig struct {
	PhoneNumber         string `json:"phone_number"`
	BusinessPhoneNumber string `json:"business_phone_number,omitempty"`
	PhoneNumberID       string `json:"phone_number_id,omitempty"`
	VerifyToken         string `json:"verify_token,omitempty"`
}

func (c *Channel) WhatsApp() (*WhatsAppConfig, error) {
	var cfg WhatsAppConfig
	if err := json.Unmarshal(c.Config, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
