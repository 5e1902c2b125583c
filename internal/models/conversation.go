package models

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID            uuid.UUID `json:"id" db:"id"`
	TenantID      uuid.UUID `json:"tenant_id" db:"tenant_id"`
	ChannelID     uuid.UUID `json:"channel_id" db:"channel_id"`
	ContactPhone  string    `json:"contact_phone" db:"contact_phone"`
	LastMessageAt time.Time `json:"last_message_at" db:"last_message_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type Message struct {
	ID                uuid.UUID `json:"id" db:"id"`
	ConversationID    uuid.UUID `json:"conversation_id" db:"conversation_id"`
	TenantID          uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Direction         string    `json:"direction" db:"direction"`
	ProviderMessageID string    `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Content           string    `json:"content" db:"content"`
	TokensIn          int       `json:"tokens_in" db:"tokens_in"`
	TokensOut         int       `json:"tokens_out" db:"tokens_out"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)
