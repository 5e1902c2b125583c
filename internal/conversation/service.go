package conversation

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

// FindOrCreate returns the conversation for (channel, contact), creating
// it on first contact and bumping last_message_at otherwise.
func (s *Service) FindOrCreate(ctx context.Context, tenantID, channelID uuid.UUID, contactPhone string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversations (tenant_id, channel_id, contact_phone)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, contact_phone) DO UPDATE SET last_message_at = now()
		 RETURNING id, tenant_id, channel_id, contact_phone, last_message_at, created_at`,
		tenantID, channelID, contactPhone,
	).Scan(&c.ID, &c.TenantID, &c.ChannelID, &c.ContactPhone, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}
	return &c, nil
}

// RecordInbound logs the received message. The partial unique index on
// provider_message_id makes a redelivered message a no-op.
func (s *Service) RecordInbound(ctx context.Context, conv *models.Conversation, providerMessageID, content string, tokensIn int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO messages (conversation_id, tenant_id, direction, provider_message_id, content, tokens_in)
		 VALUES ($1, $2, 'inbound', $3, $4, $5)
		 ON CONFLICT (provider_message_id) WHERE provider_message_id <> '' DO NOTHING`,
		conv.ID, conv.TenantID, providerMessageID, content, tokensIn,
	)
	if err != nil {
		return fmt.Errorf("record inbound message: %w", err)
	}
	return nil
}

// RecordOutbound logs the generated response. This is the pipeline's only
// externally observable artifact; nothing is sent to the provider here.
func (s *Service) RecordOutbound(ctx context.Context, conv *models.Conversation, content string, tokensOut int) (*models.Message, error) {
	var m models.Message
	err := s.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, tenant_id, direction, content, tokens_out)
		 VALUES ($1, $2, 'outbound', $3, $4)
		 RETURNING id, conversation_id, tenant_id, direction, provider_message_id, content, tokens_in, tokens_out, created_at`,
		conv.ID, conv.TenantID, content, tokensOut,
	).Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.ProviderMessageID, &m.Content, &m.TokensIn, &m.TokensOut, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record outbound message: %w", err)
	}
	return &m, nil
}

func (s *Service) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, tenant_id, direction, provider_message_id, content, tokens_in, tokens_out, created_at
		 FROM messages WHERE conversation_id = $1 AND tenant_id = $2
		 ORDER BY created_at DESC LIMIT $3`,
		conversationID, tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.ProviderMessageID,
			&m.Content, &m.TokensIn, &m.TokensOut, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
