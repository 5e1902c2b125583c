package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ayoubkhl/ragrelay/internal/channel"
	"github.com/ayoubkhl/ragrelay/internal/config"
	"github.com/ayoubkhl/ragrelay/internal/llm"
	"github.com/ayoubkhl/ragrelay/internal/models"
	"github.com/ayoubkhl/ragrelay/internal/queue"
	"github.com/ayoubkhl/ragrelay/internal/retrieval"
	"github.com/ayoubkhl/ragrelay/internal/usage"
	"github.com/ayoubkhl/ragrelay/internal/vectorstore"
	"github.com/ayoubkhl/ragrelay/pkg/tokenizer"
)

// Retriever is the slice of the retrieval engine the worker consumes.
type Retriever interface {
	Search(ctx context.Context, tenantID uuid.UUID, query string, k int) ([]vectorstore.SearchResult, error)
}

// Conversations records the inbound message and the generated artifact.
type Conversations interface {
	FindOrCreate(ctx context.Context, tenantID, channelID uuid.UUID, contactPhone string) (*models.Conversation, error)
	RecordInbound(ctx context.Context, conv *models.Conversation, providerMessageID, content string, tokensIn int) error
	RecordOutbound(ctx context.Context, conv *models.Conversation, content string, tokensOut int) (*models.Message, error)
}

// ProcessedMarker is the dedup record for completed provider message ids.
type ProcessedMarker interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// MessageWorker drives a dequeued inbound event through resolve, quota
// check, retrieval, generation and the final outbound record. Drops are
// terminal and acknowledged; only infrastructure faults propagate to the
// queue's retry machinery.
type MessageWorker struct {
	resolver  channel.Resolver
	ledger    usage.Ledger
	retriever Retriever
	gateway   llm.Gateway
	convs     Conversations
	marker    ProcessedMarker
	cfg       config.PipelineConfig
}

func NewMessageWorker(resolver channel.Resolver, ledger usage.Ledger, retriever Retriever, gw llm.Gateway, convs Conversations, marker ProcessedMarker, cfg config.PipelineConfig) *MessageWorker {
	return &MessageWorker{
		resolver:  resolver,
		ledger:    ledger,
		retriever: retriever,
		gateway:   gw,
		convs:     convs,
		marker:    marker,
		cfg:       cfg,
	}
}

func (w *MessageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.MessageProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	ev := payload.Event

	markerKey := "processed:msg:" + ev.ProviderMessageID
	done, err := w.marker.Exists(ctx, markerKey)
	if err != nil {
		return fmt.Errorf("check processed marker: %w", err)
	}
	if done {
		slog.Info("duplicate message suppressed", "provider_message_id", ev.ProviderMessageID)
		return nil
	}

	ch, err := w.resolver.Resolve(ctx, ev.ChannelPhoneNumber)
	if errors.Is(err, channel.ErrNotFound) {
		slog.Info("dropping event, no channel for number",
			"channel_phone", ev.ChannelPhoneNumber,
			"provider_message_id", ev.ProviderMessageID,
		)
		return nil
	}
	if errors.Is(err, channel.ErrAmbiguous) {
		slog.Error("dropping event, ambiguous channel configuration",
			"channel_phone", ev.ChannelPhoneNumber,
			"provider_message_id", ev.ProviderMessageID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}

	// The inbound charge is keyed per provider message id so a redelivery
	// after a mid-run fault does not consume the quota again. The charged
	// marker is set only after a successful consume: a fault before it
	// leaves the marker unset and the retry charges normally.
	tokensIn := tokenizer.CountTokens(ev.Text)
	chargedKey := "charged:msg:" + ev.ProviderMessageID
	charged, err := w.marker.Exists(ctx, chargedKey)
	if err != nil {
		return fmt.Errorf("check charged marker: %w", err)
	}
	if !charged {
		err = w.ledger.TryConsume(ctx, ch.TenantID, time.Now().UTC(), models.UsageDelta{
			MessagesIn: 1,
			TokensIn:   int64(tokensIn),
		})
		if usage.IsQuotaExceeded(err) {
			slog.Info("dropping event, quota exceeded",
				"tenant_id", ch.TenantID,
				"provider_message_id", ev.ProviderMessageID,
				"reason", err,
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("consume message quota: %w", err)
		}
		if _, err := w.marker.SetNX(ctx, chargedKey, true, w.cfg.ProcessedMarkerTTL); err != nil {
			slog.Error("failed to set charged marker", "provider_message_id", ev.ProviderMessageID, "error", err)
		}
	}

	conv, err := w.convs.FindOrCreate(ctx, ch.TenantID, ch.ID, ev.FromPhoneNumber)
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}
	if err := w.convs.RecordInbound(ctx, conv, ev.ProviderMessageID, ev.Text, tokensIn); err != nil {
		return fmt.Errorf("record inbound: %w", err)
	}

	results, err := w.retriever.Search(ctx, ch.TenantID, ev.Text, w.cfg.RetrievalTopK)
	if usage.IsQuotaExceeded(err) {
		slog.Info("dropping event, rag quota exceeded",
			"tenant_id", ch.TenantID,
			"provider_message_id", ev.ProviderMessageID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("retrieve context: %w", err)
	}
	contextBlock := retrieval.AssembleContext(results, w.cfg.ContextTokenBudget)

	resp, err := w.gateway.Chat(ctx, llm.ChatRequest{
		Messages: buildMessages(contextBlock, ev.Text),
	})
	if err != nil {
		return fmt.Errorf("generate response: %w", err)
	}

	// The lease may have expired during the slow calls above; stop before
	// the final write so a redelivered copy is the only completer.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lease lost before final write: %w", err)
	}

	if _, err := w.convs.RecordOutbound(ctx, conv, resp.Content, resp.OutputTokens); err != nil {
		return fmt.Errorf("record outbound: %w", err)
	}

	err = w.ledger.TryConsume(ctx, ch.TenantID, time.Now().UTC(), models.UsageDelta{
		MessagesOut: 1,
		TokensOut:   int64(resp.OutputTokens),
	})
	if err != nil && !usage.IsQuotaExceeded(err) {
		slog.Error("failed to record outbound usage", "tenant_id", ch.TenantID, "error", err)
	}

	if _, err := w.marker.SetNX(ctx, markerKey, true, w.cfg.ProcessedMarkerTTL); err != nil {
		slog.Error("failed to set processed marker", "provider_message_id", ev.ProviderMessageID, "error", err)
	}

	slog.Info("message processed",
		"tenant_id", ch.TenantID,
		"conversation_id", conv.ID,
		"provider_message_id", ev.ProviderMessageID,
		"retrieved_chunks", len(results),
		"tokens_out", resp.OutputTokens,
	)
	return nil
}

func buildMessages(contextBlock, inboundText string) []llm.Message {
	system := "You are a helpful assistant answering on behalf of a business over chat. " +
		"Answer using only the provided knowledge context. If the context does not " +
		"cover the question, say you do not know."
	if contextBlock != "" {
		system += "\n\nKnowledge context:\n" + contextBlock
	}
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: inboundText},
	}
}
