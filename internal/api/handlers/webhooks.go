package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ayoubkhl/ragrelay/internal/ingest"
	"github.com/ayoubkhl/ragrelay/internal/queue"
)

// WebhookHandler receives provider callbacks. It always acknowledges with
// 200: processing happens asynchronously and its outcome is never visible
// through the webhook response.
type WebhookHandler struct {
	registry    *ingest.Registry
	queueClient *queue.Client
	verifyToken string
}

func NewWebhookHandler(registry *ingest.Registry, qc *queue.Client, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		registry:    registry,
		queueClient: qc,
		verifyToken: verifyToken,
	}
}

// Verify answers the provider's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		slog.Error("failed to read webhook body", "provider", provider, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}

	events, err := h.registry.Normalize(provider, body)
	if err != nil {
		// Malformed payloads are dropped permanently; the provider still
		// gets its acknowledgment.
		slog.Warn("dropping invalid webhook payload", "provider", provider, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}

	for _, ev := range events {
		err := h.queueClient.EnqueueMessageProcess(queue.MessageProcessPayload{Event: ev})
		if errors.Is(err, queue.ErrDuplicateSuppressed) {
			slog.Info("duplicate webhook delivery suppressed", "provider_message_id", ev.ProviderMessageID)
			continue
		}
		if err != nil {
			slog.Error("failed to enqueue message job",
				"provider_message_id", ev.ProviderMessageID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
