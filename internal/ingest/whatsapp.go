package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// WhatsAppNormalizer maps the Meta Cloud API webhook shape to canonical
// events.
type WhatsAppNormalizer struct{}

func NewWhatsAppNormalizer() *WhatsAppNormalizer {
	return &WhatsAppNormalizer{}
}

func (n *WhatsAppNormalizer) Provider() string { return "whatsapp" }

type whatsAppPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (n *WhatsAppNormalizer) Normalize(payload []byte) ([]InboundMessageEvent, error) {
	var p whatsAppPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: decode whatsapp payload: %v", ErrInvalidPayload, err)
	}

	var events []InboundMessageEvent
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if len(value.Messages) == 0 {
				// Status callbacks and delivery receipts carry no messages.
				continue
			}

			channelPhone, err := NormalizeE164(value.Metadata.DisplayPhoneNumber)
			if err != nil {
				return nil, err
			}

			for _, msg := range value.Messages {
				if msg.ID == "" {
					return nil, fmt.Errorf("%w: message without provider id", ErrInvalidPayload)
				}
				from, err := NormalizeE164(msg.From)
				if err != nil {
					return nil, err
				}

				receivedAt := time.Now().UTC()
				if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil && ts > 0 {
					receivedAt = time.Unix(ts, 0).UTC()
				}

				events = append(events, InboundMessageEvent{
					Provider:           "whatsapp",
					ChannelPhoneNumber: channelPhone,
					FromPhoneNumber:    from,
					ProviderMessageID:  msg.ID,
					Text:               msg.Text.Body,
					ReceivedAt:         receivedAt,
				})
			}
		}
	}

	return events, nil
}
