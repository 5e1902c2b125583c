package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPayload marks a webhook payload that cannot be normalized:
// unparsable phone number or missing provider message id. Such events are
// dropped permanently; without a message id they cannot be deduplicated.
var ErrInvalidPayload = errors.New("invalid provider payload")

// InboundMessageEvent is the canonical inbound message. It is transient:
// carried through the dispatch queue, never persisted as its own row.
type InboundMessageEvent struct {
	Provider           string    `json:"provider"`
	ChannelPhoneNumber string    `json:"channel_phone_number"` // E.164
	FromPhoneNumber    string    `json:"from_phone_number"`    // E.164
	ProviderMessageID  string    `json:"provider_message_id"`
	Text               string    `json:"text"`
	ReceivedAt         time.Time `json:"received_at"`
}

// Normalizer turns one provider's raw webhook payload into canonical
// events. A payload may carry zero events (delivery receipts, status
// callbacks); that is not an error.
type Normalizer interface {
	Provider() string
	Normalize(payload []byte) ([]InboundMessageEvent, error)
}

// Registry selects the normalizer for a provider name.
type Registry struct {
	normalizers map[string]Normalizer
}

func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{normalizers: make(map[string]Normalizer)}
	for _, n := range normalizers {
		r.normalizers[n.Provider()] = n
	}
	return r
}

func (r *Registry) Normalize(provider string, payload []byte) ([]InboundMessageEvent, error) {
	n, ok := r.normalizers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidPayload, provider)
	}
	return n.Normalize(payload)
}

// NormalizeE164 parses a raw phone number and returns it in E.164.
func NormalizeE164(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty phone number", ErrInvalidPayload)
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}

	num, err := phonenumbers.Parse(cleaned, "ZZ")
	if err != nil {
		return "", fmt.Errorf("%w: parse phone %q: %v", ErrInvalidPayload, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: invalid phone %q", ErrInvalidPayload, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
