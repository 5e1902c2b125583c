package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inboundPayload = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"display_phone_number": "14155552671", "phone_number_id": "1029384756"},
        "messages": [{
          "from": "442071838750",
          "id": "wamid.HBgMNDQyMDcxODM4NzUw",
          "timestamp": "1756300000",
          "type": "text",
          "text": {"body": "do you deliver on sundays?"}
        }]
      }
    }]
  }]
}`

const statusOnlyPayload = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"display_phone_number": "14155552671"},
        "statuses": [{"id": "wamid.xyz", "status": "delivered"}]
      }
    }]
  }]
}`

func TestWhatsAppNormalizeInbound(t *testing.T) {
	n := NewWhatsAppNormalizer()

	events, err := n.Normalize([]byte(inboundPayload))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "whatsapp", ev.Provider)
	assert.Equal(t, "+14155552671", ev.ChannelPhoneNumber)
	assert.Equal(t, "+442071838750", ev.FromPhoneNumber)
	assert.Equal(t, "wamid.HBgMNDQyMDcxODM4NzUw", ev.ProviderMessageID)
	assert.Equal(t, "do you deliver on sundays?", ev.Text)
	assert.Equal(t, time.Unix(1756300000, 0).UTC(), ev.ReceivedAt)
}

func TestWhatsAppNormalizeStatusCallback(t *testing.T) {
	n := NewWhatsAppNormalizer()

	events, err := n.Normalize([]byte(statusOnlyPayload))
	require.NoError(t, err)
	assert.Empty(t, events, "status callbacks carry no messages and are not an error")
}

func TestWhatsAppNormalizeMissingMessageID(t *testing.T) {
	payload := `{
	  "entry": [{"changes": [{"value": {
	    "metadata": {"display_phone_number": "14155552671"},
	    "messages": [{"from": "442071838750", "text": {"body": "hi"}}]
	  }}]}]
	}`
	n := NewWhatsAppNormalizer()

	_, err := n.Normalize([]byte(payload))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestWhatsAppNormalizeBadPhone(t *testing.T) {
	payload := `{
	  "entry": [{"changes": [{"value": {
	    "metadata": {"display_phone_number": "14155552671"},
	    "messages": [{"from": "12", "id": "wamid.abc", "text": {"body": "hi"}}]
	  }}]}]
	}`
	n := NewWhatsAppNormalizer()

	_, err := n.Normalize([]byte(payload))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestWhatsAppNormalizeGarbage(t *testing.T) {
	n := NewWhatsAppNormalizer()
	_, err := n.Normalize([]byte("not json at all"))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry(NewWhatsAppNormalizer())

	_, err := r.Normalize("telegram", []byte(`{}`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	events, err := r.Normalize("whatsapp", []byte(statusOnlyPayload))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "already e164", in: "+14155552671", want: "+14155552671"},
		{name: "missing plus", in: "442071838750", want: "+442071838750"},
		{name: "formatted", in: "+1 (415) 555-2671", want: "+14155552671"},
		{name: "empty", in: "", wantErr: true},
		{name: "too short", in: "12", wantErr: true},
		{name: "letters", in: "call-me-maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeE164(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
