package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		raw     string
		kind    EventKind
		rid     uint64
		session string
	}{
		{
			name:    "completed with metadata",
			typ:     "checkout.session.completed",
			raw:     `{"id":"cs_1","payment_status":"paid","metadata":{"reservation_id":"12"}}`,
			kind:    EventCheckoutCompleted,
			rid:     12,
			session: "cs_1",
		},
		{
			name:    "expired falls back to client reference",
			typ:     "checkout.session.expired",
			raw:     `{"id":"cs_2","client_reference_id":"34"}`,
			kind:    EventCheckoutExpired,
			rid:     34,
			session: "cs_2",
		},
		{
			name: "other events ignored",
			typ:  "customer.created",
			raw:  `{"id":"cus_1"}`,
			kind: EventIgnored,
		},
		{
			name:    "malformed id",
			typ:     "checkout.session.completed",
			raw:     `{"id":"cs_3","metadata":{"reservation_id":"abc"}}`,
			kind:    EventCheckoutCompleted,
			session: "cs_3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := decodeEvent("evt_1", tt.typ, []byte(tt.raw))
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.rid, ev.ReservationID)
			assert.Equal(t, tt.session, ev.SessionID)
		})
	}
}

func TestClampExpiry(t *testing.T) {
	now := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	g := NewStripeGateway("", "", "http://localhost:3000", func() time.Time { return now })

	assert.Equal(t, now.Add(30*time.Minute), g.clampExpiry(now.Add(time.Minute)))
	assert.Equal(t, now.Add(45*time.Minute), g.clampExpiry(now.Add(45*time.Minute)))
	assert.Equal(t, now.Add(24*time.Hour), g.clampExpiry(now.Add(72*time.Hour)))
}

func TestUnconfiguredGateway(t *testing.T) {
	g := NewStripeGateway("", "", "", nil)
	_, err := g.CreateCheckout(context.Background(), CheckoutRequest{ReservationID: 1, AmountYen: 300})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = g.ParseWebhook([]byte(`{}`), "sig")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestParseWebhookSignature(t *testing.T) {
	secret := "whsec_test"
	g := NewStripeGateway("", secret, "", nil)
	payload := []byte(`{"id":"evt_9","object":"event","type":"checkout.session.completed","api_version":"` + stripe.APIVersion +
		`","data":{"object":{"id":"cs_9","metadata":{"reservation_id":"9"}}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	ev, err := g.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, uint64(9), ev.ReservationID)
	assert.Equal(t, "cs_9", ev.SessionID)

	_, err = g.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}
