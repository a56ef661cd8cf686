package payment

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

// Stripe's checkout sessions must live at least 30 minutes and at most 24 hours.
const (
	minSessionTTL = 30 * time.Minute
	maxSessionTTL = 24 * time.Hour
)

type StripeGateway struct {
	sc            *stripe.Client
	webhookSecret string
	baseURL       string
	now           func() time.Time
}

func NewStripeGateway(secretKey, webhookSecret, baseURL string, now func() time.Time) *StripeGateway {
	if now == nil {
		now = time.Now
	}
	var sc *stripe.Client
	if secretKey != "" {
		sc = stripe.NewClient(secretKey)
	}
	return &StripeGateway{sc: sc, webhookSecret: webhookSecret, baseURL: baseURL, now: now}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if g.sc == nil {
		return nil, ErrNotConfigured
	}
	rid := strconv.FormatUint(req.ReservationID, 10)
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(fmt.Sprintf("%s/reservations/%s?paid=1", g.baseURL, rid)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/reservations/%s?paid=0", g.baseURL, rid)),
		ClientReferenceID: stripe.String(rid),
		ExpiresAt:         stripe.Int64(g.clampExpiry(req.ExpiresAt).Unix()),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyJPY)),
					UnitAmount: stripe.Int64(req.AmountYen),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"reservation_id": rid,
			"consumer_uid":   req.ConsumerUID,
		},
	}
	cs, err := g.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		log.Printf("[payment] checkout create failed reservation_id=%s err=%v", rid, err)
		return nil, err
	}
	log.Printf("[payment] checkout created reservation_id=%s session=%s", rid, cs.ID)
	return &CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

func (g *StripeGateway) clampExpiry(at time.Time) time.Time {
	now := g.now()
	if at.Before(now.Add(minSessionTTL)) {
		return now.Add(minSessionTTL)
	}
	if at.After(now.Add(maxSessionTTL)) {
		return now.Add(maxSessionTTL)
	}
	return at
}

// ParseWebhook verifies the Stripe-Signature header and extracts the checkout session fields.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(event.ID, string(event.Type), event.Data.Raw), nil
}

func decodeEvent(id, typ string, raw []byte) *WebhookEvent {
	ev := &WebhookEvent{ID: id, Kind: EventIgnored}
	switch EventKind(typ) {
	case EventCheckoutCompleted, EventCheckoutExpired:
		ev.Kind = EventKind(typ)
	default:
		return ev
	}
	obj := gjson.ParseBytes(raw)
	ev.SessionID = obj.Get("id").String()
	ev.PaymentStatus = obj.Get("payment_status").String()
	rid := obj.Get("metadata.reservation_id").String()
	if rid == "" {
		rid = obj.Get("client_reference_id").String()
	}
	if n, err := strconv.ParseUint(rid, 10, 64); err == nil {
		ev.ReservationID = n
	}
	return ev
}
