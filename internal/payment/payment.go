// Package payment opens checkout sessions for the reservation service fee and decodes the
// provider's webhook callbacks.
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConfigured    = errors.New("payment gateway not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

type CheckoutRequest struct {
	ReservationID uint64
	ConsumerUID   string
	AmountYen     int64
	Description   string
	ExpiresAt     time.Time
}

type CheckoutSession struct {
	ID  string
	URL string
}

type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout.session.completed"
	EventCheckoutExpired   EventKind = "checkout.session.expired"
	EventIgnored           EventKind = "ignored"
)

// WebhookEvent is the part of a provider callback the reservation flow acts on.
type WebhookEvent struct {
	ID            string
	Kind          EventKind
	SessionID     string
	ReservationID uint64
	PaymentStatus string
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
