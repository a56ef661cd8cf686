package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/payment"
	"github.com/shinyyama/komemarche-backend/internal/reqctx"
	"github.com/shinyyama/komemarche-backend/internal/service"
)

type WebhookHandler struct {
	gateway payment.Gateway
	svc     service.ReservationService
}

func NewWebhookHandler(gateway payment.Gateway, svc service.ReservationService) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, svc: svc}
}

// Stripe answers non-2xx for failures Stripe should retry and 2xx for everything applied or ignored.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	if h.gateway == nil {
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("payment_disabled", "payments are not configured"))
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("read_failed", "could not read body"))
	}
	ev, err := h.gateway.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("payment_disabled", "payments are not configured"))
		}
		log.Printf("[webhook] rid=%s verify failed err=%v", reqctx.RID(c.Request().Context()), err)
		return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_signature", "signature verification failed"))
	}
	log.Printf("[webhook] rid=%s event=%s kind=%s reservation_id=%d", reqctx.RID(c.Request().Context()), ev.ID, ev.Kind, ev.ReservationID)
	if err := h.svc.HandlePaymentEvent(c.Request().Context(), ev); err != nil {
		if errors.Is(err, service.ErrReservationNotFound) {
			return c.JSON(http.StatusOK, map[string]bool{"received": true})
		}
		log.Printf("[webhook] rid=%s apply failed event=%s err=%v", reqctx.RID(c.Request().Context()), ev.ID, err)
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to apply event"))
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
