package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/payment"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"github.com/shinyyama/komemarche-backend/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("JST", 9*60*60)

// stubReservations implements only what each test sets; the embedded interface panics otherwise.
type stubReservations struct {
	service.ReservationService
	create       func(service.CreateReservationInput) (*service.CreatedReservation, error)
	cancelToken  func(string) (*model.Reservation, error)
	paymentEvent func(*payment.WebhookEvent) error
}

func (s *stubReservations) Create(_ context.Context, in service.CreateReservationInput) (*service.CreatedReservation, error) {
	return s.create(in)
}

func (s *stubReservations) CancelWithToken(_ context.Context, tok string) (*model.Reservation, error) {
	return s.cancelToken(tok)
}

func (s *stubReservations) HandlePaymentEvent(_ context.Context, ev *payment.WebhookEvent) error {
	return s.paymentEvent(ev)
}

func (s *stubReservations) OccurrenceOf(r *model.Reservation) (schedule.Occurrence, error) {
	return schedule.New(jst, schedule.DefaultReservationCutoff, 0).At(schedule.SlotCode(r.SlotCode), r.EventStart)
}

func serve(t *testing.T, method, path, body string, h echo.HandlerFunc, route string, uid string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Add(method, route, func(c echo.Context) error {
		if uid != "" {
			c.Set("uid", uid)
		}
		return h(c)
	})
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestReservationCreate(t *testing.T) {
	start := time.Date(2026, 10, 21, 19, 0, 0, 0, jst)
	next := schedule.New(jst, schedule.DefaultReservationCutoff, 0)
	nextOcc, err := next.At(schedule.SlotWednesdayEvening, start.AddDate(0, 0, 7))
	require.NoError(t, err)

	var got service.CreateReservationInput
	svc := &stubReservations{create: func(in service.CreateReservationInput) (*service.CreatedReservation, error) {
		got = in
		if in.FarmID == 2 {
			return nil, &service.DeadlineError{Kind: service.ErrSlotDeadlinePassed, Cutoff: start.Add(-3 * time.Hour), Next: &nextOcc}
		}
		return &service.CreatedReservation{
			Reservation: &model.Reservation{
				ID: 9, FarmID: in.FarmID, ConsumerUID: in.ConsumerUID, SlotCode: in.SlotCode,
				EventStart: start, EventEnd: start.Add(time.Hour), Status: model.ReservationStatusPending,
				TotalWeightKg: 15, RiceSubtotal: 9100, ServiceFee: 300,
				Items: []model.ReservationItem{{SizeKg: 5, Quantity: 1, UnitPrice: 3100, Subtotal: 3100}, {SizeKg: 10, Quantity: 1, UnitPrice: 6000, Subtotal: 6000}},
			},
			CancelToken: "tok",
			CheckoutURL: "https://checkout.example/cs_9",
		}, nil
	}}
	h := NewReservationHandler(svc, nil, jst)
	const route = "/api/farms/:id/reservations"
	valid := `{"slotCode":"wed_1900","eventStart":"2026-10-21T19:00:00+09:00","items":[{"sizeKg":5,"quantity":1},{"sizeKg":10,"quantity":1}]}`

	t.Run("created", func(t *testing.T) {
		rec := serve(t, http.MethodPost, "/api/farms/1/reservations", valid, h.Create, route, "c1")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp CreatedReservationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "tok", resp.CancelToken)
		assert.Equal(t, "pending", resp.Reservation.Status)
		assert.True(t, resp.Reservation.Active)
		assert.Equal(t, "2026-10-21T19:00:00+09:00", resp.Reservation.EventStart)
		require.NotNil(t, resp.Reservation.ReservationDeadline)
		assert.Equal(t, "2026-10-21T16:00:00+09:00", *resp.Reservation.ReservationDeadline)
		assert.Len(t, resp.Reservation.Items, 2)

		assert.Equal(t, uint64(1), got.FarmID)
		assert.Equal(t, "c1", got.ConsumerUID)
		assert.True(t, got.EventStart.Equal(start))
		assert.Equal(t, 1, got.Selection[5])
		assert.Equal(t, 1, got.Selection[10])
	})

	t.Run("event start omitted", func(t *testing.T) {
		body := `{"slotCode":"wed_1900","items":[{"sizeKg":10,"quantity":1}]}`
		rec := serve(t, http.MethodPost, "/api/farms/1/reservations", body, h.Create, route, "c1")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.True(t, got.EventStart.IsZero())
		assert.Equal(t, 1, got.Selection[10])
	})

	t.Run("deadline passed", func(t *testing.T) {
		rec := serve(t, http.MethodPost, "/api/farms/2/reservations", valid, h.Create, route, "c1")
		require.Equal(t, http.StatusConflict, rec.Code)
		e := decodeError(t, rec)
		assert.Equal(t, "slot_deadline_passed", e.Code)
		assert.Contains(t, e.Message, "16:00")
		assert.Equal(t, "2026-10-21T16:00:00+09:00", e.Details["cutoff"])
		next, ok := e.Details["nextOccurrence"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "2026-10-28T19:00:00+09:00", next["eventStart"])
	})

	tests := []struct {
		name   string
		body   string
		uid    string
		status int
		code   string
	}{
		{"unknown field", `{"slotCode":"wed_1900","eventStart":"2026-10-21T19:00:00+09:00","items":[{"sizeKg":5,"quantity":1}],"price":1}`, "c1", http.StatusBadRequest, "bad_request"},
		{"no items", `{"slotCode":"wed_1900","eventStart":"2026-10-21T19:00:00+09:00","items":[]}`, "c1", http.StatusBadRequest, "bad_request"},
		{"missing slot", `{"eventStart":"2026-10-21T19:00:00+09:00","items":[{"sizeKg":5,"quantity":1}]}`, "c1", http.StatusBadRequest, "bad_request"},
		{"duplicate size", `{"slotCode":"wed_1900","eventStart":"2026-10-21T19:00:00+09:00","items":[{"sizeKg":5,"quantity":1},{"sizeKg":5,"quantity":2}]}`, "c1", http.StatusUnprocessableEntity, "invalid_selection"},
		{"quantity above any bag limit", `{"slotCode":"wed_1900","items":[{"sizeKg":5,"quantity":3689348814741910324}]}`, "c1", http.StatusBadRequest, "bad_request"},
		{"anonymous", valid, "", http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, http.MethodPost, "/api/farms/1/reservations", tt.body, h.Create, route, tt.uid)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestCancelWithTokenErrors(t *testing.T) {
	cutoff := time.Date(2026, 10, 21, 16, 0, 0, 0, jst)
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"window closed", &service.DeadlineError{Kind: service.ErrCancellationWindowClosed, Cutoff: cutoff}, http.StatusConflict, "cancellation_window_closed"},
		{"bad token", service.ErrTokenInvalidOrExpired, http.StatusForbidden, "token_invalid_or_expired"},
		{"missing", service.ErrReservationNotFound, http.StatusNotFound, "reservation_not_found"},
		{"db down", repository.ErrDBNotReady, http.StatusServiceUnavailable, "db_not_ready"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubReservations{cancelToken: func(string) (*model.Reservation, error) { return nil, tt.err }}
			h := NewReservationHandler(svc, nil, jst)
			rec := serve(t, http.MethodPost, "/api/reservations/cancel", `{"token":"abc"}`, h.CancelWithToken, "/api/reservations/cancel", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

type stubGateway struct {
	ev  *payment.WebhookEvent
	err error
}

func (g stubGateway) CreateCheckout(context.Context, payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	return nil, errors.New("unused")
}

func (g stubGateway) ParseWebhook([]byte, string) (*payment.WebhookEvent, error) {
	return g.ev, g.err
}

func TestStripeWebhook(t *testing.T) {
	ev := &payment.WebhookEvent{ID: "evt_1", Kind: payment.EventCheckoutCompleted, ReservationID: 3}
	tests := []struct {
		name     string
		gateway  payment.Gateway
		applyErr error
		status   int
	}{
		{"applied", stubGateway{ev: ev}, nil, http.StatusOK},
		{"bad signature", stubGateway{err: payment.ErrInvalidSignature}, nil, http.StatusBadRequest},
		{"not configured", stubGateway{err: payment.ErrNotConfigured}, nil, http.StatusServiceUnavailable},
		{"no gateway", nil, nil, http.StatusServiceUnavailable},
		{"unknown reservation", stubGateway{ev: ev}, service.ErrReservationNotFound, http.StatusOK},
		{"apply failed", stubGateway{ev: ev}, errors.New("db"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubReservations{paymentEvent: func(*payment.WebhookEvent) error { return tt.applyErr }}
			h := NewWebhookHandler(tt.gateway, svc)
			rec := serve(t, http.MethodPost, "/api/webhooks/stripe", `{}`, h.Stripe, "/api/webhooks/stripe", "")
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

type stubStats struct {
	filter repository.StatsFilter
	rows   []service.OccurrenceStats
}

func (s *stubStats) ByOccurrence(_ context.Context, f repository.StatsFilter) ([]service.OccurrenceStats, error) {
	s.filter = f
	return s.rows, nil
}

func TestAdminStats(t *testing.T) {
	now := time.Date(2026, 10, 20, 10, 0, 0, 0, jst)
	stats := &stubStats{rows: []service.OccurrenceStats{{
		FarmID: 1, SlotCode: "wed_1900", EventStart: time.Date(2026, 10, 21, 19, 0, 0, 0, jst),
		Confirmed: 3, Cancelled: 1, ConfirmedWeightKg: 45, CancellationRate: 0.25,
	}}}
	h := NewAdminHandler(stats, jst, func() time.Time { return now })

	t.Run("json with filter", func(t *testing.T) {
		rec := serve(t, http.MethodGet, "/api/admin/stats?from=2026-10-01&to=2026-11-01&farm_id=1", "", h.Stats, "/api/admin/stats", "ops")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, stats.filter.From.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, jst)))
		assert.True(t, stats.filter.To.Equal(time.Date(2026, 11, 1, 0, 0, 0, 0, jst)))
		assert.Equal(t, uint64(1), stats.filter.FarmID)
		assert.Contains(t, rec.Body.String(), `"cancellationRate":0.25`)
	})

	t.Run("default window", func(t *testing.T) {
		rec := serve(t, http.MethodGet, "/api/admin/stats", "", h.Stats, "/api/admin/stats", "ops")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, stats.filter.From.Equal(now.Add(-30*24*time.Hour)))
		assert.True(t, stats.filter.To.Equal(now.Add(7*24*time.Hour)))
	})

	t.Run("bad filter", func(t *testing.T) {
		rec := serve(t, http.MethodGet, "/api/admin/stats?farm_id=x", "", h.Stats, "/api/admin/stats", "ops")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("csv", func(t *testing.T) {
		rec := serve(t, http.MethodGet, "/api/admin/stats.csv?from=2026-10-01&to=2026-11-01&encoding=utf8", "", h.StatsCSV, "/api/admin/stats.csv", "ops")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
		assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "reservation-stats_20261001_20261101.csv")
		assert.Contains(t, rec.Body.String(), "1,wed_1900,2026-10-21 19:00,3,1,0,45,25.0\r\n")
	})

	t.Run("csv shift_jis", func(t *testing.T) {
		rec := serve(t, http.MethodGet, "/api/admin/stats.csv", "", h.StatsCSV, "/api/admin/stats.csv", "ops")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv; charset=Shift_JIS", rec.Header().Get(echo.HeaderContentType))
	})
}
