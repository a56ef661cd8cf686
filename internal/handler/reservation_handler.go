package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/service"
)

type ReservationHandler struct {
	svc    service.ReservationService
	notify service.NotificationService
	loc    *time.Location
}

func NewReservationHandler(svc service.ReservationService, notify service.NotificationService, loc *time.Location) *ReservationHandler {
	return &ReservationHandler{svc: svc, notify: notify, loc: loc}
}

type ReservationItemResponse struct {
	SizeKg    int   `json:"sizeKg"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unitPrice"`
	Subtotal  int64 `json:"subtotal"`
}

type ReservationResponse struct {
	ID                  uint64                    `json:"id"`
	FarmID              uint64                    `json:"farmId"`
	ConsumerUID         string                    `json:"consumerUid"`
	Status              string                    `json:"status"`
	Active              bool                      `json:"active"`
	SlotCode            string                    `json:"slotCode"`
	EventStart          string                    `json:"eventStart"`
	EventEnd            string                    `json:"eventEnd"`
	ReservationDeadline *string                   `json:"reservationDeadline,omitempty"`
	CancelDeadline      *string                   `json:"cancelDeadline,omitempty"`
	PickupPlaceName     string                    `json:"pickupPlaceName"`
	TotalWeightKg       int                       `json:"totalWeightKg"`
	RiceSubtotal        int64                     `json:"riceSubtotal"`
	ServiceFee          int64                     `json:"serviceFee"`
	Items               []ReservationItemResponse `json:"items"`
	ConfirmedAt         *string                   `json:"confirmedAt,omitempty"`
	CancelledAt         *string                   `json:"cancelledAt,omitempty"`
	CancelledBy         string                    `json:"cancelledBy,omitempty"`
	CreatedAt           string                    `json:"createdAt"`
}

type CreatedReservationResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	CancelToken string              `json:"cancelToken"`
	CheckoutURL string              `json:"checkoutUrl,omitempty"`
}

func (h *ReservationHandler) formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.In(h.loc).Format(time.RFC3339)
	return &v
}

func (h *ReservationHandler) toReservationResponse(r *model.Reservation) ReservationResponse {
	items := make([]ReservationItemResponse, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, ReservationItemResponse{
			SizeKg:    it.SizeKg,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	resp := ReservationResponse{
		ID:              r.ID,
		FarmID:          r.FarmID,
		ConsumerUID:     r.ConsumerUID,
		Status:          string(r.Status),
		Active:          r.Active(),
		SlotCode:        r.SlotCode,
		EventStart:      r.EventStart.In(h.loc).Format(time.RFC3339),
		EventEnd:        r.EventEnd.In(h.loc).Format(time.RFC3339),
		PickupPlaceName: r.PickupPlaceName,
		TotalWeightKg:   r.TotalWeightKg,
		RiceSubtotal:    r.RiceSubtotal,
		ServiceFee:      r.ServiceFee,
		Items:           items,
		ConfirmedAt:     h.formatTime(r.ConfirmedAt),
		CancelledAt:     h.formatTime(r.CancelledAt),
		CancelledBy:     string(r.CancelledBy),
		CreatedAt:       r.CreatedAt.In(h.loc).Format(time.RFC3339),
	}
	if occ, err := h.svc.OccurrenceOf(r); err == nil {
		resp.ReservationDeadline = h.formatTime(&occ.ReservationDeadline)
		resp.CancelDeadline = h.formatTime(&occ.GraceUntil)
	}
	return resp
}

func (h *ReservationHandler) toList(list []model.Reservation) []ReservationResponse {
	resp := make([]ReservationResponse, 0, len(list))
	for i := range list {
		resp = append(resp, h.toReservationResponse(&list[i]))
	}
	return resp
}

type reservationItemRequest struct {
	SizeKg   int `json:"sizeKg" validate:"required"`
	Quantity int `json:"quantity" validate:"min=0,max=10"`
}

type createReservationRequest struct {
	SlotCode string `json:"slotCode" validate:"required"`
	// EventStart may be omitted to book the slot's next open pickup.
	EventStart time.Time                `json:"eventStart"`
	Items      []reservationItemRequest `json:"items" validate:"required,min=1,max=3,dive"`
}

func (r createReservationRequest) selection() (order.Selection, error) {
	sel := order.Selection{}
	for _, it := range r.Items {
		tier := order.Tier(it.SizeKg)
		if _, dup := sel[tier]; dup {
			return nil, fmt.Errorf("%w: %dkg listed twice", order.ErrInvalidSelection, it.SizeKg)
		}
		sel[tier] = it.Quantity
	}
	return sel, nil
}

func (h *ReservationHandler) Create(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	farmID, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, "invalid farm id")
	}
	var req createReservationRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	sel, err := req.selection()
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	created, err := h.svc.Create(c.Request().Context(), service.CreateReservationInput{
		FarmID:      farmID,
		ConsumerUID: uid,
		SlotCode:    req.SlotCode,
		EventStart:  req.EventStart,
		Selection:   sel,
	})
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusCreated, CreatedReservationResponse{
		Reservation: h.toReservationResponse(created.Reservation),
		CancelToken: created.CancelToken,
		CheckoutURL: created.CheckoutURL,
	})
}

func (h *ReservationHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, "invalid reservation id")
	}
	uid := currentUID(c)
	res, err := h.svc.Get(c.Request().Context(), id, service.Viewer{UID: uid, Admin: isAdmin(c)})
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	if h.notify != nil {
		_ = h.notify.MarkByReservation(c.Request().Context(), uid, res.ID)
	}
	return c.JSON(http.StatusOK, h.toReservationResponse(res))
}

func (h *ReservationHandler) ListMine(c echo.Context) error {
	list, err := h.svc.ListMine(c.Request().Context(), currentUID(c))
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reservations": h.toList(list)})
}

func (h *ReservationHandler) ListForFarm(c echo.Context) error {
	var eventStart *time.Time
	if v := c.QueryParam("event_start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "event_start must be RFC3339")
		}
		eventStart = &t
	}
	list, err := h.svc.ListForFarm(c.Request().Context(), currentUID(c), eventStart)
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reservations": h.toList(list)})
}

type cancelRequest struct {
	Token string `json:"token" validate:"required"`
}

// CancelWithToken serves the link sent to consumers; the token alone authorizes it.
func (h *ReservationHandler) CancelWithToken(c echo.Context) error {
	var req cancelRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	res, err := h.svc.CancelWithToken(c.Request().Context(), req.Token)
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusOK, h.toReservationResponse(res))
}

func (h *ReservationHandler) CancelMine(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, "invalid reservation id")
	}
	var req cancelRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	res, err := h.svc.Cancel(c.Request().Context(), id, service.ConsumerActor(currentUID(c), req.Token))
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusOK, h.toReservationResponse(res))
}

func (h *ReservationHandler) CancelByFarm(c echo.Context) error {
	return h.cancelAs(c, service.FarmActor(currentUID(c)))
}

func (h *ReservationHandler) CancelByAdmin(c echo.Context) error {
	return h.cancelAs(c, service.AdminActor(currentUID(c)))
}

func (h *ReservationHandler) cancelAs(c echo.Context, actor service.Actor) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, "invalid reservation id")
	}
	res, err := h.svc.Cancel(c.Request().Context(), id, actor)
	if err != nil {
		return writeServiceError(c, err, h.loc)
	}
	return c.JSON(http.StatusOK, h.toReservationResponse(res))
}
