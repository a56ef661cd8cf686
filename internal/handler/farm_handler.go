package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"github.com/shinyyama/komemarche-backend/internal/service"
)

type FarmHandler struct {
	svc   service.FarmService
	sched *schedule.Scheduler
}

func NewFarmHandler(svc service.FarmService, sched *schedule.Scheduler) *FarmHandler {
	return &FarmHandler{svc: svc, sched: sched}
}

type FarmResponse struct {
	ID              uint64  `json:"id"`
	Name            string  `json:"name"`
	PRTitle         string  `json:"prTitle"`
	PRBody          string  `json:"prBody"`
	SlotCode        string  `json:"slotCode"`
	SlotLabel       string  `json:"slotLabel"`
	PickupPlaceName string  `json:"pickupPlaceName"`
	PickupLat       float64 `json:"pickupLat"`
	PickupLng       float64 `json:"pickupLng"`
	PickupNotes     string  `json:"pickupNotes"`
	Price5kg        int64   `json:"price5kg"`
	Price10kg       int64   `json:"price10kg"`
	Price25kg       int64   `json:"price25kg"`
	AutoPrice       bool    `json:"autoPrice"`
	UpdatedAt       string  `json:"updatedAt"`
}

type OccurrenceResponse struct {
	SlotCode            string `json:"slotCode"`
	EventStart          string `json:"eventStart"`
	EventEnd            string `json:"eventEnd"`
	ReservationDeadline string `json:"reservationDeadline"`
	GraceUntil          string `json:"graceUntil"`
}

func toOccurrenceResponse(o schedule.Occurrence, loc *time.Location) OccurrenceResponse {
	return OccurrenceResponse{
		SlotCode:            string(o.SlotCode),
		EventStart:          o.EventStart.In(loc).Format(time.RFC3339),
		EventEnd:            o.EventEnd.In(loc).Format(time.RFC3339),
		ReservationDeadline: o.ReservationDeadline.In(loc).Format(time.RFC3339),
		GraceUntil:          o.GraceUntil.In(loc).Format(time.RFC3339),
	}
}

func (h *FarmHandler) toFarmResponse(f *model.Farm) FarmResponse {
	label := ""
	if def, err := h.sched.Definition(schedule.SlotCode(f.SlotCode)); err == nil {
		label = def.Label
	}
	return FarmResponse{
		ID:              f.ID,
		Name:            f.Name,
		PRTitle:         f.PRTitle,
		PRBody:          f.PRBody,
		SlotCode:        f.SlotCode,
		SlotLabel:       label,
		PickupPlaceName: f.PickupPlaceName,
		PickupLat:       f.PickupLat,
		PickupLng:       f.PickupLng,
		PickupNotes:     f.PickupNotes,
		Price5kg:        f.Price5kg,
		Price10kg:       f.Price10kg,
		Price25kg:       f.Price25kg,
		AutoPrice:       f.AutoPrice,
		UpdatedAt:       f.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *FarmHandler) List(c echo.Context) error {
	limit, offset := 20, 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	farms, total, err := h.svc.List(c.Request().Context(), limit, offset)
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	resp := make([]FarmResponse, 0, len(farms))
	for i := range farms {
		resp = append(resp, h.toFarmResponse(&farms[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"farms": resp,
		"total": total,
	})
}

func (h *FarmHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, "invalid farm id")
	}
	farm, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, h.toFarmResponse(farm))
}

func (h *FarmHandler) NextPickup(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return badRequest(c, "invalid farm id")
	}
	farm, occ, err := h.svc.NextPickup(c.Request().Context(), id)
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"farmId":          farm.ID,
		"pickupPlaceName": farm.PickupPlaceName,
		"occurrence":      toOccurrenceResponse(occ, h.sched.Location()),
	})
}

type createFarmRequest struct {
	Name            string  `json:"name" validate:"required,max=120"`
	SlotCode        string  `json:"slotCode" validate:"required"`
	PickupPlaceName string  `json:"pickupPlaceName" validate:"max=255"`
	PickupLat       float64 `json:"pickupLat" validate:"gte=-90,lte=90"`
	PickupLng       float64 `json:"pickupLng" validate:"gte=-180,lte=180"`
	PickupNotes     string  `json:"pickupNotes"`
	Price10kg       int64   `json:"price10kg" validate:"gte=0"`
}

func (h *FarmHandler) CreateMine(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	var req createFarmRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	farm, err := h.svc.Create(c.Request().Context(), uid, service.CreateFarmInput{
		Name:            req.Name,
		SlotCode:        req.SlotCode,
		PickupPlaceName: req.PickupPlaceName,
		PickupLat:       req.PickupLat,
		PickupLng:       req.PickupLng,
		PickupNotes:     req.PickupNotes,
		Price10kg:       req.Price10kg,
	})
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusCreated, h.toFarmResponse(farm))
}

func (h *FarmHandler) GetMine(c echo.Context) error {
	farm, err := h.svc.GetMine(c.Request().Context(), currentUID(c))
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, h.toFarmResponse(farm))
}

type pricingRequest struct {
	Price5kg  int64 `json:"price5kg" validate:"gte=0"`
	Price10kg int64 `json:"price10kg" validate:"gt=0"`
	Price25kg int64 `json:"price25kg" validate:"gte=0"`
	Auto      bool  `json:"auto"`
}

func (h *FarmHandler) UpdatePricing(c echo.Context) error {
	var req pricingRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	farm, err := h.svc.UpdatePricing(c.Request().Context(), currentUID(c), service.PricingInput{
		Price5kg:  req.Price5kg,
		Price10kg: req.Price10kg,
		Price25kg: req.Price25kg,
		Auto:      req.Auto,
	})
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, h.toFarmResponse(farm))
}

type pickupRequest struct {
	SlotCode  string  `json:"slotCode"`
	PlaceName string  `json:"placeName" validate:"max=255"`
	Lat       float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng       float64 `json:"lng" validate:"gte=-180,lte=180"`
	Notes     string  `json:"notes"`
}

func (h *FarmHandler) UpdatePickup(c echo.Context) error {
	var req pickupRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	farm, err := h.svc.UpdatePickup(c.Request().Context(), currentUID(c), service.PickupInput{
		SlotCode:  req.SlotCode,
		PlaceName: req.PlaceName,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Notes:     req.Notes,
	})
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, h.toFarmResponse(farm))
}

func (h *FarmHandler) PickupEditable(c echo.Context) error {
	st, err := h.svc.PickupEditable(c.Request().Context(), currentUID(c))
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"editable":           st.Editable,
		"activeReservations": st.ActiveCount,
		"nextOccurrence":     toOccurrenceResponse(st.Next, h.sched.Location()),
	})
}

type prRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h *FarmHandler) UpdatePR(c echo.Context) error {
	var req prRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	farm, err := h.svc.UpdatePR(c.Request().Context(), currentUID(c), req.Title, req.Body)
	if err != nil {
		return writeServiceError(c, err, h.sched.Location())
	}
	return c.JSON(http.StatusOK, h.toFarmResponse(farm))
}

type deriveRequest struct {
	Price10kg int64 `json:"price10kg" validate:"gt=0"`
}

// DerivePricing previews the auto-derived 5kg and 25kg prices for a 10kg price.
func (h *FarmHandler) DerivePricing(c echo.Context) error {
	var req deriveRequest
	if err := bindStrict(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	p := order.DerivePrices(req.Price10kg)
	return c.JSON(http.StatusOK, map[string]int64{
		"price5kg":  p.Price5kg,
		"price10kg": p.Price10kg,
		"price25kg": p.Price25kg,
	})
}

func (h *FarmHandler) Slots(c echo.Context) error {
	defs := h.sched.Slots()
	resp := make([]map[string]string, 0, len(defs))
	for _, d := range defs {
		resp = append(resp, map[string]string{"code": string(d.Code), "label": d.Label})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"slots": resp})
}
