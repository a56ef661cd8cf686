package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/service"
)

const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// bindStrict decodes a JSON body rejecting unknown fields, then runs struct validation.
func bindStrict(c echo.Context, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid body: trailing data")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid field %s: failed %s", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

func currentUID(c echo.Context) string {
	uid, _ := c.Get("uid").(string)
	return uid
}

func isAdmin(c echo.Context) bool {
	admin, _ := c.Get("admin").(bool)
	return admin
}

func parseID(c echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

// parseDate reads YYYY-MM-DD or RFC3339 in loc.
func parseDate(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", msg))
}

// writeServiceError renders a service error. loc formats cutoff times for the reader.
func writeServiceError(c echo.Context, err error, loc *time.Location) error {
	var dl *service.DeadlineError
	if errors.As(err, &dl) {
		return c.JSON(http.StatusConflict, deadlineResponse(dl, loc))
	}
	switch {
	case errors.Is(err, service.ErrInvalidSelection):
		return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("invalid_selection", err.Error()))
	case errors.Is(err, service.ErrInvalidSlotCode):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_slot_code", err.Error()))
	case errors.Is(err, service.ErrUnknownOccurrence):
		return c.JSON(http.StatusConflict, NewErrorResponse("unknown_occurrence", err.Error()))
	case errors.Is(err, service.ErrTokenInvalidOrExpired):
		return c.JSON(http.StatusForbidden, NewErrorResponse("token_invalid_or_expired", "cancel link is invalid or has expired"))
	case errors.Is(err, service.ErrReservationNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("reservation_not_found", "reservation not found"))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "not found"))
	case errors.Is(err, service.ErrReservationCancelled):
		return c.JSON(http.StatusConflict, NewErrorResponse("reservation_cancelled", "reservation was already cancelled"))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "not allowed"))
	case errors.Is(err, service.ErrPricingUnavailable):
		return c.JSON(http.StatusConflict, NewErrorResponse("pricing_unavailable", err.Error()))
	case errors.Is(err, service.ErrPaymentUnavailable):
		return c.JSON(http.StatusBadGateway, NewErrorResponse("payment_unavailable", "could not start payment, please retry"))
	case errors.Is(err, service.ErrFarmExists):
		return c.JSON(http.StatusConflict, NewErrorResponse("farm_exists", "farm already registered"))
	case errors.Is(err, service.ErrPickupLocked):
		return c.JSON(http.StatusConflict, NewErrorResponse("pickup_locked", err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
	case errors.Is(err, repository.ErrDBNotReady):
		return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("db_not_ready", "database not ready"))
	}
	c.Logger().Errorf("unhandled service error: %v", err)
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "internal error"))
}

func deadlineResponse(dl *service.DeadlineError, loc *time.Location) ErrorResponse {
	code := "slot_deadline_passed"
	msg := fmt.Sprintf("reservations for this slot closed at %s", dl.Cutoff.In(loc).Format("15:04"))
	if errors.Is(dl, service.ErrCancellationWindowClosed) {
		code = "cancellation_window_closed"
		msg = fmt.Sprintf("cancellation closed at %s", dl.Cutoff.In(loc).Format("2006-01-02 15:04"))
	}
	details := map[string]interface{}{"cutoff": dl.Cutoff.In(loc).Format(time.RFC3339)}
	if dl.Next != nil {
		msg += fmt.Sprintf("; the next slot is %s", dl.Next.EventStart.In(loc).Format("2006-01-02 15:04"))
		details["nextOccurrence"] = toOccurrenceResponse(*dl.Next, loc)
	}
	return NewErrorResponseWithDetails(code, msg, details)
}
