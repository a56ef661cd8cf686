package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	ErrInvalidSelection  = order.ErrInvalidSelection
	ErrInvalidSlotCode   = schedule.ErrInvalidSlotCode
	ErrUnknownOccurrence = schedule.ErrUnknownOccurrence

	ErrSlotDeadlinePassed       = errors.New("slot_deadline_passed")
	ErrCancellationWindowClosed = errors.New("cancellation_window_closed")
	ErrTokenInvalidOrExpired    = errors.New("token_invalid_or_expired")
	ErrReservationNotFound      = errors.New("reservation_not_found")
	ErrReservationCancelled     = errors.New("reservation_cancelled")
	ErrPricingUnavailable       = errors.New("pricing_unavailable")
	ErrPaymentUnavailable       = errors.New("payment_unavailable")

	// ErrAlreadyCancelled aborts a cancel transaction without writing. Cancel reports it as success.
	ErrAlreadyCancelled = errors.New("already_cancelled")

	ErrFarmExists   = errors.New("farm_exists")
	ErrPickupLocked = errors.New("pickup_locked")
	ErrInvalidInput = errors.New("invalid_input")
)

// DeadlineError reports a closed reservation or cancellation window. It matches its Kind with errors.Is.
type DeadlineError struct {
	Kind   error
	Cutoff time.Time
	Next   *schedule.Occurrence
}

func (e *DeadlineError) Error() string {
	msg := fmt.Sprintf("%v: closed at %s", e.Kind, e.Cutoff.Format(time.RFC3339))
	if e.Next != nil {
		msg += fmt.Sprintf("; next pickup %s", e.Next.EventStart.Format(time.RFC3339))
	}
	return msg
}

func (e *DeadlineError) Unwrap() error { return e.Kind }
