// Package notify publishes reservation lifecycle events for downstream consumers
// (mail, LINE and the farmer dashboard).
package notify

import (
	"context"
	"log"
	"time"
)

type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationCancelled EventType = "reservation.cancelled"
)

// Queues lists every queue a publisher declares.
func Queues() []EventType {
	return []EventType{EventReservationCreated, EventReservationConfirmed, EventReservationCancelled}
}

type ReservationEvent struct {
	Type          EventType `json:"type"`
	ReservationID uint64    `json:"reservation_id"`
	FarmID        uint64    `json:"farm_id"`
	ConsumerUID   string    `json:"consumer_uid"`
	Occurrence    string    `json:"occurrence"`
	EventStart    time.Time `json:"event_start"`
	TotalWeightKg int       `json:"total_weight_kg"`
	CancelToken   string    `json:"cancel_token,omitempty"`
	CancelledBy   string    `json:"cancelled_by,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher is best-effort: callers log failures and never roll back on them.
type Publisher interface {
	Publish(ctx context.Context, ev ReservationEvent) error
}

// LogPublisher writes events to the process log. It is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev ReservationEvent) error {
	log.Printf("[notify] type=%s reservation_id=%d farm_id=%d occurrence=%s", ev.Type, ev.ReservationID, ev.FarmID, ev.Occurrence)
	return nil
}
