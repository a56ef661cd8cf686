package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublishing(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	at := time.Date(2026, 10, 20, 10, 0, 0, 0, jst)
	ev := ReservationEvent{
		Type:          EventReservationCreated,
		ReservationID: 42,
		FarmID:        3,
		ConsumerUID:   "consumer-1",
		Occurrence:    "wed_1900@2026-10-21T19:00:00+09:00",
		EventStart:    time.Date(2026, 10, 21, 19, 0, 0, 0, jst),
		TotalWeightKg: 25,
		CancelToken:   "tok",
		OccurredAt:    at,
	}

	queue, msg, err := newPublishing(ev)
	require.NoError(t, err)
	assert.Equal(t, "reservation.created", queue)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "reservation.created:42", msg.MessageId)
	assert.True(t, msg.Timestamp.Equal(at))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "reservation.created", body["type"])
	assert.Equal(t, float64(42), body["reservation_id"])
	assert.Equal(t, float64(3), body["farm_id"])
	assert.Equal(t, "wed_1900@2026-10-21T19:00:00+09:00", body["occurrence"])
	assert.Equal(t, "2026-10-21T19:00:00+09:00", body["event_start"])
	assert.Equal(t, float64(25), body["total_weight_kg"])
	assert.Equal(t, "tok", body["cancel_token"])
	_, hasCancelledBy := body["cancelled_by"]
	assert.False(t, hasCancelledBy)

	var decoded ReservationEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, ev.ReservationID, decoded.ReservationID)
	assert.True(t, decoded.EventStart.Equal(ev.EventStart))
}

func TestNewPublishingCancelled(t *testing.T) {
	queue, msg, err := newPublishing(ReservationEvent{Type: EventReservationCancelled, ReservationID: 7, CancelledBy: "farm"})
	require.NoError(t, err)
	assert.Equal(t, "reservation.cancelled", queue)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Contains(t, string(msg.Body), `"cancelled_by":"farm"`)
	assert.NotContains(t, string(msg.Body), "cancel_token")
}

func TestNewPublishingUnknownType(t *testing.T) {
	_, _, err := newPublishing(ReservationEvent{Type: "reservation.refunded", ReservationID: 1})
	assert.Error(t, err)
}

func TestQueuesCoverEveryEvent(t *testing.T) {
	assert.ElementsMatch(t, []EventType{EventReservationCreated, EventReservationConfirmed, EventReservationCancelled}, Queues())
}

func TestPublishUnknownTypeSkipsDial(t *testing.T) {
	p := NewAMQPPublisher("amqp://invalid.invalid:1/")
	err := p.Publish(context.Background(), ReservationEvent{Type: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
	assert.NoError(t, p.Close())
}
