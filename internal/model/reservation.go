package model

import "time"

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// CancelledBy records which party ended a reservation.
type CancelledBy string

const (
	CancelledByConsumer CancelledBy = "consumer"
	CancelledByFarm     CancelledBy = "farm"
	CancelledByAdmin    CancelledBy = "admin"
	CancelledBySystem   CancelledBy = "system"
)

type Reservation struct {
	ID                   uint64            `gorm:"primaryKey;autoIncrement"`
	FarmID               uint64            `gorm:"column:farm_id;not null;index:idx_reservations_occurrence,priority:1"`
	ConsumerUID          string            `gorm:"column:consumer_uid;size:128;not null;index"`
	SlotCode             string            `gorm:"column:slot_code;size:32;not null;index:idx_reservations_occurrence,priority:2"`
	EventStart           time.Time         `gorm:"column:event_start;not null;index:idx_reservations_occurrence,priority:3"`
	EventEnd             time.Time         `gorm:"column:event_end;not null"`
	Status               ReservationStatus `gorm:"column:status;size:32;not null;index"`
	TotalWeightKg        int               `gorm:"column:total_weight_kg;not null"`
	RiceSubtotal         int64             `gorm:"column:rice_subtotal;not null"`
	ServiceFee           int64             `gorm:"column:service_fee;not null"`
	PickupPlaceName      string            `gorm:"column:pickup_place_name;size:255"`
	CancelToken          string            `gorm:"column:cancel_token;size:512"`
	CancelTokenExpiresAt *time.Time        `gorm:"column:cancel_token_expires_at"`
	PaymentSessionID     string            `gorm:"column:payment_session_id;size:255;index"`
	ConfirmedAt          *time.Time        `gorm:"column:confirmed_at"`
	CancelledAt          *time.Time        `gorm:"column:cancelled_at"`
	CancelledBy          CancelledBy       `gorm:"column:cancelled_by;size:32"`
	CreatedAt            time.Time         `gorm:"autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"autoUpdateTime"`

	Items []ReservationItem `gorm:"foreignKey:ReservationID"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// Active reports whether the reservation still holds a pickup.
func (r *Reservation) Active() bool {
	return r.Status == ReservationStatusPending || r.Status == ReservationStatusConfirmed
}
