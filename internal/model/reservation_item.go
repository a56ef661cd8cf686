package model

// ReservationItem is a priced line captured when the reservation was created.
type ReservationItem struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	ReservationID uint64 `gorm:"column:reservation_id;not null;index:idx_reservation_items_reservation_id"`
	SizeKg        int    `gorm:"column:size_kg;not null"`
	Quantity      int    `gorm:"column:quantity;not null"`
	UnitPrice     int64  `gorm:"column:unit_price;not null"`
	Subtotal      int64  `gorm:"column:subtotal;not null"`
}

func (ReservationItem) TableName() string {
	return "reservation_items"
}
