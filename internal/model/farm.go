package model

import "time"

type Farm struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement"`
	OwnerUID        string    `gorm:"column:owner_uid;size:128;not null;uniqueIndex:uk_farms_owner"`
	Name            string    `gorm:"size:120;not null"`
	PRTitle         string    `gorm:"column:pr_title;size:255"`
	PRBody          string    `gorm:"column:pr_body;type:text"`
	SlotCode        string    `gorm:"column:slot_code;size:32;not null"`
	PickupPlaceName string    `gorm:"column:pickup_place_name;size:255"`
	PickupLat       float64   `gorm:"column:pickup_lat"`
	PickupLng       float64   `gorm:"column:pickup_lng"`
	PickupNotes     string    `gorm:"column:pickup_notes;type:text"`
	Price5kg        int64     `gorm:"column:price_5kg;not null;default:0"`
	Price10kg       int64     `gorm:"column:price_10kg;not null;default:0"`
	Price25kg       int64     `gorm:"column:price_25kg;not null;default:0"`
	AutoPrice       bool      `gorm:"column:auto_price;not null;default:false"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Farm) TableName() string {
	return "farms"
}
