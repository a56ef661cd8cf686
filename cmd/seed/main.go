package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shinyyama/komemarche-backend/internal/config"
	"github.com/shinyyama/komemarche-backend/internal/db"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"gorm.io/gorm"
)

type seedFarm struct {
	OwnerUID  string
	Name      string
	PRTitle   string
	PRBody    string
	SlotCode  schedule.SlotCode
	Place     string
	Lat, Lng  float64
	Price10kg int64
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	canSeed, err := shouldSeed(ctx, gdb)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("farms already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range buildSeedFarms() {
			prices := order.DerivePrices(f.Price10kg)
			farm := model.Farm{
				OwnerUID:        f.OwnerUID,
				Name:            f.Name,
				PRTitle:         f.PRTitle,
				PRBody:          f.PRBody,
				SlotCode:        string(f.SlotCode),
				PickupPlaceName: f.Place,
				PickupLat:       f.Lat,
				PickupLng:       f.Lng,
				Price5kg:        prices.Price5kg,
				Price10kg:       prices.Price10kg,
				Price25kg:       prices.Price25kg,
				AutoPrice:       true,
			}
			var existing model.Farm
			err := tx.Where("owner_uid = ?", f.OwnerUID).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&farm).Error; err != nil {
					return fmt.Errorf("insert farm %s: %w", f.Name, err)
				}
			case err != nil:
				return err
			default:
				farm.ID = existing.ID
				farm.CreatedAt = existing.CreatedAt
				if err := tx.Save(&farm).Error; err != nil {
					return fmt.Errorf("update farm %s: %w", f.Name, err)
				}
			}
			log.Printf("seeded farm id=%d name=%s slot=%s p10=%d", farm.ID, farm.Name, farm.SlotCode, farm.Price10kg)
		}
		return nil
	})
}

func buildSeedFarms() []seedFarm {
	return []seedFarm{
		{
			OwnerUID: "seed-farmer-1", Name: "山田農園",
			PRTitle:  "今年のコシヒカリは粒ぞろい",
			PRBody:   "減農薬で育てたコシヒカリです。精米したてをお渡しします。",
			SlotCode: schedule.SlotWednesdayEvening, Place: "駅前広場 東口",
			Lat: 35.6812, Lng: 139.7671, Price10kg: 5980,
		},
		{
			OwnerUID: "seed-farmer-2", Name: "佐藤ファーム",
			PRTitle:  "土曜朝市でお待ちしています",
			PRBody:   "あきたこまち・ひとめぼれを用意しています。",
			SlotCode: schedule.SlotSaturdayMorning, Place: "市民公園 駐車場",
			Lat: 35.6586, Lng: 139.7454, Price10kg: 6400,
		},
	}
}

func shouldSeed(ctx context.Context, gdb *gorm.DB) (bool, error) {
	var cnt int64
	if err := gdb.WithContext(ctx).Model(&model.Farm{}).Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("count farms: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	return strings.EqualFold(os.Getenv("FORCE_SEED"), "true"), nil
}
