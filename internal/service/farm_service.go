package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/shinyyama/komemarche-backend/internal/clock"
	"github.com/shinyyama/komemarche-backend/internal/model"
	"github.com/shinyyama/komemarche-backend/internal/order"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/reqctx"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"gorm.io/gorm"
)

const (
	maxPRTitleRunes = 100
	maxPRBodyRunes  = 2000
)

type CreateFarmInput struct {
	Name            string
	SlotCode        string
	PickupPlaceName string
	PickupLat       float64
	PickupLng       float64
	PickupNotes     string
	Price10kg       int64
}

type PricingInput struct {
	Price5kg  int64
	Price10kg int64
	Price25kg int64
	Auto      bool
}

type PickupInput struct {
	SlotCode  string
	PlaceName string
	Lat       float64
	Lng       float64
	Notes     string
}

// PickupStatus tells a farmer whether the pickup slot may change right now.
type PickupStatus struct {
	Editable    bool
	ActiveCount int64
	Next        schedule.Occurrence
}

type FarmService interface {
	Create(ctx context.Context, ownerUID string, in CreateFarmInput) (*model.Farm, error)
	Get(ctx context.Context, id uint64) (*model.Farm, error)
	GetMine(ctx context.Context, ownerUID string) (*model.Farm, error)
	List(ctx context.Context, limit, offset int) ([]model.Farm, int64, error)
	UpdatePricing(ctx context.Context, ownerUID string, in PricingInput) (*model.Farm, error)
	UpdatePickup(ctx context.Context, ownerUID string, in PickupInput) (*model.Farm, error)
	PickupEditable(ctx context.Context, ownerUID string) (*PickupStatus, error)
	UpdatePR(ctx context.Context, ownerUID, title, body string) (*model.Farm, error)
	NextPickup(ctx context.Context, farmID uint64) (*model.Farm, schedule.Occurrence, error)
}

type farmService struct {
	farms        repository.FarmRepository
	reservations repository.ReservationRepository
	sched        *schedule.Scheduler
	clock        clock.Clock
}

func NewFarmService(farms repository.FarmRepository, reservations repository.ReservationRepository, sched *schedule.Scheduler, clk clock.Clock) FarmService {
	return &farmService{farms: farms, reservations: reservations, sched: sched, clock: clk}
}

func (s *farmService) Create(ctx context.Context, ownerUID string, in CreateFarmInput) (*model.Farm, error) {
	if ownerUID == "" {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := s.sched.Definition(schedule.SlotCode(in.SlotCode)); err != nil {
		return nil, err
	}
	if existing, err := s.farms.FindByOwner(ctx, ownerUID); err == nil && existing != nil {
		return existing, ErrFarmExists
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	farm := &model.Farm{
		OwnerUID:        ownerUID,
		Name:            name,
		SlotCode:        in.SlotCode,
		PickupPlaceName: strings.TrimSpace(in.PickupPlaceName),
		PickupLat:       in.PickupLat,
		PickupLng:       in.PickupLng,
		PickupNotes:     in.PickupNotes,
	}
	if in.Price10kg > 0 {
		applyPrices(farm, order.DerivePrices(in.Price10kg), true)
	}
	if err := s.farms.Create(ctx, farm); err != nil {
		return nil, err
	}
	log.Printf("[farm] rid=%s action=create id=%d owner=%s slot=%s", reqctx.RID(ctx), farm.ID, ownerUID, farm.SlotCode)
	return farm, nil
}

func (s *farmService) Get(ctx context.Context, id uint64) (*model.Farm, error) {
	farm, err := s.farms.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return farm, nil
}

func (s *farmService) GetMine(ctx context.Context, ownerUID string) (*model.Farm, error) {
	if ownerUID == "" {
		return nil, ErrForbidden
	}
	farm, err := s.farms.FindByOwner(ctx, ownerUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return farm, nil
}

func (s *farmService) List(ctx context.Context, limit, offset int) ([]model.Farm, int64, error) {
	return s.farms.List(ctx, limit, offset)
}

// UpdatePricing changes the prices used by future reservations. Existing reservations keep their snapshot.
func (s *farmService) UpdatePricing(ctx context.Context, ownerUID string, in PricingInput) (*model.Farm, error) {
	farm, err := s.GetMine(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	var prices order.PriceTable
	if in.Auto {
		if in.Price10kg <= 0 {
			return nil, fmt.Errorf("%w: 10kg price must be positive", ErrInvalidInput)
		}
		prices = order.DerivePrices(in.Price10kg)
	} else {
		if in.Price5kg <= 0 || in.Price10kg <= 0 || in.Price25kg <= 0 {
			return nil, fmt.Errorf("%w: prices must be positive", ErrInvalidInput)
		}
		prices = order.PriceTable{Price5kg: in.Price5kg, Price10kg: in.Price10kg, Price25kg: in.Price25kg}
	}
	applyPrices(farm, prices, in.Auto)
	if err := s.farms.Update(ctx, farm); err != nil {
		return nil, err
	}
	log.Printf("[farm] rid=%s action=pricing id=%d auto=%t p5=%d p10=%d p25=%d",
		reqctx.RID(ctx), farm.ID, in.Auto, farm.Price5kg, farm.Price10kg, farm.Price25kg)
	return farm, nil
}

func (s *farmService) UpdatePickup(ctx context.Context, ownerUID string, in PickupInput) (*model.Farm, error) {
	farm, err := s.GetMine(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	if in.SlotCode != "" && in.SlotCode != farm.SlotCode {
		if _, err := s.sched.Definition(schedule.SlotCode(in.SlotCode)); err != nil {
			return nil, err
		}
		status, err := s.pickupStatus(ctx, farm)
		if err != nil {
			return nil, err
		}
		if !status.Editable {
			return nil, fmt.Errorf("%w: %d active reservations for %s", ErrPickupLocked, status.ActiveCount, status.Next.Key())
		}
		farm.SlotCode = in.SlotCode
	}
	farm.PickupPlaceName = strings.TrimSpace(in.PlaceName)
	farm.PickupLat = in.Lat
	farm.PickupLng = in.Lng
	farm.PickupNotes = in.Notes
	if err := s.farms.Update(ctx, farm); err != nil {
		return nil, err
	}
	return farm, nil
}

func (s *farmService) PickupEditable(ctx context.Context, ownerUID string) (*PickupStatus, error) {
	farm, err := s.GetMine(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	return s.pickupStatus(ctx, farm)
}

// pickupStatus locks the slot while anyone holds a reservation for a pickup that has not ended.
// Past the deadline Next has already rolled over, so the closed occurrence before it is counted too.
func (s *farmService) pickupStatus(ctx context.Context, farm *model.Farm) (*PickupStatus, error) {
	code := schedule.SlotCode(farm.SlotCode)
	now := s.clock.Now()
	next, err := s.sched.Next(code, now)
	if err != nil {
		return nil, err
	}
	cnt, err := s.reservations.CountActiveForOccurrence(ctx, farm.ID, farm.SlotCode, next.EventStart)
	if err != nil {
		return nil, err
	}
	prev, err := s.sched.At(code, next.EventStart.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	if !prev.Ended(now) {
		closed, err := s.reservations.CountActiveForOccurrence(ctx, farm.ID, farm.SlotCode, prev.EventStart)
		if err != nil {
			return nil, err
		}
		cnt += closed
	}
	return &PickupStatus{Editable: cnt == 0, ActiveCount: cnt, Next: next}, nil
}

func (s *farmService) UpdatePR(ctx context.Context, ownerUID, title, body string) (*model.Farm, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxPRTitleRunes {
		return nil, fmt.Errorf("%w: title must be at most %d characters", ErrInvalidInput, maxPRTitleRunes)
	}
	if utf8.RuneCountInString(body) > maxPRBodyRunes {
		return nil, fmt.Errorf("%w: body must be at most %d characters", ErrInvalidInput, maxPRBodyRunes)
	}
	farm, err := s.GetMine(ctx, ownerUID)
	if err != nil {
		return nil, err
	}
	farm.PRTitle = title
	farm.PRBody = body
	if err := s.farms.Update(ctx, farm); err != nil {
		return nil, err
	}
	return farm, nil
}

func (s *farmService) NextPickup(ctx context.Context, farmID uint64) (*model.Farm, schedule.Occurrence, error) {
	farm, err := s.Get(ctx, farmID)
	if err != nil {
		return nil, schedule.Occurrence{}, err
	}
	occ, err := s.sched.Next(schedule.SlotCode(farm.SlotCode), s.clock.Now())
	if err != nil {
		return nil, schedule.Occurrence{}, err
	}
	return farm, occ, nil
}

func applyPrices(farm *model.Farm, p order.PriceTable, auto bool) {
	farm.Price5kg = p.Price5kg
	farm.Price10kg = p.Price10kg
	farm.Price25kg = p.Price25kg
	farm.AutoPrice = auto
}
