package repository

import (
	"context"
	"time"

	"github.com/shinyyama/komemarche-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BuildReservationFunc turns the locked farm row into the reservation to insert.
// Returning an error aborts the transaction.
type BuildReservationFunc func(farm *model.Farm) (*model.Reservation, error)

// TransitionFunc mutates the locked reservation. It reports whether anything changed.
type TransitionFunc func(r *model.Reservation) (bool, error)

// OccurrenceStat aggregates reservations sharing a farm and pickup occurrence.
type OccurrenceStat struct {
	FarmID            uint64
	SlotCode          string
	EventStart        time.Time
	Confirmed         int64
	Cancelled         int64
	Pending           int64
	ConfirmedWeightKg int64
}

type StatsFilter struct {
	From   time.Time
	To     time.Time
	FarmID uint64
}

type ReservationRepository interface {
	CreatePending(ctx context.Context, farmID uint64, build BuildReservationFunc) (*model.Reservation, error)
	Transition(ctx context.Context, id uint64, fn TransitionFunc) (*model.Reservation, error)
	FindByID(ctx context.Context, id uint64) (*model.Reservation, error)
	SetCancelToken(ctx context.Context, id uint64, token string, expiresAt time.Time) error
	SetPaymentSession(ctx context.Context, id uint64, sessionID string) error
	ListByConsumer(ctx context.Context, consumerUID string) ([]model.Reservation, error)
	ListByFarm(ctx context.Context, farmID uint64, eventStart *time.Time) ([]model.Reservation, error)
	CountActiveForOccurrence(ctx context.Context, farmID uint64, slotCode string, eventStart time.Time) (int64, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Reservation, error)
	OccurrenceStats(ctx context.Context, f StatsFilter) ([]OccurrenceStat, error)
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

// CreatePending locks the farm row, lets build decide against the locked state and inserts the
// result with its items, all in one transaction. Concurrent creations for the same farm queue on
// the lock, so the deadline build observes cannot move between its check and the insert.
func (r *reservationRepository) CreatePending(ctx context.Context, farmID uint64, build BuildReservationFunc) (*model.Reservation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var created *model.Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var farm model.Farm
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&farm, farmID).Error; err != nil {
			return err
		}
		res, err := build(&farm)
		if err != nil {
			return err
		}
		if err := tx.Create(res).Error; err != nil {
			return err
		}
		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Transition applies fn to the reservation under a row lock and persists it when fn reports a change.
func (r *reservationRepository) Transition(ctx context.Context, id uint64, fn TransitionFunc) (*model.Reservation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var res model.Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&res, id).Error; err != nil {
			return err
		}
		changed, err := fn(&res)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return tx.Omit(clause.Associations).Save(&res).Error
	})
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("reservation_id = ?", res.ID).
		Order("size_kg ASC").
		Find(&res.Items).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) FindByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var res model.Reservation
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("size_kg ASC") }).
		First(&res, id).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) SetCancelToken(ctx context.Context, id uint64, token string, expiresAt time.Time) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cancel_token":            token,
			"cancel_token_expires_at": expiresAt,
		}).Error
}

func (r *reservationRepository) SetPaymentSession(ctx context.Context, id uint64, sessionID string) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("id = ?", id).
		Update("payment_session_id", sessionID).Error
}

func (r *reservationRepository) ListByConsumer(ctx context.Context, consumerUID string) ([]model.Reservation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.Reservation
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("size_kg ASC") }).
		Where("consumer_uid = ?", consumerUID).
		Order("event_start DESC, id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *reservationRepository) ListByFarm(ctx context.Context, farmID uint64, eventStart *time.Time) ([]model.Reservation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	q := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("size_kg ASC") }).
		Where("farm_id = ?", farmID)
	if eventStart != nil {
		q = q.Where("event_start = ?", *eventStart)
	}
	var list []model.Reservation
	if err := q.Order("event_start DESC, id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *reservationRepository) CountActiveForOccurrence(ctx context.Context, farmID uint64, slotCode string, eventStart time.Time) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("farm_id = ? AND slot_code = ? AND event_start = ?", farmID, slotCode, eventStart).
		Where("status IN ?", []model.ReservationStatus{model.ReservationStatusPending, model.ReservationStatusConfirmed}).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

func (r *reservationRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Reservation, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []model.Reservation
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ReservationStatusPending, createdBefore).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *reservationRepository) OccurrenceStats(ctx context.Context, f StatsFilter) ([]OccurrenceStat, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	q := r.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Select(`farm_id, slot_code, event_start,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS cancelled,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
			SUM(CASE WHEN status = ? THEN total_weight_kg ELSE 0 END) AS confirmed_weight_kg`,
			model.ReservationStatusConfirmed,
			model.ReservationStatusCancelled,
			model.ReservationStatusPending,
			model.ReservationStatusConfirmed,
		)
	if !f.From.IsZero() {
		q = q.Where("event_start >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("event_start < ?", f.To)
	}
	if f.FarmID != 0 {
		q = q.Where("farm_id = ?", f.FarmID)
	}
	var rows []OccurrenceStat
	if err := q.Group("farm_id, slot_code, event_start").
		Order("event_start ASC, farm_id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
