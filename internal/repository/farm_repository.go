package repository

import (
	"context"

	"github.com/shinyyama/komemarche-backend/internal/model"
	"gorm.io/gorm"
)

type FarmRepository interface {
	Create(ctx context.Context, farm *model.Farm) error
	FindByID(ctx context.Context, id uint64) (*model.Farm, error)
	FindByOwner(ctx context.Context, ownerUID string) (*model.Farm, error)
	List(ctx context.Context, limit, offset int) ([]model.Farm, int64, error)
	Update(ctx context.Context, farm *model.Farm) error
}

type farmRepository struct {
	db *gorm.DB
}

func NewFarmRepository(db *gorm.DB) FarmRepository {
	return &farmRepository{db: db}
}

func (r *farmRepository) Create(ctx context.Context, farm *model.Farm) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Create(farm).Error
}

func (r *farmRepository) FindByID(ctx context.Context, id uint64) (*model.Farm, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var farm model.Farm
	if err := r.db.WithContext(ctx).First(&farm, id).Error; err != nil {
		return nil, err
	}
	return &farm, nil
}

func (r *farmRepository) FindByOwner(ctx context.Context, ownerUID string) (*model.Farm, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var farm model.Farm
	if err := r.db.WithContext(ctx).
		Where("owner_uid = ?", ownerUID).
		First(&farm).Error; err != nil {
		return nil, err
	}
	return &farm, nil
}

func (r *farmRepository) List(ctx context.Context, limit, offset int) ([]model.Farm, int64, error) {
	if r.db == nil {
		return nil, 0, ErrDBNotReady
	}
	var (
		farms []model.Farm
		total int64
	)
	if err := r.db.WithContext(ctx).Model(&model.Farm{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := r.db.WithContext(ctx).
		Order("id asc").
		Limit(limit).
		Offset(offset).
		Find(&farms).Error; err != nil {
		return nil, 0, err
	}
	return farms, total, nil
}

func (r *farmRepository) Update(ctx context.Context, farm *model.Farm) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Save(farm).Error
}
