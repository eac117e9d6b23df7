package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateConfigRepository persists the versioned jurisdiction constants.
// Configs are append-only: there is deliberately no update or delete.
type RateConfigRepository interface {
	Create(ctx context.Context, cfg *model.RateConfig) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.RateConfig, error)
	List(ctx context.Context, page, limit int) ([]model.RateConfig, int64, error)
	FindEffective(ctx context.Context, date time.Time) (*model.RateConfig, error)
	CountOverlapping(ctx context.Context, from time.Time, to *time.Time) (int64, error)
}

type rateConfigRepository struct {
	db *gorm.DB
}

func NewRateConfigRepository(db *gorm.DB) RateConfigRepository {
	return &rateConfigRepository{db: db}
}

func (r *rateConfigRepository) Create(ctx context.Context, cfg *model.RateConfig) error {
	return GetDB(ctx, r.db).Create(cfg).Error
}

func (r *rateConfigRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.RateConfig, error) {
	var cfg model.RateConfig
	if err := GetDB(ctx, r.db).First(&cfg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *rateConfigRepository) List(ctx context.Context, page, limit int) ([]model.RateConfig, int64, error) {
	var configs []model.RateConfig
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.RateConfig{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("effective_from desc").Offset(offset).Limit(limit).Find(&configs).Error; err != nil {
		return nil, 0, err
	}

	return configs, total, nil
}

func (r *rateConfigRepository) FindEffective(ctx context.Context, date time.Time) (*model.RateConfig, error) {
	var cfg model.RateConfig
	if err := GetDB(ctx, r.db).
		Where("effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)", date, date).
		Order("effective_from DESC").
		First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *rateConfigRepository) CountOverlapping(ctx context.Context, from time.Time, to *time.Time) (int64, error) {
	var count int64
	query := GetDB(ctx, r.db).Model(&model.RateConfig{})

	if to != nil {
		// New config has an end date: overlap if existing.from <= new.to AND (existing.to IS NULL OR existing.to >= new.from)
		query = query.Where("effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)", *to, from)
	} else {
		// New config is open-ended: overlap with anything not ended before new.from
		query = query.Where("(effective_to IS NULL OR effective_to >= ?)", from)
	}

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
