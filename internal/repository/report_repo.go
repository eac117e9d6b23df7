package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReportRepository interface {
	Create(ctx context.Context, report *model.SummaryReport) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.SummaryReport, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, page, limit int) ([]model.SummaryReport, int64, error)
}

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, report *model.SummaryReport) error {
	return GetDB(ctx, r.db).Create(report).Error
}

func (r *reportRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.SummaryReport, error) {
	var report model.SummaryReport
	if err := GetDB(ctx, r.db).First(&report, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepository) ListByCompany(ctx context.Context, companyID uuid.UUID, page, limit int) ([]model.SummaryReport, int64, error) {
	var total int64
	if err := GetDB(ctx, r.db).Model(&model.SummaryReport{}).
		Where("company_id = ?", companyID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reports []model.SummaryReport
	offset := (page - 1) * limit
	if err := GetDB(ctx, r.db).
		Where("company_id = ?", companyID).
		Order("generated_at DESC").
		Offset(offset).Limit(limit).
		Find(&reports).Error; err != nil {
		return nil, 0, err
	}

	return reports, total, nil
}
