package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AmendmentRepository persists amendment requests. Resolution is a
// conditional status flip from PENDING so a second resolver observes the
// lost race as zero rows affected.
type AmendmentRepository interface {
	Create(ctx context.Context, req *model.AmendmentRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.AmendmentRequest, error)
	List(ctx context.Context, status string, page, limit int) ([]model.AmendmentRequest, int64, error)
	Resolve(ctx context.Context, id uuid.UUID, status string, resolvedBy uuid.UUID, at time.Time, note string, resultingRecordID *uuid.UUID) (bool, error)
	CountPending(ctx context.Context, companyID uuid.UUID) (int64, error)
}

type amendmentRepository struct {
	db *gorm.DB
}

func NewAmendmentRepository(db *gorm.DB) AmendmentRepository {
	return &amendmentRepository{db: db}
}

func (r *amendmentRepository) Create(ctx context.Context, req *model.AmendmentRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *amendmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.AmendmentRequest, error) {
	var req model.AmendmentRequest
	if err := GetDB(ctx, r.db).
		Preload("Requester").Preload("Resolver").
		First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *amendmentRepository) List(ctx context.Context, status string, page, limit int) ([]model.AmendmentRequest, int64, error) {
	var total int64
	countQuery := GetDB(ctx, r.db).Model(&model.AmendmentRequest{})
	if status != "" {
		countQuery = countQuery.Where("status = ?", status)
	}
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []model.AmendmentRequest
	query := GetDB(ctx, r.db).Preload("Requester").Preload("Resolver")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *amendmentRepository) Resolve(ctx context.Context, id uuid.UUID, status string, resolvedBy uuid.UUID, at time.Time, note string, resultingRecordID *uuid.UUID) (bool, error) {
	updates := map[string]interface{}{
		"status":          status,
		"resolved_by":     resolvedBy,
		"resolved_at":     at,
		"resolution_note": note,
	}
	if resultingRecordID != nil {
		updates["resulting_record_id"] = *resultingRecordID
	}

	res := GetDB(ctx, r.db).Model(&model.AmendmentRequest{}).
		Where("id = ? AND status = ?", id, model.AmendmentPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *amendmentRepository) CountPending(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.AmendmentRequest{}).
		Where("company_id = ? AND status = ?", companyID, model.AmendmentPending).
		Count(&count).Error
	return count, err
}
