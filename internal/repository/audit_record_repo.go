package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRecordRepository owns the append-mostly audit record store. Records
// are inserted once; afterwards only the validation fields and SupersededBy
// may be set, each through a conditional single-column update so a lost race
// is visible as zero rows affected.
type AuditRecordRepository interface {
	Create(ctx context.Context, rec *model.AuditRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.AuditRecord, error)
	History(ctx context.Context, companyID uuid.UUID, taxType, period string) ([]model.AuditRecord, error)
	HistoryRange(ctx context.Context, companyID uuid.UUID, taxType, periodFrom, periodTo string) ([]model.AuditRecord, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]model.AuditRecord, error)
	LatestVersion(ctx context.Context, companyID uuid.UUID, taxType, period string) (int, error)
	MarkValidated(ctx context.Context, id, validatedBy uuid.UUID, at time.Time) (bool, error)
	MarkSuperseded(ctx context.Context, id, supersededBy uuid.UUID) (bool, error)
	CountValidated(ctx context.Context, companyID uuid.UUID) (int64, error)
}

type auditRecordRepository struct {
	db *gorm.DB
}

func NewAuditRecordRepository(db *gorm.DB) AuditRecordRepository {
	return &auditRecordRepository{db: db}
}

func (r *auditRecordRepository) Create(ctx context.Context, rec *model.AuditRecord) error {
	return GetDB(ctx, r.db).Create(rec).Error
}

func (r *auditRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.AuditRecord, error) {
	var rec model.AuditRecord
	if err := GetDB(ctx, r.db).
		Preload("Creator").Preload("Signer").
		First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// History returns all versions ordered ascending. Superseded records remain
// visible.
func (r *auditRecordRepository) History(ctx context.Context, companyID uuid.UUID, taxType, period string) ([]model.AuditRecord, error) {
	var recs []model.AuditRecord
	query := GetDB(ctx, r.db).
		Where("company_id = ? AND tax_type = ?", companyID, taxType)
	if period != "" {
		query = query.Where("period = ?", period)
	}
	if err := query.Order("period asc, version asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// HistoryRange returns all versions whose period falls inside the inclusive
// range. Both period encodings (YYYY, YYYY-Qn) order correctly as strings.
func (r *auditRecordRepository) HistoryRange(ctx context.Context, companyID uuid.UUID, taxType, periodFrom, periodTo string) ([]model.AuditRecord, error) {
	var recs []model.AuditRecord
	if err := GetDB(ctx, r.db).
		Where("company_id = ? AND tax_type = ? AND period >= ? AND period <= ?",
			companyID, taxType, periodFrom, periodTo).
		Order("period asc, version asc").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *auditRecordRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]model.AuditRecord, error) {
	var recs []model.AuditRecord
	if err := GetDB(ctx, r.db).
		Where("company_id = ?", companyID).
		Order("tax_type asc, period asc, version asc").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *auditRecordRepository) LatestVersion(ctx context.Context, companyID uuid.UUID, taxType, period string) (int, error) {
	var latest struct {
		Version int
	}
	err := GetDB(ctx, r.db).Model(&model.AuditRecord{}).
		Select("COALESCE(MAX(version), 0) as version").
		Where("company_id = ? AND tax_type = ? AND period = ?", companyID, taxType, period).
		Scan(&latest).Error
	if err != nil {
		return 0, err
	}
	return latest.Version, nil
}

// MarkValidated performs the one-way RECORDED -> VALIDATED transition.
// Returns false when the record was already validated or superseded.
func (r *auditRecordRepository) MarkValidated(ctx context.Context, id, validatedBy uuid.UUID, at time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.AuditRecord{}).
		Where("id = ? AND validation_status = ? AND superseded_by IS NULL", id, model.ValidationStatusRecorded).
		Updates(map[string]interface{}{
			"validation_status": model.ValidationStatusValidated,
			"validated_by":      validatedBy,
			"validated_at":      at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkSuperseded sets SupersededBy exactly once. Returns false when the
// record was already superseded by a concurrent amendment approval.
func (r *auditRecordRepository) MarkSuperseded(ctx context.Context, id, supersededBy uuid.UUID) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.AuditRecord{}).
		Where("id = ? AND superseded_by IS NULL", id).
		Update("superseded_by", supersededBy)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *auditRecordRepository) CountValidated(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.AuditRecord{}).
		Where("company_id = ? AND validation_status = ?", companyID, model.ValidationStatusValidated).
		Count(&count).Error
	return count, err
}
