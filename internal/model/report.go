package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SummaryReport aggregates the latest non-superseded AuditRecord of each
// period in a range. It is a derived, read-only artifact, regenerable at
// any time and never a source of truth.
type SummaryReport struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"company_id"`
	TaxType           string          `gorm:"type:varchar(10);not null" json:"tax_type"`
	PeriodFrom        string          `gorm:"type:varchar(10);not null" json:"period_from"`
	PeriodTo          string          `gorm:"type:varchar(10);not null" json:"period_to"`
	IncludedRecordIDs []uuid.UUID     `gorm:"type:jsonb;serializer:json" json:"included_record_ids"`
	RecordCount       int             `gorm:"not null" json:"record_count"`
	TotalTaxAmount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_tax_amount"`
	TotalTaxableBase  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_taxable_base"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	GeneratedBy       *uuid.UUID      `gorm:"type:uuid" json:"generated_by"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

func (r *SummaryReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
