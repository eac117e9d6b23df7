package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ValidationStatus enum constants
const (
	ValidationStatusRecorded  = "RECORDED"
	ValidationStatusValidated = "VALIDATED"
)

// AuditRecord is an immutable snapshot of one tax calculation. Versions are
// strictly increasing per (company_id, tax_type, period); the composite
// unique index is the database-level backstop against version races.
//
// After creation only the validation fields (one-way RECORDED -> VALIDATED)
// and SupersededBy (set once, when an amendment is approved) may change.
// The record itself never disappears; superseded versions stay visible.
type AuditRecord struct {
	ID               uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID        uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_audit_records_version,priority:1;index" json:"company_id"`
	TaxType          string             `gorm:"type:varchar(10);not null;uniqueIndex:idx_audit_records_version,priority:2" json:"tax_type"`
	Period           string             `gorm:"type:varchar(10);not null;uniqueIndex:idx_audit_records_version,priority:3" json:"period"`
	Version          int                `gorm:"not null;uniqueIndex:idx_audit_records_version,priority:4" json:"version"`
	InputData        CalculationRequest `gorm:"type:jsonb;serializer:json" json:"input_data"`
	Result           CalculationResult  `gorm:"type:jsonb;serializer:json" json:"result"`
	RateConfigID     uuid.UUID          `gorm:"type:uuid;not null" json:"rate_config_id"`
	RateConfig       *RateConfig        `gorm:"foreignKey:RateConfigID" json:"rate_config,omitempty"`
	ConfigVersion    string             `gorm:"type:varchar(50);not null" json:"config_version"` // JurisdictionVersion snapshot
	CreatedBy        *uuid.UUID         `gorm:"type:uuid;index" json:"created_by"`
	Creator          *User              `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	ValidationStatus string             `gorm:"type:varchar(20);not null;default:'RECORDED';index" json:"validation_status"`
	ValidatedBy      *uuid.UUID         `gorm:"type:uuid" json:"validated_by"`
	Signer           *User              `gorm:"foreignKey:ValidatedBy" json:"signer,omitempty"`
	ValidatedAt      *time.Time         `json:"validated_at"`
	SupersededBy     *uuid.UUID         `gorm:"type:uuid;index" json:"superseded_by"`
	CreatedAt        time.Time          `gorm:"index" json:"created_at"`
}

func (r *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
