package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RateConfig stores versioned jurisdiction constants with temporal validity.
// At most one config is effective for any given date. Configs are immutable
// once published; corrections publish a new version with a new effective
// range rather than mutating an existing row.
type RateConfig struct {
	ID                        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	JurisdictionVersion       string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"jurisdiction_version"` // e.g. "UAE-2026.1"
	EffectiveFrom             time.Time       `gorm:"type:date;not null;index" json:"effective_from"`
	EffectiveTo               *time.Time      `gorm:"type:date;index" json:"effective_to"` // nullable = open-ended
	VATStandardRate           decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"vat_standard_rate"`
	CITStandardRate           decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"cit_standard_rate"`
	CITSmallBusinessThreshold decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"cit_small_business_threshold"`
	CITFreeZoneThreshold      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"cit_free_zone_threshold"`
	VATRegistrationThreshold  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"vat_registration_threshold"`
	Description               string          `gorm:"type:text" json:"description"`
	CreatedAt                 time.Time       `json:"created_at"`
}

func (c *RateConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
