package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionRecordCalculation   = "RECORD_CALCULATION"
	ActionValidateCalculation = "VALIDATE_CALCULATION"
	ActionRequestAmendment    = "REQUEST_AMENDMENT"
	ActionApproveAmendment    = "APPROVE_AMENDMENT"
	ActionRejectAmendment     = "REJECT_AMENDMENT"
	ActionPublishRateConfig   = "PUBLISH_RATE_CONFIG"
	ActionGenerateReport      = "GENERATE_REPORT"
	ActionExportReport        = "EXPORT_REPORT"
	ActionRegisterUser        = "REGISTER_USER"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated bot
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
