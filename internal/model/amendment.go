package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AmendmentStatus enum constants
const (
	AmendmentPending  = "PENDING"
	AmendmentApproved = "APPROVED"
	AmendmentRejected = "REJECTED"
)

// AmendmentRequest is a supervised request to supersede a prior calculation
// with corrected inputs. Approval recomputes against ProposedInputData and
// creates the next AuditRecord version; rejection is terminal and leaves the
// original untouched.
type AmendmentRequest struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	OriginalRecordID  uuid.UUID          `gorm:"type:uuid;not null;index" json:"original_record_id"`
	OriginalRecord    *AuditRecord       `gorm:"foreignKey:OriginalRecordID" json:"original_record,omitempty"`
	CompanyID         uuid.UUID          `gorm:"type:uuid;not null;index" json:"company_id"` // denormalized from the original record
	RequestedBy       *uuid.UUID         `gorm:"type:uuid;index" json:"requested_by"`
	Requester         *User              `gorm:"foreignKey:RequestedBy" json:"requester,omitempty"`
	Reason            string             `gorm:"type:text;not null" json:"reason"`
	ProposedInputData CalculationRequest `gorm:"type:jsonb;serializer:json" json:"proposed_input_data"`
	Status            string             `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ResolvedBy        *uuid.UUID         `gorm:"type:uuid" json:"resolved_by"`
	Resolver          *User              `gorm:"foreignKey:ResolvedBy" json:"resolver,omitempty"`
	ResolvedAt        *time.Time         `json:"resolved_at"`
	ResolutionNote    string             `gorm:"type:text" json:"resolution_note"`
	ResultingRecordID *uuid.UUID         `gorm:"type:uuid" json:"resulting_record_id"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (a *AmendmentRequest) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
