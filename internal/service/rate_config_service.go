package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/apperr"
	"backend/internal/engine"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PublishRateConfigRequest struct {
	JurisdictionVersion       string `json:"jurisdiction_version" binding:"required"`
	EffectiveFrom             string `json:"effective_from" binding:"required"` // "2006-01-02"
	EffectiveTo               string `json:"effective_to"`                     // empty = open-ended
	VATStandardRate           string `json:"vat_standard_rate" binding:"required"`
	CITStandardRate           string `json:"cit_standard_rate" binding:"required"`
	CITSmallBusinessThreshold string `json:"cit_small_business_threshold" binding:"required"`
	CITFreeZoneThreshold      string `json:"cit_free_zone_threshold" binding:"required"`
	VATRegistrationThreshold  string `json:"vat_registration_threshold" binding:"required"`
	Description               string `json:"description"`
}

// RateConfigService publishes and serves the versioned jurisdiction
// constants. Publishing is append-only; an existing config is never edited.
type RateConfigService interface {
	Publish(ctx context.Context, req PublishRateConfigRequest, userID string) (*model.RateConfig, error)
	List(ctx context.Context, page, limit int) ([]model.RateConfig, int64, error)
	GetEffective(ctx context.Context, date time.Time) (*model.RateConfig, error)
}

type rateConfigService struct {
	configs repository.RateConfigRepository
	logs    repository.AuditLogRepository
	txm     repository.TransactionManager
}

func NewRateConfigService(
	configs repository.RateConfigRepository,
	logs repository.AuditLogRepository,
	txm repository.TransactionManager,
) RateConfigService {
	return &rateConfigService{configs: configs, logs: logs, txm: txm}
}

// Publish validates the new config and rejects any effective-range overlap
// with an existing one, keeping "at most one config effective per date" true.
func (s *rateConfigService) Publish(ctx context.Context, req PublishRateConfigRequest, userID string) (*model.RateConfig, error) {
	cfg, err := parseRateConfig(req)
	if err != nil {
		return nil, err
	}

	if vr := engine.ValidateRateConfig(*cfg); !vr.Valid {
		return nil, apperr.Validation(vr.Errors...)
	}

	overlapping, err := s.configs.CountOverlapping(ctx, cfg.EffectiveFrom, cfg.EffectiveTo)
	if err != nil {
		return nil, fmt.Errorf("failed to check for overlapping configs: %w", err)
	}
	if overlapping > 0 {
		return nil, apperr.Conflictf("effective range overlaps %d existing configuration(s)", overlapping)
	}

	actor := parseOptionalUserID(userID)
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.configs.Create(txCtx, cfg); createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return apperr.Conflictf("jurisdiction version %s already exists", cfg.JurisdictionVersion)
			}
			return fmt.Errorf("failed to create rate config: %w", createErr)
		}

		entry := &model.AuditLog{
			UserID:     actor,
			Action:     model.ActionPublishRateConfig,
			EntityID:   cfg.ID.String(),
			EntityName: cfg.JurisdictionVersion,
		}
		if logErr := s.logs.Log(txCtx, entry); logErr != nil {
			return fmt.Errorf("failed to write audit log: %w", logErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (s *rateConfigService) List(ctx context.Context, page, limit int) ([]model.RateConfig, int64, error) {
	configs, total, err := s.configs.List(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rate configs: %w", err)
	}
	return configs, total, nil
}

func (s *rateConfigService) GetEffective(ctx context.Context, date time.Time) (*model.RateConfig, error) {
	cfg, err := s.configs.FindEffective(ctx, date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("no rate configuration effective on %s", date.Format("2006-01-02"))
		}
		return nil, fmt.Errorf("failed to fetch effective rate config: %w", err)
	}
	return cfg, nil
}

func parseRateConfig(req PublishRateConfigRequest) (*model.RateConfig, error) {
	var errs []string

	from, err := time.Parse("2006-01-02", req.EffectiveFrom)
	if err != nil {
		errs = append(errs, "effective_from must be a date in YYYY-MM-DD format")
	}

	var to *time.Time
	if req.EffectiveTo != "" {
		parsed, parseErr := time.Parse("2006-01-02", req.EffectiveTo)
		if parseErr != nil {
			errs = append(errs, "effective_to must be a date in YYYY-MM-DD format")
		} else {
			to = &parsed
		}
	}

	parseRate := func(field, value string) decimal.Decimal {
		d, parseErr := decimal.NewFromString(value)
		if parseErr != nil {
			errs = append(errs, field+" is not a valid decimal")
			return decimal.Zero
		}
		return d
	}

	vatRate := parseRate("vat_standard_rate", req.VATStandardRate)
	citRate := parseRate("cit_standard_rate", req.CITStandardRate)
	smallBiz := parseRate("cit_small_business_threshold", req.CITSmallBusinessThreshold)
	freeZone := parseRate("cit_free_zone_threshold", req.CITFreeZoneThreshold)
	vatReg := parseRate("vat_registration_threshold", req.VATRegistrationThreshold)

	if len(errs) > 0 {
		return nil, apperr.Validation(errs...)
	}

	return &model.RateConfig{
		JurisdictionVersion:       req.JurisdictionVersion,
		EffectiveFrom:             from,
		EffectiveTo:               to,
		VATStandardRate:           vatRate,
		CITStandardRate:           citRate,
		CITSmallBusinessThreshold: smallBiz,
		CITFreeZoneThreshold:      freeZone,
		VATRegistrationThreshold:  vatReg,
		Description:               req.Description,
	}, nil
}
