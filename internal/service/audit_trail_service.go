package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"backend/internal/apperr"
	"backend/internal/engine"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// maxVersionRetries bounds transparent retries after a lost version race.
// Safe to re-run because the calculation itself is pure.
const maxVersionRetries = 3

// --- DTOs ---

type RecordCalculationRequest struct {
	CompanyID             string            `json:"company_id" binding:"required,uuid"`
	TaxType               string            `json:"tax_type" binding:"required,oneof=VAT CIT"`
	Period                string            `json:"period" binding:"required"`
	Currency              string            `json:"currency"`
	TotalRevenue          string            `json:"total_revenue" binding:"required"` // Decimal string, e.g. "1000000.00"
	TotalExpenses         string            `json:"total_expenses"`
	ExpenseBreakdown      map[string]string `json:"expense_breakdown"`
	FreeZoneStatus        bool              `json:"free_zone_status"`
	SmallBusinessElection bool              `json:"small_business_election"`
	QFZPStatus            bool              `json:"qfzp_status"`
	QualifyingIncome      string            `json:"qualifying_income"`
	TRN                   string            `json:"trn"`
	ReferenceID           string            `json:"reference_id"`
}

type RequestAmendmentDTO struct {
	OriginalRecordID string                   `json:"original_record_id" binding:"required,uuid"`
	Reason           string                   `json:"reason" binding:"required"`
	ProposedInput    RecordCalculationRequest `json:"proposed_input" binding:"required"`
}

type AuditRecordResponse struct {
	ID               string                   `json:"id"`
	CompanyID        string                   `json:"company_id"`
	TaxType          string                   `json:"tax_type"`
	Period           string                   `json:"period"`
	Version          int                      `json:"version"`
	ConfigVersion    string                   `json:"config_version"`
	ValidationStatus string                   `json:"validation_status"`
	CreatedBy        *string                  `json:"created_by"`
	CreatedAt        string                   `json:"created_at"`
	ValidatedBy      *string                  `json:"validated_by"`
	ValidatedAt      *string                  `json:"validated_at"`
	SupersededBy     *string                  `json:"superseded_by"`
	InputData        model.CalculationRequest `json:"input_data"`
	Result           model.CalculationResult  `json:"result"`
}

type AmendmentResponse struct {
	ID                string  `json:"id"`
	OriginalRecordID  string  `json:"original_record_id"`
	CompanyID         string  `json:"company_id"`
	Reason            string  `json:"reason"`
	Status            string  `json:"status"`
	RequestedBy       *string `json:"requested_by"`
	RequesterName     string  `json:"requester_name,omitempty"`
	ResolvedBy        *string `json:"resolved_by"`
	ResolverName      string  `json:"resolver_name,omitempty"`
	ResolvedAt        *string `json:"resolved_at"`
	ResolutionNote    string  `json:"resolution_note,omitempty"`
	ResultingRecordID *string `json:"resulting_record_id"`
	CreatedAt         string  `json:"created_at"`
}

type LatestVersionEntry struct {
	TaxType          string `json:"tax_type"`
	Period           string `json:"period"`
	Version          int    `json:"version"`
	RecordID         string `json:"record_id"`
	ValidationStatus string `json:"validation_status"`
}

type CompanyStatistics struct {
	CompanyID              string               `json:"company_id"`
	TotalsByType           map[string]string    `json:"totals_by_type"`
	ValidatedCount         int64                `json:"validated_count"`
	PendingAmendments      int64                `json:"pending_amendments"`
	LatestVersionsByPeriod []LatestVersionEntry `json:"latest_versions_by_period"`
}

// --- Interface ---

// AuditTrailService orchestrates the calculation engine and owns every
// AuditRecord: versioning, retrieval, sign-off and supervised amendment.
type AuditTrailService interface {
	RecordCalculation(ctx context.Context, req RecordCalculationRequest, userID string) (AuditRecordResponse, error)
	GetBreakdown(ctx context.Context, recordID string) (AuditRecordResponse, error)
	GetHistory(ctx context.Context, companyID, taxType, period string) ([]AuditRecordResponse, error)
	ValidateCalculation(ctx context.Context, recordID, userID string) (AuditRecordResponse, error)
	RequestAmendment(ctx context.Context, req RequestAmendmentDTO, userID string) (AmendmentResponse, error)
	ListAmendments(ctx context.Context, status string, page, limit int) ([]AmendmentResponse, int64, error)
	ResolveAmendment(ctx context.Context, amendmentID string, approve bool, note, userID string) (*AuditRecordResponse, error)
	GetStatistics(ctx context.Context, companyID string) (CompanyStatistics, error)
}

// EventPublisher pushes compliance events to connected dashboard clients.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

type auditTrailService struct {
	records    repository.AuditRecordRepository
	amendments repository.AmendmentRepository
	configs    repository.RateConfigRepository
	logs       repository.AuditLogRepository
	txm        repository.TransactionManager
	hub        EventPublisher // optional
	locks      keyedMutex
}

func NewAuditTrailService(
	records repository.AuditRecordRepository,
	amendments repository.AmendmentRepository,
	configs repository.RateConfigRepository,
	logs repository.AuditLogRepository,
	txm repository.TransactionManager,
	hub EventPublisher,
) AuditTrailService {
	return &auditTrailService{
		records:    records,
		amendments: amendments,
		configs:    configs,
		logs:       logs,
		txm:        txm,
		hub:        hub,
	}
}

// keyedMutex serializes version assignment per (company, tax type, period)
// so unrelated companies' calculations never contend with each other.
// Entries are reference counted and dropped when the last holder unlocks,
// keeping the map bounded by concurrent keys rather than distinct ones.
type keyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.keys == nil {
		k.keys = make(map[string]*keyLock)
	}
	kl, ok := k.keys[key]
	if !ok {
		kl = &keyLock{}
		k.keys[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		k.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(k.keys, key)
		}
		k.mu.Unlock()
	}
}

func versionKey(companyID uuid.UUID, taxType, period string) string {
	return companyID.String() + "|" + taxType + "|" + period
}

// --- Implementation ---

// RecordCalculation validates the request, resolves the effective rate
// configuration, runs the pure engine, and persists a new immutable
// AuditRecord with the next version for (company, tax type, period).
//
// Calculation happens before the exclusive scope is taken: the critical
// section covers only version assignment and the insert itself.
func (s *auditTrailService) RecordCalculation(ctx context.Context, req RecordCalculationRequest, userID string) (AuditRecordResponse, error) {
	input, err := parseCalculationInput(req)
	if err != nil {
		return AuditRecordResponse{}, err
	}

	if vr := engine.ValidateRequest(input); !vr.Valid {
		return AuditRecordResponse{}, apperr.Validation(vr.Errors...)
	}

	cfg, err := s.resolveConfig(ctx, input.Period)
	if err != nil {
		return AuditRecordResponse{}, err
	}

	result, err := engine.Calculate(input, *cfg)
	if err != nil {
		return AuditRecordResponse{}, err
	}

	creator := parseOptionalUserID(userID)
	rec := &model.AuditRecord{
		ID:               uuid.New(),
		CompanyID:        input.CompanyID,
		TaxType:          input.TaxType,
		Period:           input.Period,
		InputData:        input,
		Result:           result,
		RateConfigID:     cfg.ID,
		ConfigVersion:    cfg.JurisdictionVersion,
		CreatedBy:        creator,
		ValidationStatus: model.ValidationStatusRecorded,
	}

	if err := s.insertNextVersion(ctx, rec, creator); err != nil {
		return AuditRecordResponse{}, err
	}

	s.publish("calculation.recorded", map[string]interface{}{
		"record_id":  rec.ID.String(),
		"company_id": rec.CompanyID.String(),
		"tax_type":   rec.TaxType,
		"period":     rec.Period,
		"version":    rec.Version,
	})

	return toAuditRecordResponse(*rec), nil
}

// insertNextVersion assigns version = lastVersion + 1 and inserts the record
// as one atomic unit. A keyed mutex keeps the read-increment-write exclusive
// within the process; the composite unique index catches races across
// processes, which surface as gorm.ErrDuplicatedKey and trigger a bounded
// retry.
func (s *auditTrailService) insertNextVersion(ctx context.Context, rec *model.AuditRecord, actor *uuid.UUID) error {
	key := versionKey(rec.CompanyID, rec.TaxType, rec.Period)

	var err error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = func() error {
			unlock := s.locks.lock(key)
			defer unlock()

			return s.txm.RunInTx(ctx, func(txCtx context.Context) error {
				latest, verErr := s.records.LatestVersion(txCtx, rec.CompanyID, rec.TaxType, rec.Period)
				if verErr != nil {
					return fmt.Errorf("failed to read latest version: %w", verErr)
				}
				rec.Version = latest + 1

				if createErr := s.records.Create(txCtx, rec); createErr != nil {
					return createErr
				}

				return s.writeAuditLog(txCtx, actor, model.ActionRecordCalculation, rec.ID.String(),
					fmt.Sprintf("%s %s v%d", rec.TaxType, rec.Period, rec.Version),
					map[string]interface{}{
						"company_id":   rec.CompanyID.String(),
						"tax_type":     rec.TaxType,
						"period":       rec.Period,
						"version":      rec.Version,
						"total_amount": rec.Result.TotalAmount.StringFixed(2),
					})
			})
		}()

		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}

	return apperr.Conflictf("version assignment for %s/%s/%s lost %d races, giving up",
		rec.CompanyID, rec.TaxType, rec.Period, maxVersionRetries)
}

// GetBreakdown returns the full frozen record including every step.
func (s *auditTrailService) GetBreakdown(ctx context.Context, recordID string) (AuditRecordResponse, error) {
	rec, err := s.findRecord(ctx, recordID)
	if err != nil {
		return AuditRecordResponse{}, err
	}
	return toAuditRecordResponse(*rec), nil
}

// GetHistory returns all versions ordered ascending, superseded records
// included. Period is optional.
func (s *auditTrailService) GetHistory(ctx context.Context, companyID, taxType, period string) ([]AuditRecordResponse, error) {
	cid, err := uuid.Parse(companyID)
	if err != nil {
		return nil, apperr.Validation("company_id must be a valid UUID")
	}
	if taxType != model.TaxTypeVAT && taxType != model.TaxTypeCIT {
		return nil, apperr.Validation(fmt.Sprintf("tax_type %q is not supported (expected VAT or CIT)", taxType))
	}

	recs, err := s.records.History(ctx, cid, taxType, period)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	res := make([]AuditRecordResponse, 0, len(recs))
	for _, rec := range recs {
		res = append(res, toAuditRecordResponse(rec))
	}
	return res, nil
}

// ValidateCalculation performs the one-way RECORDED -> VALIDATED sign-off.
// Before signing, the stored result is replayed through the engine against
// the frozen inputs and the recorded configuration; a record that no longer
// reproduces its own total must not be signed.
func (s *auditTrailService) ValidateCalculation(ctx context.Context, recordID, userID string) (AuditRecordResponse, error) {
	rec, err := s.findRecord(ctx, recordID)
	if err != nil {
		return AuditRecordResponse{}, err
	}

	signer, err := uuid.Parse(userID)
	if err != nil {
		return AuditRecordResponse{}, apperr.Validation("user id must be a valid UUID")
	}

	if rec.SupersededBy != nil {
		return AuditRecordResponse{}, apperr.Statef("record %s has been superseded and can no longer be validated", recordID)
	}
	if rec.ValidationStatus == model.ValidationStatusValidated {
		if rec.ValidatedBy != nil && *rec.ValidatedBy == signer {
			// Idempotent for the same signer
			return toAuditRecordResponse(*rec), nil
		}
		return AuditRecordResponse{}, apperr.Statef("record %s is already validated by another user", recordID)
	}

	cfg, err := s.configs.FindByID(ctx, rec.RateConfigID)
	if err != nil {
		return AuditRecordResponse{}, fmt.Errorf("failed to load rate config %s: %w", rec.RateConfigID, err)
	}
	recomputed, err := engine.Calculate(rec.InputData, *cfg)
	if err != nil {
		return AuditRecordResponse{}, fmt.Errorf("failed to replay calculation: %w", err)
	}
	if !recomputed.TotalAmount.Equal(rec.Result.TotalAmount) {
		return AuditRecordResponse{}, apperr.Statef(
			"record %s does not replay: stored total %s, recomputed %s",
			recordID, rec.Result.TotalAmount.String(), recomputed.TotalAmount.String())
	}

	now := time.Now()
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		ok, markErr := s.records.MarkValidated(txCtx, rec.ID, signer, now)
		if markErr != nil {
			return fmt.Errorf("failed to mark record validated: %w", markErr)
		}
		if !ok {
			return apperr.Statef("record %s was validated or superseded concurrently", recordID)
		}
		return s.writeAuditLog(txCtx, &signer, model.ActionValidateCalculation, rec.ID.String(),
			fmt.Sprintf("%s %s v%d", rec.TaxType, rec.Period, rec.Version), nil)
	})
	if err != nil {
		return AuditRecordResponse{}, err
	}

	s.publish("calculation.validated", map[string]interface{}{
		"record_id":  rec.ID.String(),
		"company_id": rec.CompanyID.String(),
	})

	updated, err := s.records.FindByID(ctx, rec.ID)
	if err != nil {
		return AuditRecordResponse{}, fmt.Errorf("failed to reload record: %w", err)
	}
	return toAuditRecordResponse(*updated), nil
}

// RequestAmendment creates a pending request without touching the original
// record. The proposal is validated up front so reviewers only ever see
// resolvable requests.
func (s *auditTrailService) RequestAmendment(ctx context.Context, req RequestAmendmentDTO, userID string) (AmendmentResponse, error) {
	originalID, err := uuid.Parse(req.OriginalRecordID)
	if err != nil {
		return AmendmentResponse{}, apperr.Validation("original_record_id must be a valid UUID")
	}

	original, err := s.findRecord(ctx, originalID.String())
	if err != nil {
		return AmendmentResponse{}, err
	}
	if original.SupersededBy != nil {
		return AmendmentResponse{}, apperr.Statef(
			"record %s has been superseded; amend its latest version instead", originalID)
	}

	proposed, err := parseCalculationInput(req.ProposedInput)
	if err != nil {
		return AmendmentResponse{}, err
	}
	if proposed.CompanyID != original.CompanyID || proposed.TaxType != original.TaxType || proposed.Period != original.Period {
		return AmendmentResponse{}, apperr.Validation(
			"proposed input must keep the original record's company, tax type and period")
	}
	if vr := engine.ValidateRequest(proposed); !vr.Valid {
		return AmendmentResponse{}, apperr.Validation(vr.Errors...)
	}

	requester := parseOptionalUserID(userID)
	amendment := &model.AmendmentRequest{
		ID:                uuid.New(),
		OriginalRecordID:  original.ID,
		CompanyID:         original.CompanyID,
		RequestedBy:       requester,
		Reason:            req.Reason,
		ProposedInputData: proposed,
		Status:            model.AmendmentPending,
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.amendments.Create(txCtx, amendment); createErr != nil {
			return fmt.Errorf("failed to create amendment request: %w", createErr)
		}
		return s.writeAuditLog(txCtx, requester, model.ActionRequestAmendment, amendment.ID.String(),
			fmt.Sprintf("%s %s v%d", original.TaxType, original.Period, original.Version),
			map[string]interface{}{
				"original_record_id": original.ID.String(),
				"reason":             req.Reason,
			})
	})
	if err != nil {
		return AmendmentResponse{}, err
	}

	return toAmendmentResponse(*amendment), nil
}

func (s *auditTrailService) ListAmendments(ctx context.Context, status string, page, limit int) ([]AmendmentResponse, int64, error) {
	requests, total, err := s.amendments.List(ctx, status, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list amendment requests: %w", err)
	}

	res := make([]AmendmentResponse, 0, len(requests))
	for _, req := range requests {
		res = append(res, toAmendmentResponse(req))
	}
	return res, total, nil
}

// ResolveAmendment approves or rejects a pending amendment. Approval re-runs
// validation and calculation against the proposed inputs, then atomically
// inserts the next version, marks the original superseded and closes the
// amendment, so no intermediate state is externally observable. A second
// concurrent approval loses the conditional status flip and fails with a
// state error.
func (s *auditTrailService) ResolveAmendment(ctx context.Context, amendmentID string, approve bool, note, userID string) (*AuditRecordResponse, error) {
	aid, err := uuid.Parse(amendmentID)
	if err != nil {
		return nil, apperr.Validation("amendment id must be a valid UUID")
	}
	resolver, err := uuid.Parse(userID)
	if err != nil {
		return nil, apperr.Validation("user id must be a valid UUID")
	}

	amendment, err := s.amendments.FindByID(ctx, aid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("amendment request %s not found", amendmentID)
		}
		return nil, fmt.Errorf("failed to fetch amendment request: %w", err)
	}
	if amendment.Status != model.AmendmentPending {
		return nil, apperr.Statef("amendment request is already %s", amendment.Status)
	}

	now := time.Now()

	if !approve {
		err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
			ok, resolveErr := s.amendments.Resolve(txCtx, aid, model.AmendmentRejected, resolver, now, note, nil)
			if resolveErr != nil {
				return fmt.Errorf("failed to reject amendment: %w", resolveErr)
			}
			if !ok {
				return apperr.Statef("amendment request was resolved concurrently")
			}
			return s.writeAuditLog(txCtx, &resolver, model.ActionRejectAmendment, aid.String(), "",
				map[string]interface{}{"note": note})
		})
		if err != nil {
			return nil, err
		}

		s.publish("amendment.rejected", map[string]interface{}{"amendment_id": aid.String()})
		return nil, nil
	}

	original, err := s.findRecord(ctx, amendment.OriginalRecordID.String())
	if err != nil {
		return nil, err
	}
	if original.SupersededBy != nil {
		return nil, apperr.Statef("record %s has already been superseded", original.ID)
	}

	proposed := amendment.ProposedInputData
	if vr := engine.ValidateRequest(proposed); !vr.Valid {
		return nil, apperr.Validation(vr.Errors...)
	}
	cfg, err := s.resolveConfig(ctx, proposed.Period)
	if err != nil {
		return nil, err
	}
	result, err := engine.Calculate(proposed, *cfg)
	if err != nil {
		return nil, err
	}

	newRec := &model.AuditRecord{
		ID:               uuid.New(),
		CompanyID:        original.CompanyID,
		TaxType:          original.TaxType,
		Period:           original.Period,
		InputData:        proposed,
		Result:           result,
		RateConfigID:     cfg.ID,
		ConfigVersion:    cfg.JurisdictionVersion,
		CreatedBy:        &resolver,
		ValidationStatus: model.ValidationStatusRecorded,
	}

	key := versionKey(original.CompanyID, original.TaxType, original.Period)
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = func() error {
			unlock := s.locks.lock(key)
			defer unlock()

			return s.txm.RunInTx(ctx, func(txCtx context.Context) error {
				latest, verErr := s.records.LatestVersion(txCtx, original.CompanyID, original.TaxType, original.Period)
				if verErr != nil {
					return fmt.Errorf("failed to read latest version: %w", verErr)
				}
				if latest != original.Version {
					return apperr.Statef(
						"record %s is no longer the latest version (latest is v%d); amend the latest version instead",
						original.ID, latest)
				}
				newRec.Version = latest + 1

				ok, resolveErr := s.amendments.Resolve(txCtx, aid, model.AmendmentApproved, resolver, now, note, &newRec.ID)
				if resolveErr != nil {
					return fmt.Errorf("failed to approve amendment: %w", resolveErr)
				}
				if !ok {
					return apperr.Statef("amendment request was resolved concurrently")
				}

				if createErr := s.records.Create(txCtx, newRec); createErr != nil {
					return createErr
				}

				ok, markErr := s.records.MarkSuperseded(txCtx, original.ID, newRec.ID)
				if markErr != nil {
					return fmt.Errorf("failed to mark original superseded: %w", markErr)
				}
				if !ok {
					return apperr.Statef("record %s was superseded concurrently", original.ID)
				}

				return s.writeAuditLog(txCtx, &resolver, model.ActionApproveAmendment, aid.String(),
					fmt.Sprintf("%s %s v%d -> v%d", original.TaxType, original.Period, original.Version, newRec.Version),
					map[string]interface{}{
						"original_record_id":  original.ID.String(),
						"resulting_record_id": newRec.ID.String(),
						"note":                note,
					})
			})
		}()

		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}
	if err != nil {
		return nil, apperr.Conflictf("amendment approval for record %s lost %d version races, giving up",
			original.ID, maxVersionRetries)
	}

	s.publish("amendment.approved", map[string]interface{}{
		"amendment_id":        aid.String(),
		"original_record_id":  original.ID.String(),
		"resulting_record_id": newRec.ID.String(),
		"version":             newRec.Version,
	})

	resp := toAuditRecordResponse(*newRec)
	return &resp, nil
}

// GetStatistics is a derived, lock-free read over immutable records.
func (s *auditTrailService) GetStatistics(ctx context.Context, companyID string) (CompanyStatistics, error) {
	cid, err := uuid.Parse(companyID)
	if err != nil {
		return CompanyStatistics{}, apperr.Validation("company_id must be a valid UUID")
	}

	recs, err := s.records.ListByCompany(ctx, cid)
	if err != nil {
		return CompanyStatistics{}, fmt.Errorf("failed to fetch records: %w", err)
	}

	// Latest version per (tax type, period); input is ordered by version asc
	type groupKey struct{ taxType, period string }
	latest := make(map[groupKey]model.AuditRecord)
	var order []groupKey
	for _, rec := range recs {
		k := groupKey{rec.TaxType, rec.Period}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = rec
	}

	totals := map[string]decimal.Decimal{}
	entries := make([]LatestVersionEntry, 0, len(order))
	for _, k := range order {
		rec := latest[k]
		totals[rec.TaxType] = totals[rec.TaxType].Add(rec.Result.TotalAmount)
		entries = append(entries, LatestVersionEntry{
			TaxType:          rec.TaxType,
			Period:           rec.Period,
			Version:          rec.Version,
			RecordID:         rec.ID.String(),
			ValidationStatus: rec.ValidationStatus,
		})
	}

	totalsByType := make(map[string]string, len(totals))
	for taxType, amount := range totals {
		totalsByType[taxType] = amount.StringFixed(2)
	}

	validatedCount, err := s.records.CountValidated(ctx, cid)
	if err != nil {
		return CompanyStatistics{}, fmt.Errorf("failed to count validated records: %w", err)
	}
	pending, err := s.amendments.CountPending(ctx, cid)
	if err != nil {
		return CompanyStatistics{}, fmt.Errorf("failed to count pending amendments: %w", err)
	}

	return CompanyStatistics{
		CompanyID:              companyID,
		TotalsByType:           totalsByType,
		ValidatedCount:         validatedCount,
		PendingAmendments:      pending,
		LatestVersionsByPeriod: entries,
	}, nil
}

// --- Helpers ---

func (s *auditTrailService) findRecord(ctx context.Context, recordID string) (*model.AuditRecord, error) {
	id, err := uuid.Parse(recordID)
	if err != nil {
		return nil, apperr.Validation("record id must be a valid UUID")
	}
	rec, err := s.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("audit record %s not found", recordID)
		}
		return nil, fmt.Errorf("failed to fetch audit record: %w", err)
	}
	return rec, nil
}

// resolveConfig finds the rate configuration effective on the period's
// first day. Missing configuration is an operator problem, not a caller
// problem; nothing is persisted.
func (s *auditTrailService) resolveConfig(ctx context.Context, period string) (*model.RateConfig, error) {
	start, err := model.PeriodStart(period)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	cfg, err := s.configs.FindEffective(ctx, start)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Configurationf("no rate configuration effective for period %s", period)
		}
		return nil, fmt.Errorf("failed to resolve rate configuration: %w", err)
	}
	return cfg, nil
}

func (s *auditTrailService) writeAuditLog(ctx context.Context, userID *uuid.UUID, action, entityID, entityName string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		log.Printf("audit log details for action %s dropped: %v", action, err)
		detailsJSON = nil
	}
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(detailsJSON),
	}
	if err := s.logs.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *auditTrailService) publish(event string, payload interface{}) {
	if s.hub != nil {
		s.hub.Publish(event, payload)
	}
}

// parseCalculationInput converts the wire DTO into the engine's input type.
// Decimal parse failures are collected and reported together.
func parseCalculationInput(req RecordCalculationRequest) (model.CalculationRequest, error) {
	var errs []string

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		errs = append(errs, "company_id must be a valid UUID")
	}

	parseAmount := func(field, value string, required bool) decimal.Decimal {
		if value == "" {
			if required {
				errs = append(errs, field+" is required")
			}
			return decimal.Zero
		}
		d, parseErr := decimal.NewFromString(value)
		if parseErr != nil {
			errs = append(errs, field+" is not a valid decimal amount")
			return decimal.Zero
		}
		return d
	}

	revenue := parseAmount("total_revenue", req.TotalRevenue, true)
	expenses := parseAmount("total_expenses", req.TotalExpenses, false)

	var breakdown map[string]decimal.Decimal
	if len(req.ExpenseBreakdown) > 0 {
		breakdown = make(map[string]decimal.Decimal, len(req.ExpenseBreakdown))
		for category, value := range req.ExpenseBreakdown {
			breakdown[category] = parseAmount("expense_breakdown["+category+"]", value, true)
		}
	}

	var qualifyingIncome *decimal.Decimal
	if req.QualifyingIncome != "" {
		qi := parseAmount("qualifying_income", req.QualifyingIncome, false)
		qualifyingIncome = &qi
	}

	var referenceID *uuid.UUID
	if req.ReferenceID != "" {
		parsed, parseErr := uuid.Parse(req.ReferenceID)
		if parseErr != nil {
			errs = append(errs, "reference_id must be a valid UUID")
		} else {
			referenceID = &parsed
		}
	}

	if len(errs) > 0 {
		return model.CalculationRequest{}, apperr.Validation(errs...)
	}

	currency := req.Currency
	if currency == "" {
		currency = model.DefaultCurrency
	}

	return model.CalculationRequest{
		CompanyID:        companyID,
		TaxType:          req.TaxType,
		Period:           req.Period,
		Currency:         currency,
		TotalRevenue:     revenue,
		TotalExpenses:    expenses,
		ExpenseBreakdown: breakdown,
		Attributes: model.CompanyAttributes{
			FreeZoneStatus:        req.FreeZoneStatus,
			SmallBusinessElection: req.SmallBusinessElection,
			QFZPStatus:            req.QFZPStatus,
			QualifyingIncome:      qualifyingIncome,
		},
		TRN:         req.TRN,
		ReferenceID: referenceID,
	}, nil
}

func parseOptionalUserID(userID string) *uuid.UUID {
	if userID == "" {
		return nil
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return nil
	}
	return &parsed
}

func toAuditRecordResponse(rec model.AuditRecord) AuditRecordResponse {
	resp := AuditRecordResponse{
		ID:               rec.ID.String(),
		CompanyID:        rec.CompanyID.String(),
		TaxType:          rec.TaxType,
		Period:           rec.Period,
		Version:          rec.Version,
		ConfigVersion:    rec.ConfigVersion,
		ValidationStatus: rec.ValidationStatus,
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		InputData:        rec.InputData,
		Result:           rec.Result,
	}
	if rec.CreatedBy != nil {
		s := rec.CreatedBy.String()
		resp.CreatedBy = &s
	}
	if rec.ValidatedBy != nil {
		s := rec.ValidatedBy.String()
		resp.ValidatedBy = &s
	}
	if rec.ValidatedAt != nil {
		s := rec.ValidatedAt.Format(time.RFC3339)
		resp.ValidatedAt = &s
	}
	if rec.SupersededBy != nil {
		s := rec.SupersededBy.String()
		resp.SupersededBy = &s
	}
	return resp
}

func toAmendmentResponse(a model.AmendmentRequest) AmendmentResponse {
	resp := AmendmentResponse{
		ID:               a.ID.String(),
		OriginalRecordID: a.OriginalRecordID.String(),
		CompanyID:        a.CompanyID.String(),
		Reason:           a.Reason,
		Status:           a.Status,
		ResolutionNote:   a.ResolutionNote,
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
	}
	if a.RequestedBy != nil {
		s := a.RequestedBy.String()
		resp.RequestedBy = &s
	}
	if a.Requester != nil {
		resp.RequesterName = a.Requester.Username
	}
	if a.ResolvedBy != nil {
		s := a.ResolvedBy.String()
		resp.ResolvedBy = &s
	}
	if a.Resolver != nil {
		resp.ResolverName = a.Resolver.Username
	}
	if a.ResolvedAt != nil {
		s := a.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &s
	}
	if a.ResultingRecordID != nil {
		s := a.ResultingRecordID.String()
		resp.ResultingRecordID = &s
	}
	return resp
}
