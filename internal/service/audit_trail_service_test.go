package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"backend/internal/apperr"
	"backend/internal/database"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db         *gorm.DB
	records    repository.AuditRecordRepository
	amendments repository.AmendmentRepository
	configs    repository.RateConfigRepository
	logs       repository.AuditLogRepository
	trail      AuditTrailService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Single connection keeps the shared in-memory database alive and
	// serializes writes, matching sqlite's locking model
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	env := &testEnv{
		db:         db,
		records:    repository.NewAuditRecordRepository(db),
		amendments: repository.NewAmendmentRepository(db),
		configs:    repository.NewRateConfigRepository(db),
		logs:       repository.NewAuditLogRepository(db),
	}
	env.trail = NewAuditTrailService(env.records, env.amendments, env.configs, env.logs,
		repository.NewTransactionManager(db), nil)

	cfg := &model.RateConfig{
		JurisdictionVersion:       "UAE-2026.1",
		EffectiveFrom:             time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		VATStandardRate:           decimal.RequireFromString("0.05"),
		CITStandardRate:           decimal.RequireFromString("0.09"),
		CITSmallBusinessThreshold: decimal.RequireFromString("375000"),
		CITFreeZoneThreshold:      decimal.RequireFromString("3000000"),
		VATRegistrationThreshold:  decimal.RequireFromString("375000"),
	}
	require.NoError(t, env.configs.Create(context.Background(), cfg))

	return env
}

func (e *testEnv) newUser(t *testing.T, role string) *model.User {
	t.Helper()
	user := &model.User{
		Username: role + "-" + uuid.NewString()[:8],
		Email:    uuid.NewString()[:8] + "@example.com",
		Password: "hashed",
		Role:     role,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func vatDTO(companyID uuid.UUID, period string) RecordCalculationRequest {
	return RecordCalculationRequest{
		CompanyID:     companyID.String(),
		TaxType:       model.TaxTypeVAT,
		Period:        period,
		TotalRevenue:  "1000000",
		TotalExpenses: "400000",
	}
}

func citDTO(companyID uuid.UUID, period string) RecordCalculationRequest {
	return RecordCalculationRequest{
		CompanyID:     companyID.String(),
		TaxType:       model.TaxTypeCIT,
		Period:        period,
		TotalRevenue:  "5000000",
		TotalExpenses: "1000000",
	}
}

func TestRecordCalculationPersistsVersionedRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accountant := env.newUser(t, model.RoleAccountant)
	companyID := uuid.New()

	first, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), accountant.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "UAE-2026.1", first.ConfigVersion)
	assert.Equal(t, model.ValidationStatusRecorded, first.ValidationStatus)
	assert.True(t, first.Result.TotalAmount.Equal(decimal.RequireFromString("30000")),
		"got %s", first.Result.TotalAmount)
	require.Len(t, first.Result.Steps, 3)

	second, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), accountant.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	// Re-recording never mutates the prior version
	reloaded, err := env.trail.GetBreakdown(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Version)
	assert.Nil(t, reloaded.SupersededBy)

	logs, total, err := env.logs.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, model.ActionRecordCalculation, logs[0].Action)
}

func TestRecordCalculationRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	dto := vatDTO(uuid.New(), "2026") // CIT cadence on a VAT request
	dto.TotalRevenue = "-5"
	dto.TRN = "123"

	_, err := env.trail.RecordCalculation(context.Background(), dto, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	violations := apperr.Violations(err)
	assert.Contains(t, violations, `period "2026" is not a valid VAT quarter (expected YYYY-Qn)`)
	assert.Contains(t, violations, "total_revenue must not be negative")
	assert.Contains(t, violations, "trn must be a 15-digit number")
}

func TestRecordCalculationMissingConfiguration(t *testing.T) {
	env := newTestEnv(t)

	// Period predates every published configuration
	_, err := env.trail.RecordCalculation(context.Background(), vatDTO(uuid.New(), "2019-Q4"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestRecordCalculationConcurrentVersionsAreGapless(t *testing.T) {
	env := newTestEnv(t)
	companyID := uuid.New()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.trail.RecordCalculation(context.Background(), vatDTO(companyID, "2026-Q2"), "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	history, err := env.trail.GetHistory(context.Background(), companyID.String(), model.TaxTypeVAT, "2026-Q2")
	require.NoError(t, err)
	require.Len(t, history, workers)
	for i, rec := range history {
		assert.Equal(t, i+1, rec.Version, "versions must be gapless and strictly increasing")
	}
}

func TestValidateCalculationTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auditor := env.newUser(t, model.RoleAuditor)
	other := env.newUser(t, model.RoleAuditor)

	rec, err := env.trail.RecordCalculation(ctx, citDTO(uuid.New(), "2026"), "")
	require.NoError(t, err)

	validated, err := env.trail.ValidateCalculation(ctx, rec.ID, auditor.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.ValidationStatusValidated, validated.ValidationStatus)
	require.NotNil(t, validated.ValidatedBy)
	assert.Equal(t, auditor.ID.String(), *validated.ValidatedBy)
	require.NotNil(t, validated.ValidatedAt)

	// Same signer again: idempotent success
	again, err := env.trail.ValidateCalculation(ctx, rec.ID, auditor.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.ValidationStatusValidated, again.ValidationStatus)

	// A different signer must not overwrite the sign-off
	_, err = env.trail.ValidateCalculation(ctx, rec.ID, other.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestAmendmentApproveSupersedesAtomically(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accountant := env.newUser(t, model.RoleAccountant)
	auditor := env.newUser(t, model.RoleAuditor)
	companyID := uuid.New()

	original, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q3"), accountant.ID.String())
	require.NoError(t, err)

	proposed := vatDTO(companyID, "2026-Q3")
	proposed.TotalExpenses = "600000"

	amendment, err := env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: original.ID,
		Reason:           "expense invoice batch was missed in the original filing",
		ProposedInput:    proposed,
	}, accountant.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.AmendmentPending, amendment.Status)

	newRec, err := env.trail.ResolveAmendment(ctx, amendment.ID, true, "reviewed against invoices", auditor.ID.String())
	require.NoError(t, err)
	require.NotNil(t, newRec)
	assert.Equal(t, 2, newRec.Version)
	// 50,000 output − 30,000 input on the corrected expenses
	assert.True(t, newRec.Result.TotalAmount.Equal(decimal.RequireFromString("20000")),
		"got %s", newRec.Result.TotalAmount)

	// Original stays visible but points at its successor
	reloaded, err := env.trail.GetBreakdown(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.SupersededBy)
	assert.Equal(t, newRec.ID, *reloaded.SupersededBy)

	resolved, err := env.amendments.FindByID(ctx, uuid.MustParse(amendment.ID))
	require.NoError(t, err)
	assert.Equal(t, model.AmendmentApproved, resolved.Status)
	require.NotNil(t, resolved.ResultingRecordID)
	assert.Equal(t, newRec.ID, resolved.ResultingRecordID.String())

	// A second resolution attempt observes the terminal state
	_, err = env.trail.ResolveAmendment(ctx, amendment.ID, true, "", auditor.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrState)

	// The superseded version can no longer be signed off
	_, err = env.trail.ValidateCalculation(ctx, original.ID, auditor.ID.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestAmendmentRejectLeavesOriginalUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auditor := env.newUser(t, model.RoleAuditor)
	companyID := uuid.New()

	original, err := env.trail.RecordCalculation(ctx, citDTO(companyID, "2026"), "")
	require.NoError(t, err)

	amendment, err := env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: original.ID,
		Reason:           "suspected revenue misstatement",
		ProposedInput:    citDTO(companyID, "2026"),
	}, "")
	require.NoError(t, err)

	rec, err := env.trail.ResolveAmendment(ctx, amendment.ID, false, "figures confirmed correct", auditor.ID.String())
	require.NoError(t, err)
	assert.Nil(t, rec)

	reloaded, err := env.trail.GetBreakdown(ctx, original.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.SupersededBy)
	assert.Equal(t, 1, reloaded.Version)

	resolved, err := env.amendments.FindByID(ctx, uuid.MustParse(amendment.ID))
	require.NoError(t, err)
	assert.Equal(t, model.AmendmentRejected, resolved.Status)
	assert.Equal(t, "figures confirmed correct", resolved.ResolutionNote)
}

func TestAmendmentAgainstSupersededRecordFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auditor := env.newUser(t, model.RoleAuditor)
	companyID := uuid.New()

	original, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q4"), "")
	require.NoError(t, err)

	amendment, err := env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: original.ID,
		Reason:           "first correction",
		ProposedInput:    vatDTO(companyID, "2026-Q4"),
	}, "")
	require.NoError(t, err)
	_, err = env.trail.ResolveAmendment(ctx, amendment.ID, true, "", auditor.ID.String())
	require.NoError(t, err)

	_, err = env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: original.ID,
		Reason:           "second correction against the stale version",
		ProposedInput:    vatDTO(companyID, "2026-Q4"),
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestAmendmentMustKeepScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	companyID := uuid.New()

	original, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)

	proposed := vatDTO(companyID, "2026-Q2") // different period
	_, err = env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: original.ID,
		Reason:           "wrong period",
		ProposedInput:    proposed,
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetStatistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auditor := env.newUser(t, model.RoleAuditor)
	companyID := uuid.New()

	vat, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)
	_, err = env.trail.RecordCalculation(ctx, citDTO(companyID, "2026"), "")
	require.NoError(t, err)

	_, err = env.trail.ValidateCalculation(ctx, vat.ID, auditor.ID.String())
	require.NoError(t, err)

	_, err = env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: vat.ID,
		Reason:           "pending review",
		ProposedInput:    vatDTO(companyID, "2026-Q1"),
	}, "")
	require.NoError(t, err)

	stats, err := env.trail.GetStatistics(ctx, companyID.String())
	require.NoError(t, err)

	assert.Equal(t, "30000.00", stats.TotalsByType[model.TaxTypeVAT])
	assert.Equal(t, "360000.00", stats.TotalsByType[model.TaxTypeCIT])
	assert.EqualValues(t, 1, stats.ValidatedCount)
	assert.EqualValues(t, 1, stats.PendingAmendments)
	require.Len(t, stats.LatestVersionsByPeriod, 2)
}

func TestGetHistoryKeepsSupersededVersionsVisible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auditor := env.newUser(t, model.RoleAuditor)
	companyID := uuid.New()

	original, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)

	amendment, err := env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: original.ID,
		Reason:           "correction",
		ProposedInput:    vatDTO(companyID, "2026-Q1"),
	}, "")
	require.NoError(t, err)
	_, err = env.trail.ResolveAmendment(ctx, amendment.ID, true, "", auditor.ID.String())
	require.NoError(t, err)

	history, err := env.trail.GetHistory(ctx, companyID.String(), model.TaxTypeVAT, "2026-Q1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotNil(t, history[0].SupersededBy)
	assert.Nil(t, history[1].SupersededBy)
}

func TestKeyedMutexReleasesIdleKeys(t *testing.T) {
	var locks keyedMutex
	companyID := uuid.New()
	periods := []string{"2026-Q1", "2026-Q2", "2026-Q3", "2026-Q4"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := locks.lock(versionKey(companyID, model.TaxTypeVAT, periods[i%len(periods)]))
			defer unlock()
		}(i)
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.keys)
}

func TestWriteAuditLogToleratesUnserializableDetails(t *testing.T) {
	env := newTestEnv(t)
	svc := env.trail.(*auditTrailService)
	ctx := context.Background()

	err := svc.writeAuditLog(ctx, nil, model.ActionRecordCalculation, uuid.NewString(), "Q1 filing",
		map[string]interface{}{"stream": make(chan int)})
	require.NoError(t, err)

	entries, total, err := env.logs.List(ctx, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, model.ActionRecordCalculation, entries[0].Action)
	assert.Empty(t, entries[0].Details)
}
