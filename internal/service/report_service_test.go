package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"backend/internal/apperr"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReportService(env *testEnv) ReportService {
	return NewReportService(repository.NewReportRepository(env.db), env.records, env.logs,
		repository.NewTransactionManager(env.db))
}

func TestGenerateReportAggregatesLatestVersions(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)
	ctx := context.Background()
	auditor := env.newUser(t, model.RoleAuditor)
	companyID := uuid.New()

	// Q1 gets amended; the report must pick the successor, not the original
	q1, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)
	amendment, err := env.trail.RequestAmendment(ctx, RequestAmendmentDTO{
		OriginalRecordID: q1.ID,
		Reason:           "corrected expenses",
		ProposedInput: func() RecordCalculationRequest {
			dto := vatDTO(companyID, "2026-Q1")
			dto.TotalExpenses = "600000"
			return dto
		}(),
	}, "")
	require.NoError(t, err)
	q1v2, err := env.trail.ResolveAmendment(ctx, amendment.ID, true, "", auditor.ID.String())
	require.NoError(t, err)

	_, err = env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q2"), "")
	require.NoError(t, err)

	report, err := reports.Generate(ctx, GenerateReportRequest{
		CompanyID:  companyID.String(),
		TaxType:    model.TaxTypeVAT,
		PeriodFrom: "2026-Q1",
		PeriodTo:   "2026-Q4",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, report.RecordCount)
	// Q1 v2 contributes 20,000; Q2 v1 contributes 30,000
	assert.Equal(t, "50000.00", report.TotalTaxAmount.StringFixed(2))
	assert.Equal(t, "AED", report.Currency)
	require.Len(t, report.IncludedRecordIDs, 2)
	assert.Equal(t, q1v2.ID, report.IncludedRecordIDs[0].String())
}

func TestGenerateReportRegenerationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)
	ctx := context.Background()
	companyID := uuid.New()

	_, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)
	_, err = env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q2"), "")
	require.NoError(t, err)

	req := GenerateReportRequest{
		CompanyID:  companyID.String(),
		TaxType:    model.TaxTypeVAT,
		PeriodFrom: "2026-Q1",
		PeriodTo:   "2026-Q4",
	}
	first, err := reports.Generate(ctx, req, "")
	require.NoError(t, err)
	second, err := reports.Generate(ctx, req, "")
	require.NoError(t, err)

	// Same range over unchanged records yields the same artifact content
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.RecordCount, second.RecordCount)
	assert.True(t, first.TotalTaxAmount.Equal(second.TotalTaxAmount))
	assert.True(t, first.TotalTaxableBase.Equal(second.TotalTaxableBase))
	assert.Equal(t, first.Currency, second.Currency)
	assert.Equal(t, first.IncludedRecordIDs, second.IncludedRecordIDs)
}

func TestGenerateReportEmptyRange(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)

	_, err := reports.Generate(context.Background(), GenerateReportRequest{
		CompanyID:  uuid.New().String(),
		TaxType:    model.TaxTypeVAT,
		PeriodFrom: "2026-Q1",
		PeriodTo:   "2026-Q4",
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerateReportValidatesRange(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)

	_, err := reports.Generate(context.Background(), GenerateReportRequest{
		CompanyID:  uuid.New().String(),
		TaxType:    model.TaxTypeVAT,
		PeriodFrom: "2026-Q3",
		PeriodTo:   "2026-Q1",
	}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, apperr.Violations(err), "period_from must not be after period_to")
}

func TestExportReportJSONMatchesStoredData(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)
	ctx := context.Background()
	companyID := uuid.New()

	_, err := env.trail.RecordCalculation(ctx, citDTO(companyID, "2026"), "")
	require.NoError(t, err)

	report, err := reports.Generate(ctx, GenerateReportRequest{
		CompanyID:  companyID.String(),
		TaxType:    model.TaxTypeCIT,
		PeriodFrom: "2026",
		PeriodTo:   "2026",
	}, "")
	require.NoError(t, err)

	export, err := reports.Export(ctx, report.ID.String(), ExportFormatJSON, "")
	require.NoError(t, err)
	assert.Equal(t, "application/json", export.ContentType)
	assert.Contains(t, export.Filename, report.ID.String())

	var payload struct {
		Report  model.SummaryReport `json:"report"`
		Records []model.AuditRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(export.Data, &payload))
	assert.Equal(t, report.ID, payload.Report.ID)
	require.Len(t, payload.Records, 1)
	assert.True(t, payload.Records[0].Result.TotalAmount.Equal(report.TotalTaxAmount))
}

func TestExportReportCSV(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)
	ctx := context.Background()
	companyID := uuid.New()

	_, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)

	report, err := reports.Generate(ctx, GenerateReportRequest{
		CompanyID:  companyID.String(),
		TaxType:    model.TaxTypeVAT,
		PeriodFrom: "2026-Q1",
		PeriodTo:   "2026-Q1",
	}, "")
	require.NoError(t, err)

	export, err := reports.Export(ctx, report.ID.String(), ExportFormatCSV, "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", export.ContentType)

	rows, err := csv.NewReader(strings.NewReader(string(export.Data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header, one record, total line
	assert.Equal(t, "record_id", rows[0][0])
	assert.Equal(t, "2026-Q1", rows[1][1])
	assert.Equal(t, "30000.00", rows[1][5])
	assert.Equal(t, "TOTAL", rows[2][0])
}

func TestExportReportUnknownFormat(t *testing.T) {
	env := newTestEnv(t)
	reports := newReportService(env)
	ctx := context.Background()
	companyID := uuid.New()

	_, err := env.trail.RecordCalculation(ctx, vatDTO(companyID, "2026-Q1"), "")
	require.NoError(t, err)

	report, err := reports.Generate(ctx, GenerateReportRequest{
		CompanyID:  companyID.String(),
		TaxType:    model.TaxTypeVAT,
		PeriodFrom: "2026-Q1",
		PeriodTo:   "2026-Q1",
	}, "")
	require.NoError(t, err)

	_, err = reports.Export(ctx, report.ID.String(), "xml", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
