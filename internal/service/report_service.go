package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"backend/internal/apperr"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

type GenerateReportRequest struct {
	CompanyID  string `json:"company_id" binding:"required,uuid"`
	TaxType    string `json:"tax_type" binding:"required,oneof=VAT CIT"`
	PeriodFrom string `json:"period_from" binding:"required"`
	PeriodTo   string `json:"period_to" binding:"required"`
}

type ReportExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReportService generates and exports summary reports. A report is a frozen
// aggregation over the latest version of each period in the range; exports
// read only persisted data and never recompute anything.
type ReportService interface {
	Generate(ctx context.Context, req GenerateReportRequest, userID string) (*model.SummaryReport, error)
	Get(ctx context.Context, reportID string) (*model.SummaryReport, error)
	ListByCompany(ctx context.Context, companyID string, page, limit int) ([]model.SummaryReport, int64, error)
	Export(ctx context.Context, reportID, format, userID string) (*ReportExport, error)
}

type reportService struct {
	reports repository.ReportRepository
	records repository.AuditRecordRepository
	logs    repository.AuditLogRepository
	txm     repository.TransactionManager
}

func NewReportService(
	reports repository.ReportRepository,
	records repository.AuditRecordRepository,
	logs repository.AuditLogRepository,
	txm repository.TransactionManager,
) ReportService {
	return &reportService{reports: reports, records: records, logs: logs, txm: txm}
}

// Generate aggregates the latest version of every period inside the
// inclusive range. Superseded versions never contribute to totals.
func (s *reportService) Generate(ctx context.Context, req GenerateReportRequest, userID string) (*model.SummaryReport, error) {
	cid, err := uuid.Parse(req.CompanyID)
	if err != nil {
		return nil, apperr.Validation("company_id must be a valid UUID")
	}

	var errs []string
	if !model.ValidPeriod(req.TaxType, req.PeriodFrom) {
		errs = append(errs, fmt.Sprintf("period_from %q is not a valid %s period", req.PeriodFrom, req.TaxType))
	}
	if !model.ValidPeriod(req.TaxType, req.PeriodTo) {
		errs = append(errs, fmt.Sprintf("period_to %q is not a valid %s period", req.PeriodTo, req.TaxType))
	}
	if len(errs) == 0 && req.PeriodFrom > req.PeriodTo {
		errs = append(errs, "period_from must not be after period_to")
	}
	if len(errs) > 0 {
		return nil, apperr.Validation(errs...)
	}

	recs, err := s.records.HistoryRange(ctx, cid, req.TaxType, req.PeriodFrom, req.PeriodTo)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records in range: %w", err)
	}
	if len(recs) == 0 {
		return nil, apperr.NotFoundf("no %s records for company %s in range %s..%s",
			req.TaxType, req.CompanyID, req.PeriodFrom, req.PeriodTo)
	}

	// Input is ordered by period asc, version asc; the last record seen for a
	// period is its latest version.
	latest := make(map[string]model.AuditRecord)
	var periods []string
	for _, rec := range recs {
		if _, seen := latest[rec.Period]; !seen {
			periods = append(periods, rec.Period)
		}
		latest[rec.Period] = rec
	}

	totalTax := decimal.Zero
	totalBase := decimal.Zero
	currency := ""
	included := make([]uuid.UUID, 0, len(periods))
	for _, period := range periods {
		rec := latest[period]
		if currency == "" {
			currency = rec.Result.Currency
		} else if currency != rec.Result.Currency {
			return nil, apperr.Statef("records in range use mixed currencies (%s and %s)",
				currency, rec.Result.Currency)
		}
		totalTax = totalTax.Add(rec.Result.TotalAmount)
		totalBase = totalBase.Add(rec.Result.TaxableBase)
		included = append(included, rec.ID)
	}

	generator := parseOptionalUserID(userID)
	report := &model.SummaryReport{
		CompanyID:         cid,
		TaxType:           req.TaxType,
		PeriodFrom:        req.PeriodFrom,
		PeriodTo:          req.PeriodTo,
		IncludedRecordIDs: included,
		RecordCount:       len(included),
		TotalTaxAmount:    totalTax,
		TotalTaxableBase:  totalBase,
		Currency:          currency,
		GeneratedBy:       generator,
		GeneratedAt:       time.Now(),
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.reports.Create(txCtx, report); createErr != nil {
			return fmt.Errorf("failed to save report: %w", createErr)
		}
		entry := &model.AuditLog{
			UserID:     generator,
			Action:     model.ActionGenerateReport,
			EntityID:   report.ID.String(),
			EntityName: fmt.Sprintf("%s %s..%s", req.TaxType, req.PeriodFrom, req.PeriodTo),
		}
		if logErr := s.logs.Log(txCtx, entry); logErr != nil {
			return fmt.Errorf("failed to write audit log: %w", logErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

func (s *reportService) Get(ctx context.Context, reportID string) (*model.SummaryReport, error) {
	return s.findReport(ctx, reportID)
}

func (s *reportService) ListByCompany(ctx context.Context, companyID string, page, limit int) ([]model.SummaryReport, int64, error) {
	cid, err := uuid.Parse(companyID)
	if err != nil {
		return nil, 0, apperr.Validation("company_id must be a valid UUID")
	}
	reports, total, err := s.reports.ListByCompany(ctx, cid, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, total, nil
}

// Export renders a stored report. The included records are fetched by their
// frozen IDs, so a later amendment never changes what an old export shows.
func (s *reportService) Export(ctx context.Context, reportID, format, userID string) (*ReportExport, error) {
	report, err := s.findReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	recs := make([]model.AuditRecord, 0, len(report.IncludedRecordIDs))
	for _, id := range report.IncludedRecordIDs {
		rec, findErr := s.records.FindByID(ctx, id)
		if findErr != nil {
			return nil, fmt.Errorf("failed to fetch included record %s: %w", id, findErr)
		}
		recs = append(recs, *rec)
	}

	var export *ReportExport
	switch format {
	case ExportFormatJSON:
		export, err = exportJSON(report, recs)
	case ExportFormatCSV:
		export, err = exportCSV(report, recs)
	default:
		return nil, apperr.Validation(fmt.Sprintf("export format %q is not supported (expected json or csv)", format))
	}
	if err != nil {
		return nil, err
	}

	actor := parseOptionalUserID(userID)
	entry := &model.AuditLog{
		UserID:     actor,
		Action:     model.ActionExportReport,
		EntityID:   report.ID.String(),
		EntityName: export.Filename,
	}
	if logErr := s.logs.Log(ctx, entry); logErr != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", logErr)
	}

	return export, nil
}

func (s *reportService) findReport(ctx context.Context, reportID string) (*model.SummaryReport, error) {
	id, err := uuid.Parse(reportID)
	if err != nil {
		return nil, apperr.Validation("report id must be a valid UUID")
	}
	report, err := s.reports.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("report %s not found", reportID)
		}
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	return report, nil
}

func exportFilename(report *model.SummaryReport, ext string) string {
	return fmt.Sprintf("tax-summary_%s_%s_%s_%s.%s",
		report.TaxType, report.PeriodFrom, report.PeriodTo, report.ID, ext)
}

func exportJSON(report *model.SummaryReport, recs []model.AuditRecord) (*ReportExport, error) {
	payload := struct {
		Report  *model.SummaryReport `json:"report"`
		Records []model.AuditRecord  `json:"records"`
	}{Report: report, Records: recs}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	return &ReportExport{
		Filename:    exportFilename(report, "json"),
		ContentType: "application/json",
		Data:        data,
	}, nil
}

func exportCSV(report *model.SummaryReport, recs []model.AuditRecord) (*ReportExport, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"record_id", "period", "version", "validation_status", "taxable_base", "tax_amount", "currency"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.ID.String(),
			rec.Period,
			strconv.Itoa(rec.Version),
			rec.ValidationStatus,
			rec.Result.TaxableBase.StringFixed(2),
			rec.Result.TotalAmount.StringFixed(2),
			rec.Result.Currency,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
	}
	total := []string{"TOTAL", report.PeriodFrom + ".." + report.PeriodTo, "", "",
		report.TotalTaxableBase.StringFixed(2), report.TotalTaxAmount.StringFixed(2), report.Currency}
	if err := w.Write(total); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	return &ReportExport{
		Filename:    exportFilename(report, "csv"),
		ContentType: "text/csv",
		Data:        buf.Bytes(),
	}, nil
}
