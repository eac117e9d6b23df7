package engine

import (
	"fmt"
	"sort"

	"backend/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationResult collects every violated rule so a caller can report all
// problems in one round trip instead of fixing them one at a time.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

var one = decimal.NewFromInt(1)

// ValidateRequest checks a calculation request against structural and
// regulatory rules before any computation runs. Pure, no side effects.
func ValidateRequest(req model.CalculationRequest) ValidationResult {
	var errs []string

	// (a) required fields for the declared tax type
	if req.CompanyID == uuid.Nil {
		errs = append(errs, "company_id is required")
	}
	switch req.TaxType {
	case model.TaxTypeVAT, model.TaxTypeCIT:
		if req.Period == "" {
			errs = append(errs, "period is required")
		} else if !model.ValidPeriod(req.TaxType, req.Period) {
			if req.TaxType == model.TaxTypeVAT {
				errs = append(errs, fmt.Sprintf("period %q is not a valid VAT quarter (expected YYYY-Qn)", req.Period))
			} else {
				errs = append(errs, fmt.Sprintf("period %q is not a valid CIT tax year (expected YYYY)", req.Period))
			}
		}
	case "":
		errs = append(errs, "tax_type is required")
	default:
		errs = append(errs, fmt.Sprintf("tax_type %q is not supported (expected VAT or CIT)", req.TaxType))
	}

	// (b) numeric fields non-negative
	if req.TotalRevenue.IsNegative() {
		errs = append(errs, "total_revenue must not be negative")
	}
	if req.TotalExpenses.IsNegative() {
		errs = append(errs, "total_expenses must not be negative")
	}
	// Stable category order keeps the error list deterministic
	categories := make([]string, 0, len(req.ExpenseBreakdown))
	for category := range req.ExpenseBreakdown {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		if req.ExpenseBreakdown[category].IsNegative() {
			errs = append(errs, fmt.Sprintf("expense_breakdown[%s] must not be negative", category))
		}
	}
	if qi := req.Attributes.QualifyingIncome; qi != nil && qi.IsNegative() {
		errs = append(errs, "qualifying_income must not be negative")
	}

	// (d) registration number format, when present
	if req.TRN != "" && !model.ValidTRN(req.TRN) {
		errs = append(errs, "trn must be a 15-digit number")
	}

	// (e) cross-field rules
	if req.TaxType == model.TaxTypeCIT && req.Attributes.FreeZoneStatus && req.Attributes.QualifyingIncome == nil {
		errs = append(errs, "qualifying_income is required when free_zone_status is claimed")
	}
	if req.Attributes.QFZPStatus && !req.Attributes.FreeZoneStatus {
		errs = append(errs, "qfzp_status requires free_zone_status")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateRateConfig checks a rate configuration before it is published.
// Rate-type fields must fall within [0, 1]; thresholds must not be negative.
func ValidateRateConfig(cfg model.RateConfig) ValidationResult {
	var errs []string

	if cfg.JurisdictionVersion == "" {
		errs = append(errs, "jurisdiction_version is required")
	}
	if cfg.EffectiveFrom.IsZero() {
		errs = append(errs, "effective_from is required")
	}
	if cfg.EffectiveTo != nil && cfg.EffectiveTo.Before(cfg.EffectiveFrom) {
		errs = append(errs, "effective_to must not precede effective_from")
	}

	rates := []struct {
		name  string
		value decimal.Decimal
	}{
		{"vat_standard_rate", cfg.VATStandardRate},
		{"cit_standard_rate", cfg.CITStandardRate},
	}
	for _, r := range rates {
		if r.value.IsNegative() || r.value.GreaterThan(one) {
			errs = append(errs, fmt.Sprintf("%s must be within [0, 1]", r.name))
		}
	}

	thresholds := []struct {
		name  string
		value decimal.Decimal
	}{
		{"cit_small_business_threshold", cfg.CITSmallBusinessThreshold},
		{"cit_free_zone_threshold", cfg.CITFreeZoneThreshold},
		{"vat_registration_threshold", cfg.VATRegistrationThreshold},
	}
	for _, t := range thresholds {
		if t.value.IsNegative() {
			errs = append(errs, fmt.Sprintf("%s must not be negative", t.name))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
