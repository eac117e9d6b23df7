package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaxType enum constants
const (
	TaxTypeVAT = "VAT"
	TaxTypeCIT = "CIT"
)

// Relief branch constants. Exactly one applies per CIT calculation.
const (
	ReliefBranchFreeZone      = "FREE_ZONE_EXEMPT"
	ReliefBranchSmallBusiness = "SMALL_BUSINESS_RELIEF"
	ReliefBranchStandard      = "STANDARD_RATE"
)

const DefaultCurrency = "AED"

var (
	yearPeriodPattern    = regexp.MustCompile(`^\d{4}$`)
	quarterPeriodPattern = regexp.MustCompile(`^\d{4}-Q[1-4]$`)
	// UAE TRN is a fixed-length 15-digit number
	trnPattern = regexp.MustCompile(`^\d{15}$`)
)

// CompanyAttributes captures the company flags that select the CIT branch.
type CompanyAttributes struct {
	FreeZoneStatus        bool             `json:"free_zone_status"`
	SmallBusinessElection bool             `json:"small_business_election"`
	QFZPStatus            bool             `json:"qfzp_status"`
	QualifyingIncome      *decimal.Decimal `json:"qualifying_income,omitempty"`
}

// CalculationRequest is the validated input to the calculation engine.
// It is never persisted on its own, only as the frozen InputData snapshot
// inside an AuditRecord.
type CalculationRequest struct {
	CompanyID        uuid.UUID                  `json:"company_id"`
	TaxType          string                     `json:"tax_type"`
	Period           string                     `json:"period"`
	Currency         string                     `json:"currency"`
	TotalRevenue     decimal.Decimal            `json:"total_revenue"`
	TotalExpenses    decimal.Decimal            `json:"total_expenses"`
	ExpenseBreakdown map[string]decimal.Decimal `json:"expense_breakdown,omitempty"`
	Attributes       CompanyAttributes          `json:"company_attributes"`
	TRN              string                     `json:"trn,omitempty"`
	ReferenceID      *uuid.UUID                 `json:"reference_id,omitempty"`
}

// DeductibleExpenses returns the expense amount eligible for input VAT:
// the sum of the category breakdown when one is supplied, otherwise the
// total expenses figure.
func (r CalculationRequest) DeductibleExpenses() decimal.Decimal {
	if len(r.ExpenseBreakdown) == 0 {
		return r.TotalExpenses
	}
	sum := decimal.Zero
	for _, v := range r.ExpenseBreakdown {
		sum = sum.Add(v)
	}
	return sum
}

// CalculationStep is one atomic, replayable step of a calculation. Inputs
// hold a name -> value snapshot so every step is traceable to the request,
// the rate configuration, or a prior step's result.
type CalculationStep struct {
	StepNumber          int               `json:"step_number"`
	Description         string            `json:"description"`
	Formula             string            `json:"formula"`
	Inputs              map[string]string `json:"inputs"`
	Result              decimal.Decimal   `json:"result"`
	Currency            string            `json:"currency"`
	RegulatoryReference string            `json:"regulatory_reference"`
}

// VATDetails is the VAT-specific breakdown of a CalculationResult.
type VATDetails struct {
	OutputVAT     decimal.Decimal `json:"output_vat"`
	InputVAT      decimal.Decimal `json:"input_vat"`
	NetVAT        decimal.Decimal `json:"net_vat"`
	RefundableVAT decimal.Decimal `json:"refundable_vat"`
}

// CITDetails is the CIT-specific breakdown, recording which relief branch
// applied and why.
type CITDetails struct {
	ReliefBranch string          `json:"relief_branch"`
	ReliefReason string          `json:"relief_reason"`
	TaxableBase  decimal.Decimal `json:"taxable_base"`
	ReliefAmount decimal.Decimal `json:"relief_amount"`
}

// CalculationResult is the deterministic output of the engine. Exactly one
// of VAT/CIT is set, matching TaxType. TotalAmount always equals the result
// of the final step.
type CalculationResult struct {
	TaxType     string                     `json:"tax_type"`
	TotalAmount decimal.Decimal            `json:"total_amount"`
	Currency    string                     `json:"currency"`
	TaxableBase decimal.Decimal            `json:"taxable_base"`
	AppliedRate decimal.Decimal            `json:"applied_rate"`
	Exemptions  map[string]decimal.Decimal `json:"exemptions,omitempty"`
	Deductions  map[string]decimal.Decimal `json:"deductions,omitempty"`
	VAT         *VATDetails                `json:"vat,omitempty"`
	CIT         *CITDetails                `json:"cit,omitempty"`
	Steps       []CalculationStep          `json:"steps"`
}

// ValidPeriod reports whether period matches the filing cadence of taxType:
// quarterly (YYYY-Qn) for VAT, yearly (YYYY) for CIT.
func ValidPeriod(taxType, period string) bool {
	switch taxType {
	case TaxTypeVAT:
		return quarterPeriodPattern.MatchString(period)
	case TaxTypeCIT:
		return yearPeriodPattern.MatchString(period)
	default:
		return false
	}
}

// ValidTRN reports whether trn matches the jurisdiction's fixed-length
// numeric registration number format.
func ValidTRN(trn string) bool {
	return trnPattern.MatchString(trn)
}

// PeriodStart returns the first day of a filing period, used to resolve the
// rate configuration effective for that period.
func PeriodStart(period string) (time.Time, error) {
	switch {
	case yearPeriodPattern.MatchString(period):
		year, _ := strconv.Atoi(period)
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case quarterPeriodPattern.MatchString(period):
		year, _ := strconv.Atoi(period[:4])
		quarter := int(period[6] - '0')
		month := time.Month((quarter-1)*3 + 1)
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("invalid period format: %q (expected YYYY or YYYY-Qn)", period)
	}
}
