package engine

import (
	"testing"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequestAccepts(t *testing.T) {
	req := vatRequest("1000", "500")
	req.TRN = "100123456789012"

	res := ValidateRequest(req)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateRequestCollectsAllViolations(t *testing.T) {
	neg := decimal.RequireFromString("-1")
	req := model.CalculationRequest{
		TaxType:       "VAT",
		Period:        "2026", // wrong cadence for VAT
		TotalRevenue:  neg,
		TotalExpenses: neg,
		ExpenseBreakdown: map[string]decimal.Decimal{
			"rent": neg,
		},
		TRN: "12345",
	}

	res := ValidateRequest(req)
	require.False(t, res.Valid)

	// Every violation surfaces in one pass
	assert.Contains(t, res.Errors, "company_id is required")
	assert.Contains(t, res.Errors, `period "2026" is not a valid VAT quarter (expected YYYY-Qn)`)
	assert.Contains(t, res.Errors, "total_revenue must not be negative")
	assert.Contains(t, res.Errors, "total_expenses must not be negative")
	assert.Contains(t, res.Errors, "expense_breakdown[rent] must not be negative")
	assert.Contains(t, res.Errors, "trn must be a 15-digit number")
}

func TestValidateRequestPeriodCadence(t *testing.T) {
	cases := []struct {
		taxType string
		period  string
		valid   bool
	}{
		{model.TaxTypeVAT, "2026-Q1", true},
		{model.TaxTypeVAT, "2026-Q4", true},
		{model.TaxTypeVAT, "2026-Q5", false},
		{model.TaxTypeVAT, "2026", false},
		{model.TaxTypeCIT, "2026", true},
		{model.TaxTypeCIT, "2026-Q1", false},
		{model.TaxTypeCIT, "26", false},
	}
	for _, tc := range cases {
		req := model.CalculationRequest{
			CompanyID:    uuid.New(),
			TaxType:      tc.taxType,
			Period:       tc.period,
			TotalRevenue: decimal.RequireFromString("100"),
		}
		res := ValidateRequest(req)
		assert.Equal(t, tc.valid, res.Valid, "%s %s: %v", tc.taxType, tc.period, res.Errors)
	}
}

func TestValidateRequestUnknownTaxType(t *testing.T) {
	req := model.CalculationRequest{
		CompanyID:    uuid.New(),
		TaxType:      "PAYROLL",
		Period:       "2026",
		TotalRevenue: decimal.RequireFromString("100"),
	}

	res := ValidateRequest(req)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, `tax_type "PAYROLL" is not supported (expected VAT or CIT)`)
}

func TestValidateRequestCrossFieldRules(t *testing.T) {
	req := citRequest("1000", "0", model.CompanyAttributes{FreeZoneStatus: true})
	res := ValidateRequest(req)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "qualifying_income is required when free_zone_status is claimed")

	req = citRequest("1000", "0", model.CompanyAttributes{QFZPStatus: true})
	res = ValidateRequest(req)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "qfzp_status requires free_zone_status")
}

func TestValidateRateConfig(t *testing.T) {
	cfg := testConfig()
	res := ValidateRateConfig(cfg)
	assert.True(t, res.Valid, "%v", res.Errors)

	cfg.VATStandardRate = decimal.RequireFromString("1.5")
	cfg.CITSmallBusinessThreshold = decimal.RequireFromString("-1")
	res = ValidateRateConfig(cfg)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "vat_standard_rate must be within [0, 1]")
	assert.Contains(t, res.Errors, "cit_small_business_threshold must not be negative")
}

func TestValidateRateConfigEffectiveRange(t *testing.T) {
	cfg := testConfig()
	to := cfg.EffectiveFrom.Add(-24 * time.Hour)
	cfg.EffectiveTo = &to

	res := ValidateRateConfig(cfg)
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "effective_to must not precede effective_from")
}
