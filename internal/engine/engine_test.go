package engine

import (
	"encoding/json"
	"testing"
	"time"

	"backend/internal/apperr"
	"backend/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() model.RateConfig {
	return model.RateConfig{
		ID:                        uuid.New(),
		JurisdictionVersion:       "UAE-2026.1",
		EffectiveFrom:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		VATStandardRate:           decimal.RequireFromString("0.05"),
		CITStandardRate:           decimal.RequireFromString("0.09"),
		CITSmallBusinessThreshold: decimal.RequireFromString("375000"),
		CITFreeZoneThreshold:      decimal.RequireFromString("3000000"),
		VATRegistrationThreshold:  decimal.RequireFromString("375000"),
	}
}

func vatRequest(revenue, expenses string) model.CalculationRequest {
	return model.CalculationRequest{
		CompanyID:     uuid.New(),
		TaxType:       model.TaxTypeVAT,
		Period:        "2026-Q1",
		TotalRevenue:  decimal.RequireFromString(revenue),
		TotalExpenses: decimal.RequireFromString(expenses),
	}
}

func citRequest(revenue, expenses string, attrs model.CompanyAttributes) model.CalculationRequest {
	return model.CalculationRequest{
		CompanyID:     uuid.New(),
		TaxType:       model.TaxTypeCIT,
		Period:        "2026",
		TotalRevenue:  decimal.RequireFromString(revenue),
		TotalExpenses: decimal.RequireFromString(expenses),
		Attributes:    attrs,
	}
}

func TestCalculateVAT(t *testing.T) {
	res, err := CalculateVAT(vatRequest("1000000", "400000"), testConfig())
	require.NoError(t, err)

	assert.Equal(t, model.TaxTypeVAT, res.TaxType)
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("30000")), "got %s", res.TotalAmount)
	assert.True(t, res.VAT.OutputVAT.Equal(decimal.RequireFromString("50000")))
	assert.True(t, res.VAT.InputVAT.Equal(decimal.RequireFromString("20000")))
	assert.True(t, res.VAT.RefundableVAT.IsZero())
	assert.Equal(t, "AED", res.Currency)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, 1, res.Steps[0].StepNumber)
	assert.NotEmpty(t, res.Steps[0].RegulatoryReference)
}

func TestCalculateVATRefundable(t *testing.T) {
	// Input VAT exceeds output VAT: net clamps to zero, excess is refundable
	res, err := CalculateVAT(vatRequest("100000", "300000"), testConfig())
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.IsZero(), "got %s", res.TotalAmount)
	assert.True(t, res.VAT.RefundableVAT.Equal(decimal.RequireFromString("10000")))
}

func TestCalculateVATUsesBreakdownWhenPresent(t *testing.T) {
	req := vatRequest("1000000", "999999")
	req.ExpenseBreakdown = map[string]decimal.Decimal{
		"rent":     decimal.RequireFromString("300000"),
		"salaries": decimal.RequireFromString("100000"),
	}

	res, err := CalculateVAT(req, testConfig())
	require.NoError(t, err)

	// 50,000 output − 20,000 input on the 400,000 breakdown sum
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("30000")), "got %s", res.TotalAmount)
}

func TestCalculateVATRounding(t *testing.T) {
	res, err := CalculateVAT(vatRequest("100.333", "0"), testConfig())
	require.NoError(t, err)

	// 5.01665 rounds half-up to fils
	assert.Equal(t, "5.02", res.TotalAmount.StringFixed(2))
}

func TestCalculateCITStandardRate(t *testing.T) {
	res, err := CalculateCIT(citRequest("5000000", "1000000", model.CompanyAttributes{}), testConfig())
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("360000")), "got %s", res.TotalAmount)
	assert.Equal(t, model.ReliefBranchStandard, res.CIT.ReliefBranch)
	assert.True(t, res.TaxableBase.Equal(decimal.RequireFromString("4000000")))
	require.Len(t, res.Steps, 3)
}

func TestCalculateCITNegativeBaseClampsToZero(t *testing.T) {
	res, err := CalculateCIT(citRequest("100000", "250000", model.CompanyAttributes{}), testConfig())
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.IsZero())
	assert.True(t, res.TaxableBase.IsZero())
}

func TestCalculateCITSmallBusinessRelief(t *testing.T) {
	attrs := model.CompanyAttributes{SmallBusinessElection: true}

	res, err := CalculateCIT(citRequest("400000", "100000", attrs), testConfig())
	require.NoError(t, err)

	// Base 300,000 is fully inside the 375,000 relief threshold
	assert.True(t, res.TotalAmount.IsZero(), "got %s", res.TotalAmount)
	assert.Equal(t, model.ReliefBranchSmallBusiness, res.CIT.ReliefBranch)
	assert.True(t, res.CIT.ReliefAmount.Equal(decimal.RequireFromString("300000")))

	res, err = CalculateCIT(citRequest("600000", "100000", attrs), testConfig())
	require.NoError(t, err)

	// (500,000 − 375,000) × 0.09
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("11250")), "got %s", res.TotalAmount)
}

func TestCalculateCITFreeZoneExemption(t *testing.T) {
	qi := decimal.RequireFromString("2000000")
	attrs := model.CompanyAttributes{FreeZoneStatus: true, QFZPStatus: true, QualifyingIncome: &qi}

	res, err := CalculateCIT(citRequest("2500000", "500000", attrs), testConfig())
	require.NoError(t, err)

	assert.True(t, res.TotalAmount.IsZero())
	assert.Equal(t, model.ReliefBranchFreeZone, res.CIT.ReliefBranch)
	assert.True(t, res.CIT.ReliefAmount.Equal(decimal.RequireFromString("2000000")))
	require.Contains(t, res.Exemptions, "free_zone_qualifying_income")
}

func TestCalculateCITFreeZoneAboveThresholdFallsThrough(t *testing.T) {
	qi := decimal.RequireFromString("5000000")
	attrs := model.CompanyAttributes{FreeZoneStatus: true, QFZPStatus: true, QualifyingIncome: &qi}

	res, err := CalculateCIT(citRequest("6000000", "1000000", attrs), testConfig())
	require.NoError(t, err)

	// Base 5,000,000 exceeds the 3,000,000 free-zone threshold
	assert.Equal(t, model.ReliefBranchStandard, res.CIT.ReliefBranch)
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("450000")), "got %s", res.TotalAmount)
}

func TestCalculateCITMissingQualifyingIncomeFailsFast(t *testing.T) {
	attrs := model.CompanyAttributes{FreeZoneStatus: true, QFZPStatus: true}

	_, err := CalculateCIT(citRequest("2500000", "500000", attrs), testConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCalculateIsDeterministic(t *testing.T) {
	cfg := testConfig()
	req := citRequest("5000000", "1234567.89", model.CompanyAttributes{SmallBusinessElection: true})

	first, err := Calculate(req, cfg)
	require.NoError(t, err)
	second, err := Calculate(req, cfg)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestReplayStepsMatchesTotal(t *testing.T) {
	res, err := CalculateVAT(vatRequest("1000000", "400000"), testConfig())
	require.NoError(t, err)

	replayed, err := ReplaySteps(res.Steps)
	require.NoError(t, err)
	assert.True(t, replayed.Equal(res.TotalAmount))
}

func TestReplayStepsRejectsBrokenNumbering(t *testing.T) {
	res, err := CalculateVAT(vatRequest("1000000", "400000"), testConfig())
	require.NoError(t, err)

	res.Steps[1].StepNumber = 5
	_, err = ReplaySteps(res.Steps)
	require.Error(t, err)
}

func TestMinorUnitRounding(t *testing.T) {
	cases := []struct {
		currency string
		amount   string
		want     string
	}{
		{"AED", "10.005", "10.01"},
		{"BHD", "10.0005", "10.001"},
		{"JPY", "10.5", "11"},
	}
	for _, tc := range cases {
		got := roundToMinorUnit(decimal.RequireFromString(tc.amount), tc.currency)
		assert.Equal(t, tc.want, got.String(), "currency %s", tc.currency)
	}
}
