package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodStart(t *testing.T) {
	start, err := PeriodStart("2026")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), start)

	start, err = PeriodStart("2026-Q3")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), start)

	_, err = PeriodStart("Q3-2026")
	require.Error(t, err)
}

func TestValidTRN(t *testing.T) {
	assert.True(t, ValidTRN("100123456789012"))
	assert.False(t, ValidTRN("10012345678901"))   // 14 digits
	assert.False(t, ValidTRN("1001234567890123")) // 16 digits
	assert.False(t, ValidTRN("10012345678901a"))
}

func TestDeductibleExpenses(t *testing.T) {
	req := CalculationRequest{TotalExpenses: decimal.RequireFromString("500")}
	assert.True(t, req.DeductibleExpenses().Equal(decimal.RequireFromString("500")))

	req.ExpenseBreakdown = map[string]decimal.Decimal{
		"rent":     decimal.RequireFromString("100"),
		"salaries": decimal.RequireFromString("150"),
	}
	// Breakdown takes precedence over the aggregate figure
	assert.True(t, req.DeductibleExpenses().Equal(decimal.RequireFromString("250")))
}
