package engine

import (
	"fmt"

	"backend/internal/apperr"
	"backend/internal/model"

	"github.com/shopspring/decimal"
)

// Statutory citations attached to calculation steps.
const (
	refVATRate       = "Federal Decree-Law No. 8 of 2017, Art. 3 (standard rate)"
	refVATInput      = "Federal Decree-Law No. 8 of 2017, Art. 54 (recoverable input tax)"
	refVATNet        = "Federal Decree-Law No. 8 of 2017, Art. 53 (payable tax)"
	refCITBase       = "Federal Decree-Law No. 47 of 2022, Art. 20 (taxable income)"
	refCITRate       = "Federal Decree-Law No. 47 of 2022, Art. 3 (corporate tax rate)"
	refCITFreeZone   = "Federal Decree-Law No. 47 of 2022, Art. 18 (qualifying free zone person)"
	refCITSmallBiz   = "Federal Decree-Law No. 47 of 2022, Art. 21 (small business relief)"
)

// Calculate dispatches to the tax-type specific calculator. Both calculators
// are pure: identical (request, config) pairs always yield byte-identical
// results, including step ordering and step text. That determinism is what
// makes audit records replayable and the recompute-and-diff validation
// workflow possible.
func Calculate(req model.CalculationRequest, cfg model.RateConfig) (model.CalculationResult, error) {
	switch req.TaxType {
	case model.TaxTypeVAT:
		return CalculateVAT(req, cfg)
	case model.TaxTypeCIT:
		return CalculateCIT(req, cfg)
	default:
		return model.CalculationResult{}, apperr.Validation(fmt.Sprintf("tax_type %q is not supported", req.TaxType))
	}
}

// CalculateVAT computes net VAT for a filing period:
// output VAT on revenue, less input VAT on deductible expenses,
// clamped at zero. Rounding happens only on the final total.
func CalculateVAT(req model.CalculationRequest, cfg model.RateConfig) (model.CalculationResult, error) {
	currency := currencyOf(req)
	rate := cfg.VATStandardRate
	deductible := req.DeductibleExpenses()

	outputVAT := req.TotalRevenue.Mul(rate)
	inputVAT := deductible.Mul(rate)
	net := outputVAT.Sub(inputVAT)
	refundable := decimal.Zero
	if net.IsNegative() {
		refundable = net.Neg()
		net = decimal.Zero
	}
	total := roundToMinorUnit(net, currency)

	steps := []model.CalculationStep{
		{
			StepNumber:  1,
			Description: "Compute output VAT on taxable supplies",
			Formula:     "total_revenue × vat_standard_rate",
			Inputs: map[string]string{
				"total_revenue":     req.TotalRevenue.String(),
				"vat_standard_rate": rate.String(),
			},
			Result:              outputVAT,
			Currency:            currency,
			RegulatoryReference: refVATRate,
		},
		{
			StepNumber:  2,
			Description: "Compute recoverable input VAT on deductible expenses",
			Formula:     "deductible_expenses × vat_standard_rate",
			Inputs: map[string]string{
				"deductible_expenses": deductible.String(),
				"vat_standard_rate":   rate.String(),
			},
			Result:              inputVAT,
			Currency:            currency,
			RegulatoryReference: refVATInput,
		},
		{
			StepNumber:  3,
			Description: "Compute net VAT payable for the period",
			Formula:     "max(0, output_vat − input_vat)",
			Inputs: map[string]string{
				"output_vat": outputVAT.String(),
				"input_vat":  inputVAT.String(),
			},
			Result:              total,
			Currency:            currency,
			RegulatoryReference: refVATNet,
		},
	}

	return model.CalculationResult{
		TaxType:     model.TaxTypeVAT,
		TotalAmount: total,
		Currency:    currency,
		TaxableBase: req.TotalRevenue,
		AppliedRate: rate,
		Deductions:  map[string]decimal.Decimal{"input_vat": inputVAT},
		VAT: &model.VATDetails{
			OutputVAT:     outputVAT,
			InputVAT:      inputVAT,
			NetVAT:        total,
			RefundableVAT: refundable,
		},
		Steps: steps,
	}, nil
}

// CalculateCIT computes corporate income tax. Exactly one relief branch
// applies, in priority order: free-zone full exemption, small-business
// relief, standard rate. The branch decision is recorded as a dedicated
// step so the audit trail shows why a given rate applied.
func CalculateCIT(req model.CalculationRequest, cfg model.RateConfig) (model.CalculationResult, error) {
	currency := currencyOf(req)

	// The engine never guesses a default for a missing required attribute.
	if req.Attributes.FreeZoneStatus && req.Attributes.QualifyingIncome == nil {
		return model.CalculationResult{}, apperr.Validation(
			"qualifying_income is required when free_zone_status is claimed")
	}

	base := req.TotalRevenue.Sub(req.TotalExpenses)
	if base.IsNegative() {
		base = decimal.Zero
	}

	branch, reason, appliedRate := selectCITBranch(req.Attributes, base, cfg)

	var (
		tax          decimal.Decimal
		taxFormula   string
		taxInputs    map[string]string
		taxRef       string
		reliefAmount decimal.Decimal
		exemptions   map[string]decimal.Decimal
		deductions   map[string]decimal.Decimal
	)

	switch branch {
	case model.ReliefBranchFreeZone:
		tax = decimal.Zero
		reliefAmount = base
		taxFormula = "taxable_base × 0"
		taxInputs = map[string]string{
			"taxable_base":            base.String(),
			"cit_free_zone_threshold": cfg.CITFreeZoneThreshold.String(),
		}
		taxRef = refCITFreeZone
		exemptions = map[string]decimal.Decimal{"free_zone_qualifying_income": base}
	case model.ReliefBranchSmallBusiness:
		relieved := base.Sub(cfg.CITSmallBusinessThreshold)
		if relieved.IsNegative() {
			relieved = decimal.Zero
		}
		tax = relieved.Mul(cfg.CITStandardRate)
		reliefAmount = base.Sub(relieved)
		taxFormula = "max(0, taxable_base − cit_small_business_threshold) × cit_standard_rate"
		taxInputs = map[string]string{
			"taxable_base":                 base.String(),
			"cit_small_business_threshold": cfg.CITSmallBusinessThreshold.String(),
			"cit_standard_rate":            cfg.CITStandardRate.String(),
		}
		taxRef = refCITSmallBiz
		deductions = map[string]decimal.Decimal{"small_business_relief": reliefAmount}
	default:
		tax = base.Mul(cfg.CITStandardRate)
		reliefAmount = decimal.Zero
		taxFormula = "taxable_base × cit_standard_rate"
		taxInputs = map[string]string{
			"taxable_base":      base.String(),
			"cit_standard_rate": cfg.CITStandardRate.String(),
		}
		taxRef = refCITRate
	}

	total := roundToMinorUnit(tax, currency)

	steps := []model.CalculationStep{
		{
			StepNumber:  1,
			Description: "Compute taxable base from accounting income",
			Formula:     "max(0, total_revenue − total_expenses)",
			Inputs: map[string]string{
				"total_revenue":  req.TotalRevenue.String(),
				"total_expenses": req.TotalExpenses.String(),
			},
			Result:              base,
			Currency:            currency,
			RegulatoryReference: refCITBase,
		},
		{
			StepNumber:  2,
			Description: "Determine applicable rate: " + reason,
			Formula:     "relief branch = " + branch,
			Inputs: map[string]string{
				"free_zone_status":        boolString(req.Attributes.FreeZoneStatus),
				"qfzp_status":             boolString(req.Attributes.QFZPStatus),
				"small_business_election": boolString(req.Attributes.SmallBusinessElection),
				"taxable_base":            base.String(),
			},
			Result:              appliedRate,
			Currency:            currency,
			RegulatoryReference: taxRef,
		},
		{
			StepNumber:          3,
			Description:         "Compute corporate income tax for the period",
			Formula:             taxFormula,
			Inputs:              taxInputs,
			Result:              total,
			Currency:            currency,
			RegulatoryReference: taxRef,
		},
	}

	return model.CalculationResult{
		TaxType:     model.TaxTypeCIT,
		TotalAmount: total,
		Currency:    currency,
		TaxableBase: base,
		AppliedRate: appliedRate,
		Exemptions:  exemptions,
		Deductions:  deductions,
		CIT: &model.CITDetails{
			ReliefBranch: branch,
			ReliefReason: reason,
			TaxableBase:  base,
			ReliefAmount: reliefAmount,
		},
		Steps: steps,
	}, nil
}

// selectCITBranch picks the single relief branch that applies, in priority
// order. The free-zone exemption short-circuits the remaining branches.
func selectCITBranch(attrs model.CompanyAttributes, base decimal.Decimal, cfg model.RateConfig) (branch, reason string, rate decimal.Decimal) {
	freeZoneQualified := attrs.FreeZoneStatus && attrs.QFZPStatus
	switch {
	case freeZoneQualified && base.LessThanOrEqual(cfg.CITFreeZoneThreshold):
		return model.ReliefBranchFreeZone,
			fmt.Sprintf("qualifying free zone person with taxable base %s within threshold %s",
				base.String(), cfg.CITFreeZoneThreshold.String()),
			decimal.Zero
	case attrs.SmallBusinessElection:
		return model.ReliefBranchSmallBusiness,
			fmt.Sprintf("small business relief elected; first %s of taxable base relieved",
				cfg.CITSmallBusinessThreshold.String()),
			cfg.CITStandardRate
	default:
		return model.ReliefBranchStandard,
			"standard rate applies; no relief claimed or thresholds exceeded",
			cfg.CITStandardRate
	}
}

// ReplaySteps recomputes the final total from an ordered step list. Used by
// the recompute-and-diff validation workflow: for a well-formed result the
// returned amount equals Result.TotalAmount exactly.
func ReplaySteps(steps []model.CalculationStep) (decimal.Decimal, error) {
	if len(steps) == 0 {
		return decimal.Zero, fmt.Errorf("no steps to replay")
	}
	for i, step := range steps {
		if step.StepNumber != i+1 {
			return decimal.Zero, fmt.Errorf("step numbering broken at index %d: got %d", i, step.StepNumber)
		}
	}
	return steps[len(steps)-1].Result, nil
}

// currencyOf normalizes the request currency, defaulting to AED.
func currencyOf(req model.CalculationRequest) string {
	if req.Currency == "" {
		return model.DefaultCurrency
	}
	return req.Currency
}

// roundToMinorUnit rounds half-up to the smallest currency unit. Applied
// only to final totals; intermediate steps keep full precision to avoid
// rounding drift between repeated calculations.
func roundToMinorUnit(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(minorUnits(currency))
}

// minorUnits returns the decimal places of a currency's smallest unit.
func minorUnits(currency string) int32 {
	switch currency {
	case "BHD", "KWD", "OMR":
		return 3
	case "JPY":
		return 0
	default:
		return 2 // AED fils and most others
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
