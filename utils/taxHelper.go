package utils

import (
	"github.com/shopspring/decimal"
)

type TaxRoundingMode string

const (
	TaxRoundingPerLine  TaxRoundingMode = "PER_LINE"
	TaxRoundingPerTotal TaxRoundingMode = "PER_TOTAL"
)

type VatBehavior string

const (
	VatBehaviorExclusive VatBehavior = "EXCLUSIVE"
	VatBehaviorInclusive VatBehavior = "INCLUSIVE"
)

var decimalOneHundred = decimal.NewFromInt(100)

// RoundMoney rounds to 2 decimal places, half up at the rounding point.
// (shopspring Round rounds half away from zero, which is half-up for
// the non-negative amounts money columns carry.)
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

type LineTaxAmount struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

type DocumentTaxResult struct {
	Lines    []LineTaxAmount `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// ApportionMoney splits total across lines in proportion to weights, each
// share rounded to 2dp. The rounding leftover lands on the largest weight,
// which can always absorb it, so no share goes negative and the shares always
// sum to exactly total. Zero weights get zero shares.
func ApportionMoney(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	weightSum := decimal.Zero
	for _, w := range weights {
		weightSum = weightSum.Add(w)
	}
	if weightSum.IsZero() {
		return shares
	}
	largest := 0
	allocated := decimal.Zero
	for i, w := range weights {
		shares[i] = RoundMoney(total.Mul(w).Div(weightSum))
		allocated = allocated.Add(shares[i])
		if w.GreaterThan(weights[largest]) {
			largest = i
		}
	}
	if leftover := total.Sub(allocated); !leftover.IsZero() {
		shares[largest] = shares[largest].Add(leftover)
	}
	return shares
}

// CalculateDocumentTax computes per-line and total tax for a flat VAT rate.
//
// PER_LINE rounds each line's tax independently; PER_TOTAL rounds once on the
// document total and apportions the result back across lines by gross weight.
// The two modes can diverge by a cent on the same input; that divergence is
// expected, not a bug. PER_LINE is the default for documents, PER_TOTAL is an
// explicit organization-level opt-in.
//
// INCLUSIVE treats line amounts as tax-inclusive and backs the net out:
// net = round2(amount / (1 + rate/100)), tax = amount - net.
//
// In every mode the line subtotals sum to Subtotal, the line taxes sum to
// Tax, and no line carries a negative subtotal or tax.
func CalculateDocumentTax(amounts []decimal.Decimal, ratePercent decimal.Decimal, rounding TaxRoundingMode, behavior VatBehavior) (*DocumentTaxResult, error) {
	if ratePercent.IsNegative() {
		return nil, Validationf("tax rate must not be negative")
	}
	if rounding != TaxRoundingPerLine && rounding != TaxRoundingPerTotal {
		return nil, Validationf("invalid tax rounding mode %q", rounding)
	}
	if behavior != VatBehaviorExclusive && behavior != VatBehaviorInclusive {
		return nil, Validationf("invalid vat behavior %q", behavior)
	}

	result := &DocumentTaxResult{Lines: make([]LineTaxAmount, 0, len(amounts))}
	rate := ratePercent.Div(decimalOneHundred)
	grossSum := decimal.Zero
	for _, amount := range amounts {
		if amount.IsNegative() {
			return nil, Validationf("line amount must not be negative")
		}
		grossSum = grossSum.Add(amount)
	}

	switch behavior {
	case VatBehaviorExclusive:
		if rounding == TaxRoundingPerLine {
			for _, amount := range amounts {
				lineTax := RoundMoney(amount.Mul(rate))
				result.Lines = append(result.Lines, LineTaxAmount{
					Subtotal: amount,
					Tax:      lineTax,
					Total:    amount.Add(lineTax),
				})
				result.Tax = result.Tax.Add(lineTax)
			}
			result.Subtotal = grossSum
			result.Total = grossSum.Add(result.Tax)
			return result, nil
		}
		// PER_TOTAL: round exactly once, on the summed amount, then spread
		// the rounded tax back across the lines by gross weight.
		totalTax := RoundMoney(grossSum.Mul(rate))
		taxShares := ApportionMoney(totalTax, amounts)
		for i, amount := range amounts {
			result.Lines = append(result.Lines, LineTaxAmount{
				Subtotal: amount,
				Tax:      taxShares[i],
				Total:    amount.Add(taxShares[i]),
			})
		}
		result.Subtotal = grossSum
		result.Tax = totalTax
		result.Total = grossSum.Add(totalTax)
		return result, nil

	default: // VatBehaviorInclusive
		divisor := decimal.NewFromInt(1).Add(rate)
		if rounding == TaxRoundingPerLine {
			for _, amount := range amounts {
				net := RoundMoney(amount.Div(divisor))
				result.Lines = append(result.Lines, LineTaxAmount{
					Subtotal: net,
					Tax:      amount.Sub(net),
					Total:    amount,
				})
				result.Subtotal = result.Subtotal.Add(net)
			}
			result.Total = grossSum
			result.Tax = grossSum.Sub(result.Subtotal)
			return result, nil
		}
		// PER_TOTAL: back the net out of the summed gross once, then spread
		// it across lines by gross weight. A tiny line keeps a proportional
		// net instead of eating the whole document's tax as a residual.
		net := RoundMoney(grossSum.Div(divisor))
		netShares := ApportionMoney(net, amounts)
		for i, amount := range amounts {
			result.Lines = append(result.Lines, LineTaxAmount{
				Subtotal: netShares[i],
				Tax:      amount.Sub(netShares[i]),
				Total:    amount,
			})
		}
		result.Subtotal = net
		result.Tax = grossSum.Sub(net)
		result.Total = grossSum
		return result, nil
	}
}

// CalculateDiscountAmount resolves a document-level discount: "P" means
// percent of subtotal, anything else is a fixed amount.
func CalculateDiscountAmount(subTotal decimal.Decimal, discount decimal.Decimal, discountType string) decimal.Decimal {
	if !discount.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	if discountType == "P" {
		return RoundMoney(subTotal.Mul(discount).Div(decimalOneHundred))
	}
	return discount
}
