package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateDocumentTax_PerLineVsPerTotalDiverge(t *testing.T) {
	// Two 0.05 lines at 10%: per-line rounds each 0.005 up to 0.01 (0.02
	// total), per-total rounds once on 0.10 -> 0.01.
	amounts := []decimal.Decimal{dec("0.05"), dec("0.05")}
	rate := dec("10")

	perLine, err := CalculateDocumentTax(amounts, rate, TaxRoundingPerLine, VatBehaviorExclusive)
	if err != nil {
		t.Fatalf("per-line: %v", err)
	}
	if got := perLine.Tax.StringFixed(2); got != "0.02" {
		t.Fatalf("per-line tax = %s, want 0.02", got)
	}

	perTotal, err := CalculateDocumentTax(amounts, rate, TaxRoundingPerTotal, VatBehaviorExclusive)
	if err != nil {
		t.Fatalf("per-total: %v", err)
	}
	if got := perTotal.Tax.StringFixed(2); got != "0.01" {
		t.Fatalf("per-total tax = %s, want 0.01", got)
	}
}

func TestCalculateDocumentTax_ModesAgreeOnRoundAmounts(t *testing.T) {
	amounts := []decimal.Decimal{dec("100"), dec("200")}
	rate := dec("5")

	for _, mode := range []TaxRoundingMode{TaxRoundingPerLine, TaxRoundingPerTotal} {
		result, err := CalculateDocumentTax(amounts, rate, mode, VatBehaviorExclusive)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if got := result.Tax.StringFixed(2); got != "15.00" {
			t.Fatalf("%s tax = %s, want 15.00", mode, got)
		}
		if got := result.Total.StringFixed(2); got != "315.00" {
			t.Fatalf("%s total = %s, want 315.00", mode, got)
		}
	}
}

func TestCalculateDocumentTax_InclusiveBacksOutNet(t *testing.T) {
	// 110 inclusive at 10%: net = round2(110/1.1) = 100, tax = 10, gross stays 110.
	result, err := CalculateDocumentTax([]decimal.Decimal{dec("110")}, dec("10"), TaxRoundingPerLine, VatBehaviorInclusive)
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Subtotal.StringFixed(2); got != "100.00" {
		t.Fatalf("subtotal = %s, want 100.00", got)
	}
	if got := result.Tax.StringFixed(2); got != "10.00" {
		t.Fatalf("tax = %s, want 10.00", got)
	}
	if got := result.Total.StringFixed(2); got != "110.00" {
		t.Fatalf("total = %s, want 110.00", got)
	}
}

func TestCalculateDocumentTax_InclusiveGrossNeverChanges(t *testing.T) {
	// Whatever the rounding does to net/tax split, the gross must stay the
	// amount the customer was charged.
	cases := [][]string{
		{"0.01"}, {"99.99", "0.05"}, {"123.45", "67.89", "0.01"},
	}
	for _, c := range cases {
		amounts := make([]decimal.Decimal, 0, len(c))
		gross := decimal.Zero
		for _, s := range c {
			d := dec(s)
			amounts = append(amounts, d)
			gross = gross.Add(d)
		}
		for _, mode := range []TaxRoundingMode{TaxRoundingPerLine, TaxRoundingPerTotal} {
			result, err := CalculateDocumentTax(amounts, dec("7.5"), mode, VatBehaviorInclusive)
			if err != nil {
				t.Fatal(err)
			}
			if !result.Total.Equal(gross) {
				t.Fatalf("%v %s: total %s != gross %s", c, mode, result.Total, gross)
			}
			if !result.Subtotal.Add(result.Tax).Equal(result.Total) {
				t.Fatalf("%v %s: net+tax %s != total %s", c, mode,
					result.Subtotal.Add(result.Tax), result.Total)
			}
		}
	}
}

func TestCalculateDocumentTax_PerTotalAttributesAcrossLines(t *testing.T) {
	// A tiny line next to a large one must keep a proportional share of the
	// net instead of absorbing the whole document's rounding, which would
	// push it negative.
	amounts := []decimal.Decimal{dec("100"), dec("0.01")}

	result, err := CalculateDocumentTax(amounts, dec("10"), TaxRoundingPerTotal, VatBehaviorInclusive)
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Tax.StringFixed(2); got != "9.09" {
		t.Fatalf("tax = %s, want 9.09", got)
	}
	lineSum := decimal.Zero
	for i, line := range result.Lines {
		if line.Subtotal.IsNegative() || line.Tax.IsNegative() {
			t.Fatalf("line %d went negative: %+v", i, line)
		}
		lineSum = lineSum.Add(line.Subtotal)
	}
	if !lineSum.Equal(result.Subtotal) {
		t.Fatalf("line subtotals sum to %s, want %s", lineSum, result.Subtotal)
	}

	exclusive, err := CalculateDocumentTax(amounts, dec("10"), TaxRoundingPerTotal, VatBehaviorExclusive)
	if err != nil {
		t.Fatal(err)
	}
	taxSum := decimal.Zero
	for i, line := range exclusive.Lines {
		if line.Tax.IsNegative() {
			t.Fatalf("line %d tax negative: %+v", i, line)
		}
		taxSum = taxSum.Add(line.Tax)
	}
	if !taxSum.Equal(exclusive.Tax) {
		t.Fatalf("line taxes sum to %s, want %s", taxSum, exclusive.Tax)
	}
}

func TestApportionMoney(t *testing.T) {
	cases := []struct {
		total   string
		weights []string
		want    []string
	}{
		{"9.09", []string{"100", "0.01"}, []string{"9.09", "0.00"}},
		{"15.00", []string{"100", "200"}, []string{"5.00", "10.00"}},
		{"0.01", []string{"1", "1", "1"}, []string{"0.01", "0.00", "0.00"}},
		{"10.00", []string{"0", "0"}, []string{"0.00", "0.00"}},
	}
	for _, c := range cases {
		weights := make([]decimal.Decimal, 0, len(c.weights))
		for _, w := range c.weights {
			weights = append(weights, dec(w))
		}
		shares := ApportionMoney(dec(c.total), weights)
		for i, want := range c.want {
			if got := shares[i].StringFixed(2); got != want {
				t.Fatalf("ApportionMoney(%s, %v)[%d] = %s, want %s", c.total, c.weights, i, got, want)
			}
		}
	}
}

func TestCalculateDocumentTax_ZeroRate(t *testing.T) {
	result, err := CalculateDocumentTax([]decimal.Decimal{dec("50"), dec("50")}, decimal.Zero, TaxRoundingPerLine, VatBehaviorExclusive)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Tax.IsZero() {
		t.Fatalf("tax = %s, want 0", result.Tax)
	}
	if got := result.Total.StringFixed(2); got != "100.00" {
		t.Fatalf("total = %s, want 100.00", got)
	}
}

func TestCalculateDocumentTax_RejectsBadInput(t *testing.T) {
	if _, err := CalculateDocumentTax([]decimal.Decimal{dec("10")}, dec("-1"), TaxRoundingPerLine, VatBehaviorExclusive); err == nil {
		t.Fatal("negative rate accepted")
	}
	if _, err := CalculateDocumentTax([]decimal.Decimal{dec("-10")}, dec("5"), TaxRoundingPerLine, VatBehaviorExclusive); err == nil {
		t.Fatal("negative amount accepted")
	}
	if _, err := CalculateDocumentTax([]decimal.Decimal{dec("10")}, dec("5"), "HALF_EVEN", VatBehaviorExclusive); err == nil {
		t.Fatal("unknown rounding mode accepted")
	}
}

func TestRoundMoney_HalfUp(t *testing.T) {
	cases := map[string]string{
		"0.005":  "0.01",
		"0.004":  "0.00",
		"2.675":  "2.68",
		"10.125": "10.13",
	}
	for in, want := range cases {
		if got := RoundMoney(dec(in)).StringFixed(2); got != want {
			t.Fatalf("RoundMoney(%s) = %s, want %s", in, got, want)
		}
	}
}
