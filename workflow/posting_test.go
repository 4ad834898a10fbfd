package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the line
// construction and reversal semantics; transaction behavior (locks, numbers,
// idempotency) is covered by the gated integration tests.

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testOrg() *models.Organization {
	return &models.Organization{
		ID:           "org-1",
		BaseCurrency: "USD",
		VatEnabled:   true,
		VatBehavior:  utils.VatBehaviorExclusive,
		TaxRounding:  utils.TaxRoundingPerLine,
	}
}

func testInvoice() *models.Document {
	return &models.Document{
		ID:              10,
		OrganizationId:  "org-1",
		Type:            models.DocumentTypeInvoice,
		Status:          models.DocumentStatusDraft,
		Currency:        "USD",
		ContraAccountId: 1,
		TaxAccountId:    2,
		TaxRate:         d("10"),
		Items: []models.DocumentItem{
			{AccountId: 3, Description: "Widgets", Quantity: d("2"), UnitPrice: d("50"), Amount: d("100")},
			{AccountId: 4, Description: "Freight", Quantity: d("1"), UnitPrice: d("20"), Amount: d("20")},
		},
	}
}

func TestBuildJournalLines_InvoiceBalances(t *testing.T) {
	org := testOrg()
	doc := testInvoice()

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		t.Fatal(err)
	}
	lines, err := buildJournalLines(nil, org, doc, taxResult)
	if err != nil {
		t.Fatal(err)
	}
	for i := range lines {
		lines[i].LineNo = i + 1
	}
	debit, credit, err := models.ValidateJournalBalance(lines)
	if err != nil {
		t.Fatal(err)
	}
	if !debit.Equal(d("132.00")) || !credit.Equal(d("132.00")) {
		t.Fatalf("totals = %s/%s, want 132.00 (120 net + 12 tax)", debit, credit)
	}

	// Contra (AR) takes the debit; revenue and tax take credits.
	if lines[0].AccountId != doc.ContraAccountId || !lines[0].Debit.Equal(d("132.00")) {
		t.Fatalf("contra line wrong: %+v", lines[0])
	}
	var taxCredit decimal.Decimal
	for _, l := range lines {
		if l.AccountId == doc.TaxAccountId {
			taxCredit = l.Credit
		}
	}
	if !taxCredit.Equal(d("12.00")) {
		t.Fatalf("tax credit = %s, want 12.00", taxCredit)
	}
}

func TestBuildJournalLines_BillMirrorsInvoice(t *testing.T) {
	org := testOrg()
	doc := testInvoice()
	doc.Type = models.DocumentTypeBill

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		t.Fatal(err)
	}
	lines, err := buildJournalLines(nil, org, doc, taxResult)
	if err != nil {
		t.Fatal(err)
	}
	if !lines[0].Credit.Equal(d("132.00")) {
		t.Fatalf("AP contra should be credited, got %+v", lines[0])
	}
	for _, l := range lines[1:] {
		if !l.Credit.IsZero() {
			t.Fatalf("bill item/tax lines must be debits, got %+v", l)
		}
	}
}

func TestBuildJournalLines_CreditNoteOpposesInvoice(t *testing.T) {
	org := testOrg()
	doc := testInvoice()
	creditNote := testInvoice()
	creditNote.Type = models.DocumentTypeCreditNote

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		t.Fatal(err)
	}
	invoiceLines, err := buildJournalLines(nil, org, doc, taxResult)
	if err != nil {
		t.Fatal(err)
	}
	creditLines, err := buildJournalLines(nil, org, creditNote, taxResult)
	if err != nil {
		t.Fatal(err)
	}
	if len(invoiceLines) != len(creditLines) {
		t.Fatalf("line counts differ: %d vs %d", len(invoiceLines), len(creditLines))
	}
	for i := range invoiceLines {
		if invoiceLines[i].AccountId != creditLines[i].AccountId {
			t.Fatalf("line %d account mismatch", i)
		}
		if !invoiceLines[i].Debit.Equal(creditLines[i].Credit) ||
			!invoiceLines[i].Credit.Equal(creditLines[i].Debit) {
			t.Fatalf("line %d is not the mirror: %+v vs %+v", i, invoiceLines[i], creditLines[i])
		}
	}
}

func TestBuildJournalLines_BalancesInEveryRoundingMode(t *testing.T) {
	for _, rounding := range []utils.TaxRoundingMode{utils.TaxRoundingPerLine, utils.TaxRoundingPerTotal} {
		for _, behavior := range []utils.VatBehavior{utils.VatBehaviorExclusive, utils.VatBehaviorInclusive} {
			org := testOrg()
			org.TaxRounding = rounding
			org.VatBehavior = behavior
			doc := testInvoice()
			doc.Items[0].Amount = d("0.05")
			doc.Items[1].Amount = d("99.99")

			taxResult, err := calculateDocumentTotals(org, doc)
			if err != nil {
				t.Fatalf("%s/%s: %v", rounding, behavior, err)
			}
			lines, err := buildJournalLines(nil, org, doc, taxResult)
			if err != nil {
				t.Fatalf("%s/%s: %v", rounding, behavior, err)
			}
			for i := range lines {
				lines[i].LineNo = i + 1
			}
			if _, _, err := models.ValidateJournalBalance(lines); err != nil {
				t.Fatalf("%s/%s does not balance: %v", rounding, behavior, err)
			}
		}
	}
}

func TestBuildJournalLines_TinyLineInclusivePerTotal(t *testing.T) {
	// Inclusive PER_TOTAL backs the whole document's tax out at once; a tiny
	// trailing line must not absorb it and go negative, which would make a
	// valid document unpostable.
	org := testOrg()
	org.TaxRounding = utils.TaxRoundingPerTotal
	org.VatBehavior = utils.VatBehaviorInclusive
	doc := testInvoice()
	doc.Items[0].Amount = d("100")
	doc.Items[1].Amount = d("0.01")

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		t.Fatal(err)
	}
	lines, err := buildJournalLines(nil, org, doc, taxResult)
	if err != nil {
		t.Fatal(err)
	}
	for i := range lines {
		lines[i].LineNo = i + 1
		if lines[i].Debit.IsNegative() || lines[i].Credit.IsNegative() {
			t.Fatalf("line %d has a negative amount: %+v", i+1, lines[i])
		}
	}
	debit, credit, err := models.ValidateJournalBalance(lines)
	if err != nil {
		t.Fatal(err)
	}
	if !debit.Equal(d("100.01")) || !credit.Equal(d("100.01")) {
		t.Fatalf("totals = %s/%s, want 100.01 (the inclusive gross)", debit, credit)
	}
}

func TestCalculateDocumentTotals_VatDisabled(t *testing.T) {
	org := testOrg()
	org.VatEnabled = false
	doc := testInvoice()

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		t.Fatal(err)
	}
	if !taxResult.Tax.IsZero() {
		t.Fatalf("tax = %s with VAT disabled, want 0", taxResult.Tax)
	}
	if !taxResult.Total.Equal(d("120.00")) {
		t.Fatalf("total = %s, want 120.00", taxResult.Total)
	}
}

func TestCalculateDocumentTotals_PaymentsNeverTaxed(t *testing.T) {
	org := testOrg()
	doc := testInvoice()
	doc.Type = models.DocumentTypePayment

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		t.Fatal(err)
	}
	if !taxResult.Tax.IsZero() {
		t.Fatalf("payment carried tax %s", taxResult.Tax)
	}
}

func TestBuildReversalLines_SwapsSides(t *testing.T) {
	original := []models.JournalTransaction{
		{LineNo: 1, AccountId: 1, Debit: d("132.00")},
		{LineNo: 2, AccountId: 3, Credit: d("120.00")},
		{LineNo: 3, AccountId: 2, Credit: d("12.00")},
	}
	mirrored := BuildReversalLines(original)
	if len(mirrored) != len(original) {
		t.Fatalf("line count changed: %d", len(mirrored))
	}
	for i := range original {
		if mirrored[i].AccountId != original[i].AccountId {
			t.Fatalf("line %d account changed", i)
		}
		if !mirrored[i].Debit.Equal(original[i].Credit) || !mirrored[i].Credit.Equal(original[i].Debit) {
			t.Fatalf("line %d not swapped: %+v", i, mirrored[i])
		}
	}
	for i := range mirrored {
		mirrored[i].LineNo = i + 1
	}
	if _, _, err := models.ValidateJournalBalance(mirrored); err != nil {
		t.Fatalf("mirror does not balance: %v", err)
	}
}

func TestStockDirection(t *testing.T) {
	cases := map[models.DocumentType]int{
		models.DocumentTypeInvoice:        -1,
		models.DocumentTypeBill:           1,
		models.DocumentTypeCreditNote:     1,
		models.DocumentTypeOpeningBalance: 1,
		models.DocumentTypePayment:        0,
		models.DocumentTypeExpense:        0,
	}
	for docType, want := range cases {
		if got := stockDirection(docType); got != want {
			t.Fatalf("stockDirection(%s) = %d, want %d", docType, got, want)
		}
	}
}
