package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PostDocumentOptions struct {
	// OverrideReason permits posting past a BLOCK negative-stock policy.
	// It is recorded in the audit trail.
	OverrideReason *string `json:"override_reason"`
}

type PostDocumentResult struct {
	Document *models.Document `json:"document"`
	Journal  *models.Journal  `json:"journal"`
	Warnings []StockWarning   `json:"warnings,omitempty"`
}

// PostDocument runs the full posting pipeline inside the caller's
// transaction: gate checks, tax totals, balanced journal lines, stock
// movements, number assignment, journal insert, status flip, audit entry.
// Any error rolls the whole posting back.
func PostDocument(ctx context.Context, tx *gorm.DB, logger *logrus.Logger,
	organizationId string, documentId int, opts *PostDocumentOptions) (*PostDocumentResult, error) {

	if opts == nil {
		opts = &PostDocumentOptions{}
	}

	org, err := models.GetOrganizationById2(tx, organizationId)
	if err != nil {
		config.LogError(logger, "posting.go", "PostDocument", "GetOrganization", organizationId, err)
		return nil, err
	}
	doc, err := models.FetchDocumentForPosting(tx, organizationId, documentId)
	if err != nil {
		config.LogError(logger, "posting.go", "PostDocument", "FetchDocument", documentId, err)
		return nil, err
	}

	switch doc.Status {
	case models.DocumentStatusPosted:
		return nil, utils.Conflictf("document %d is already posted", doc.ID)
	case models.DocumentStatusVoid:
		return nil, utils.Conflictf("document %d is void", doc.ID)
	}
	if doc.Currency != org.BaseCurrency {
		return nil, utils.MultiCurrencyf("document currency %s differs from base currency %s",
			doc.Currency, org.BaseCurrency)
	}
	if err := org.CheckLockDate(doc.EffectiveDate); err != nil {
		return nil, err
	}

	before := *doc

	taxResult, err := calculateDocumentTotals(org, doc)
	if err != nil {
		return nil, err
	}

	lines, err := buildJournalLines(tx, org, doc, taxResult)
	if err != nil {
		return nil, err
	}

	stock, err := ProcessDocumentStock(tx, logger, org, doc, opts.OverrideReason)
	if err != nil {
		return nil, err
	}
	lines = append(lines, stock.CogsLines...)

	accountIds := make([]int, 0, len(lines))
	for _, line := range lines {
		accountIds = append(accountIds, line.AccountId)
	}
	if err := models.ValidatePostingAccounts(tx, organizationId, accountIds); err != nil {
		return nil, err
	}

	documentNumber, err := resolveDocumentNumber(tx, organizationId, doc)
	if err != nil {
		return nil, err
	}

	journal := models.Journal{
		OrganizationId: organizationId,
		JournalNumber:  documentNumber,
		JournalDate:    doc.EffectiveDate,
		Currency:       doc.Currency,
		SourceType:     doc.Type,
		SourceId:       doc.ID,
		Transactions:   lines,
	}
	if err := models.InsertJournal(tx, &journal); err != nil {
		config.LogError(logger, "posting.go", "PostDocument", "InsertJournal", doc.ID, err)
		return nil, err
	}

	for i := range stock.Movements {
		if err := tx.Create(&stock.Movements[i]).Error; err != nil {
			config.LogError(logger, "posting.go", "PostDocument", "Create movement", stock.Movements[i].ItemId, err)
			return nil, err
		}
	}

	if doc.Type == models.DocumentTypePayment && doc.AppliedToDocumentId != nil {
		if err := applyPayment(tx, organizationId, doc, taxResult.Total); err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{
		"status":          models.DocumentStatusPosted,
		"document_number": documentNumber,
		"journal_id":      journal.ID,
		"subtotal":        taxResult.Subtotal,
		"tax_total":       taxResult.Tax,
		"total":           taxResult.Total,
	}
	if err := tx.Model(doc).Updates(updates).Error; err != nil {
		config.LogError(logger, "posting.go", "PostDocument", "Update document", doc.ID, err)
		return nil, err
	}
	doc.Status = models.DocumentStatusPosted
	doc.DocumentNumber = &documentNumber
	doc.JournalId = &journal.ID
	doc.Subtotal = taxResult.Subtotal
	doc.TaxTotal = taxResult.Tax
	doc.Total = taxResult.Total

	description := fmt.Sprintf("%s %s posted for %s %s",
		doc.Type, documentNumber, doc.Currency, utils.FormatMoney(doc.Total))
	if err := models.WriteAuditLog(ctx, tx, models.AuditActionPost, doc.Type, doc.ID,
		before, doc, description, opts.OverrideReason); err != nil {
		config.LogError(logger, "posting.go", "PostDocument", "WriteAuditLog", doc.ID, err)
		return nil, err
	}

	return &PostDocumentResult{Document: doc, Journal: &journal, Warnings: stock.Warnings}, nil
}

// calculateDocumentTotals runs the tax calculator with the organization's
// rounding and VAT behavior. Payments never carry tax regardless of settings.
func calculateDocumentTotals(org *models.Organization, doc *models.Document) (*utils.DocumentTaxResult, error) {
	amounts := make([]decimal.Decimal, 0, len(doc.Items))
	for _, line := range doc.Items {
		amounts = append(amounts, utils.RoundMoney(line.Amount))
	}

	rate := doc.TaxRate
	if !org.VatEnabled || doc.Type == models.DocumentTypePayment || doc.Type == models.DocumentTypeOpeningBalance {
		rate = decimal.Zero
	}
	return utils.CalculateDocumentTax(amounts, rate, org.TaxRounding, org.VatBehavior)
}

// buildJournalLines constructs the balanced debit/credit set for the document
// type. The contra account always carries the grand total on one side; item
// lines carry their net amounts on the other, with the tax account taking the
// VAT portion alongside the item lines.
func buildJournalLines(tx *gorm.DB, org *models.Organization, doc *models.Document,
	taxResult *utils.DocumentTaxResult) ([]models.JournalTransaction, error) {

	if doc.Type == models.DocumentTypeOpeningBalance {
		return buildOpeningBalanceLines(tx, org, doc)
	}

	// contraDebit: the contra account sits on the debit side and the item
	// lines credit. Mirrored for the other types.
	var contraDebit bool
	switch doc.Type {
	case models.DocumentTypeInvoice, models.DocumentTypePayment:
		contraDebit = true
	case models.DocumentTypeBill, models.DocumentTypeCreditNote, models.DocumentTypeExpense:
		contraDebit = false
	default:
		return nil, utils.Validationf("unsupported document type %q", doc.Type)
	}

	// Line subtotals sum to total minus tax in every rounding mode (the
	// calculator apportions the PER_TOTAL rounding across lines), so the
	// line set balances by construction.
	var lines []models.JournalTransaction
	for i, item := range doc.Items {
		net := taxResult.Lines[i].Subtotal
		if net.IsZero() {
			continue
		}
		line := models.JournalTransaction{AccountId: item.AccountId, Description: item.Description}
		if contraDebit {
			line.Credit = net
		} else {
			line.Debit = net
		}
		lines = append(lines, line)
	}
	if taxResult.Tax.IsPositive() {
		taxLine := models.JournalTransaction{AccountId: doc.TaxAccountId, Description: "VAT"}
		if contraDebit {
			taxLine.Credit = taxResult.Tax
		} else {
			taxLine.Debit = taxResult.Tax
		}
		lines = append(lines, taxLine)
	}

	contra := models.JournalTransaction{AccountId: doc.ContraAccountId, Description: doc.Notes}
	if contraDebit {
		contra.Debit = taxResult.Total
	} else {
		contra.Credit = taxResult.Total
	}
	return append([]models.JournalTransaction{contra}, lines...), nil
}

// buildOpeningBalanceLines books each line on the account's natural side
// (debit for assets and expenses, credit for the rest) and offsets the net
// difference against the opening-balance equity account.
func buildOpeningBalanceLines(tx *gorm.DB, org *models.Organization, doc *models.Document) ([]models.JournalTransaction, error) {
	var lines []models.JournalTransaction
	balance := decimal.Zero

	for _, item := range doc.Items {
		amount := utils.RoundMoney(item.Amount)
		if amount.IsZero() {
			continue
		}
		var account models.Account
		if err := tx.Where("organization_id = ?", org.ID).First(&account, item.AccountId).Error; err != nil {
			return nil, utils.Validationf("account %d not found", item.AccountId)
		}
		line := models.JournalTransaction{AccountId: account.ID, Description: item.Description}
		switch account.MainType {
		case models.AccountMainTypeAsset, models.AccountMainTypeExpense:
			line.Debit = amount
			balance = balance.Add(amount)
		default:
			line.Credit = amount
			balance = balance.Sub(amount)
		}
		lines = append(lines, line)
	}

	if !balance.IsZero() {
		offset := models.JournalTransaction{AccountId: doc.ContraAccountId, Description: "Opening balance offset"}
		if balance.IsPositive() {
			offset.Credit = balance
		} else {
			offset.Debit = balance.Neg()
		}
		lines = append(lines, offset)
	}
	return lines, nil
}

// resolveDocumentNumber keeps a manual number if the draft carries one,
// otherwise draws the next number from the type's series. Manual numbers are
// checked against existing documents so the collision surfaces as CONFLICT
// instead of a bare duplicate-key error at commit.
func resolveDocumentNumber(tx *gorm.DB, organizationId string, doc *models.Document) (string, error) {
	if doc.DocumentNumber != nil && *doc.DocumentNumber != "" {
		var taken int64
		if err := tx.Model(&models.Document{}).
			Where("organization_id = ? AND type = ? AND document_number = ? AND id != ?",
				organizationId, doc.Type, *doc.DocumentNumber, doc.ID).
			Count(&taken).Error; err != nil {
			return "", err
		}
		if taken > 0 {
			return "", utils.Conflictf("document number %s is already in use", *doc.DocumentNumber)
		}
		return *doc.DocumentNumber, nil
	}
	return models.NextDocumentNumber(tx, organizationId, doc.Type)
}

// applyPayment records the settlement against the target document. The target
// is row-locked so concurrent payments cannot overpay it together.
func applyPayment(tx *gorm.DB, organizationId string, payment *models.Document, amount decimal.Decimal) error {
	target, err := models.FetchDocumentForPosting(tx, organizationId, *payment.AppliedToDocumentId)
	if err != nil {
		return utils.Validationf("applied-to document not found")
	}
	if target.Status != models.DocumentStatusPosted {
		return utils.Conflictf("document %d is not posted, cannot apply payment", target.ID)
	}
	newPaid := target.AmountPaid.Add(amount)
	if newPaid.GreaterThan(target.Total) {
		return utils.Validationf("payment of %s would overpay document %d (outstanding %s)",
			utils.FormatMoney(amount), target.ID, utils.FormatMoney(target.Total.Sub(target.AmountPaid)))
	}
	return tx.Model(target).Update("amount_paid", newPaid).Error
}
