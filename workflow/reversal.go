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

type VoidDocumentResult struct {
	Document        *models.Document `json:"document"`
	ReversalJournal *models.Journal  `json:"reversal_journal"`
}

// BuildReversalLines mirrors a journal's lines with debit and credit swapped.
// Line order and amounts are preserved exactly.
func BuildReversalLines(original []models.JournalTransaction) []models.JournalTransaction {
	mirrored := make([]models.JournalTransaction, 0, len(original))
	for _, line := range original {
		mirrored = append(mirrored, models.JournalTransaction{
			AccountId:   line.AccountId,
			Description: line.Description,
			Debit:       line.Credit,
			Credit:      line.Debit,
		})
	}
	return mirrored
}

// VoidDocument voids a posted document: mirror journal, REVERSED flip on the
// original, counter stock movements, Void status, audit entry. All in the
// caller's transaction. Voiding an already-void document returns the existing
// reversal instead of failing.
func VoidDocument(ctx context.Context, tx *gorm.DB, logger *logrus.Logger,
	organizationId string, documentId int, reason string) (*VoidDocumentResult, error) {

	org, err := models.GetOrganizationById2(tx, organizationId)
	if err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "GetOrganization", organizationId, err)
		return nil, err
	}
	doc, err := models.FetchDocumentForPosting(tx, organizationId, documentId)
	if err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "FetchDocument", documentId, err)
		return nil, err
	}

	if doc.Status == models.DocumentStatusVoid {
		return existingReversal(tx, organizationId, doc)
	}
	if doc.Status != models.DocumentStatusPosted || doc.JournalId == nil {
		return nil, utils.Conflictf("document %d is not posted, nothing to void", doc.ID)
	}
	if doc.AmountPaid.IsPositive() {
		return nil, utils.Conflictf("document %d has %s applied, unapply payments before voiding",
			doc.ID, utils.FormatMoney(doc.AmountPaid))
	}
	if err := org.CheckLockDate(doc.EffectiveDate); err != nil {
		return nil, err
	}

	before := *doc

	journal, err := models.FetchJournalForReversal(tx, organizationId, *doc.JournalId)
	if err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "FetchJournal", *doc.JournalId, err)
		return nil, err
	}
	if journal.Status == models.JournalStatusReversed {
		return nil, utils.Conflictf("journal %d is already reversed", journal.ID)
	}

	reversal := models.Journal{
		OrganizationId:    organizationId,
		JournalNumber:     journal.JournalNumber + "-R",
		JournalDate:       doc.EffectiveDate,
		Currency:          journal.Currency,
		SourceType:        journal.SourceType,
		SourceId:          journal.SourceId,
		IsReversal:        true,
		ReversesJournalId: &journal.ID,
		ReversalReason:    utils.NilIfEmpty(reason),
		Transactions:      BuildReversalLines(journal.Transactions),
	}
	if err := models.InsertJournal(tx, &reversal); err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "InsertJournal", journal.ID, err)
		return nil, err
	}

	if err := tx.Model(journal).Updates(map[string]interface{}{
		"status":                 models.JournalStatusReversed,
		"reversed_by_journal_id": reversal.ID,
	}).Error; err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "Update journal", journal.ID, err)
		return nil, err
	}

	if err := ReverseDocumentStock(tx, logger, organizationId, doc); err != nil {
		return nil, err
	}

	if doc.Type == models.DocumentTypePayment && doc.AppliedToDocumentId != nil {
		if err := unapplyPayment(tx, organizationId, doc); err != nil {
			return nil, err
		}
	}

	if err := tx.Model(doc).Update("status", models.DocumentStatusVoid).Error; err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "Update document", doc.ID, err)
		return nil, err
	}
	doc.Status = models.DocumentStatusVoid

	description := fmt.Sprintf("%s %s voided", doc.Type, utils.DereferencePtr(doc.DocumentNumber))
	if err := models.WriteAuditLog(ctx, tx, models.AuditActionVoid, doc.Type, doc.ID,
		before, doc, description, utils.NilIfEmpty(reason)); err != nil {
		config.LogError(logger, "reversal.go", "VoidDocument", "WriteAuditLog", doc.ID, err)
		return nil, err
	}

	return &VoidDocumentResult{Document: doc, ReversalJournal: &reversal}, nil
}

// existingReversal resolves the reversal journal for an already-void document
// so repeated void requests return the same result.
func existingReversal(tx *gorm.DB, organizationId string, doc *models.Document) (*VoidDocumentResult, error) {
	result := &VoidDocumentResult{Document: doc}
	if doc.JournalId == nil {
		return result, nil
	}
	var reversal models.Journal
	err := tx.Where("organization_id = ? AND reverses_journal_id = ?", organizationId, *doc.JournalId).
		First(&reversal).Error
	if err == gorm.ErrRecordNotFound {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("journal_id = ?", reversal.ID).Order("line_no").Find(&reversal.Transactions).Error; err != nil {
		return nil, err
	}
	result.ReversalJournal = &reversal
	return result, nil
}

// unapplyPayment rolls the settlement off the target document when the
// payment itself is voided.
func unapplyPayment(tx *gorm.DB, organizationId string, payment *models.Document) error {
	target, err := models.FetchDocumentForPosting(tx, organizationId, *payment.AppliedToDocumentId)
	if err != nil {
		return err
	}
	newPaid := target.AmountPaid.Sub(payment.Total)
	if newPaid.IsNegative() {
		newPaid = decimal.Zero
	}
	return tx.Model(target).Update("amount_paid", newPaid).Error
}
