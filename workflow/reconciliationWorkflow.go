package workflow

import (
	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type MatchBankTransactionInput struct {
	SessionId         int             `json:"session_id" binding:"required"`
	BankTransactionId int             `json:"bank_transaction_id" binding:"required"`
	JournalId         int             `json:"journal_id" binding:"required"`
	Amount            decimal.Decimal `json:"amount" binding:"required"`
}

type MatchBankTransactionResult struct {
	Match           *models.ReconciliationMatch `json:"match"`
	BankTransaction *models.BankTransaction     `json:"bank_transaction"`
	Remaining       decimal.Decimal             `json:"remaining"`
}

// MatchBankTransaction allocates part of a bank transaction to a posted
// journal. The bank transaction is row-locked for the remaining-amount check;
// over-allocation is a CONFLICT. The matched flag flips in the same
// transaction when the allocation exhausts the line.
func MatchBankTransaction(tx *gorm.DB, logger *logrus.Logger,
	organizationId string, input *MatchBankTransactionInput) (*MatchBankTransactionResult, error) {

	if !input.Amount.IsPositive() {
		return nil, utils.Validationf("match amount must be positive")
	}

	bankTxn, err := models.FetchBankTransactionForMatching(tx, organizationId, input.BankTransactionId)
	if err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "MatchBankTransaction", "FetchBankTransaction", input.BankTransactionId, err)
		return nil, err
	}
	if bankTxn.SessionId != input.SessionId {
		return nil, utils.Validationf("bank transaction %d does not belong to session %d",
			bankTxn.ID, input.SessionId)
	}

	var journal models.Journal
	if err := tx.Where("organization_id = ?", organizationId).First(&journal, input.JournalId).Error; err != nil {
		return nil, utils.Validationf("journal %d not found", input.JournalId)
	}
	if journal.Status != models.JournalStatusPosted {
		return nil, utils.Conflictf("journal %d is %s, only posted journals can be matched",
			journal.ID, journal.Status)
	}

	// Remaining compares magnitudes so withdrawal lines (negative statement
	// amounts) allocate the same way deposits do.
	remaining := bankTxn.Amount.Abs().Sub(bankTxn.MatchedAmount())
	if input.Amount.GreaterThan(remaining) {
		return nil, utils.Conflictf("match of %s exceeds remaining %s on bank transaction %d",
			utils.FormatMoney(input.Amount), utils.FormatMoney(remaining), bankTxn.ID).
			WithDetail("remaining", utils.FormatMoney(remaining))
	}

	match := models.ReconciliationMatch{
		OrganizationId:    organizationId,
		SessionId:         bankTxn.SessionId,
		BankTransactionId: bankTxn.ID,
		JournalId:         journal.ID,
		Amount:            input.Amount,
	}
	if err := tx.Create(&match).Error; err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "MatchBankTransaction", "Create match", bankTxn.ID, err)
		return nil, err
	}
	bankTxn.Matches = append(bankTxn.Matches, match)

	remaining = remaining.Sub(input.Amount)
	if remaining.IsZero() && !bankTxn.IsMatched {
		if err := tx.Model(bankTxn).Update("is_matched", true).Error; err != nil {
			config.LogError(logger, "reconciliationWorkflow.go", "MatchBankTransaction", "Update is_matched", bankTxn.ID, err)
			return nil, err
		}
		bankTxn.IsMatched = true
	}

	return &MatchBankTransactionResult{
		Match:           &match,
		BankTransaction: bankTxn,
		Remaining:       remaining,
	}, nil
}

// UnmatchBankTransaction removes one allocation and clears the matched flag.
func UnmatchBankTransaction(tx *gorm.DB, logger *logrus.Logger,
	organizationId string, matchId int) (*models.BankTransaction, error) {

	var match models.ReconciliationMatch
	if err := tx.Where("organization_id = ?", organizationId).First(&match, matchId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	bankTxn, err := models.FetchBankTransactionForMatching(tx, organizationId, match.BankTransactionId)
	if err != nil {
		return nil, err
	}
	if err := tx.Delete(&match).Error; err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "UnmatchBankTransaction", "Delete match", matchId, err)
		return nil, err
	}
	if bankTxn.IsMatched {
		if err := tx.Model(bankTxn).Update("is_matched", false).Error; err != nil {
			return nil, err
		}
		bankTxn.IsMatched = false
	}
	kept := bankTxn.Matches[:0]
	for _, m := range bankTxn.Matches {
		if m.ID != match.ID {
			kept = append(kept, m)
		}
	}
	bankTxn.Matches = kept
	return bankTxn, nil
}
