package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Journal is one immutable double-entry GL transaction. It is created
// atomically with its transactions and never updated afterwards except for
// the REVERSED status transition and the reversal back-reference.
type Journal struct {
	ID             int           `gorm:"primary_key" json:"id"`
	OrganizationId string        `gorm:"size:64;index;not null" json:"organization_id"`
	JournalNumber  string        `gorm:"size:100;not null" json:"journal_number"`
	JournalDate    time.Time     `gorm:"not null" json:"journal_date"`
	Currency       string        `gorm:"size:3;not null" json:"currency"`
	Status         JournalStatus `gorm:"size:10;not null;default:POSTED;index" json:"status"`

	// One journal per source document (and at most one reversal of it),
	// enforced by the unique triple.
	SourceType DocumentType `gorm:"size:20;not null;uniqueIndex:uniq_journal_source,priority:1" json:"source_type"`
	SourceId   int          `gorm:"not null;uniqueIndex:uniq_journal_source,priority:2" json:"source_id"`

	TotalDebit  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_debit"`
	TotalCredit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_credit"`

	IsReversal          bool    `gorm:"not null;default:false;uniqueIndex:uniq_journal_source,priority:3" json:"is_reversal"`
	ReversesJournalId   *int    `gorm:"index" json:"reverses_journal_id"`
	ReversedByJournalId *int    `gorm:"index" json:"reversed_by_journal_id"`
	ReversalReason      *string `gorm:"type:text" json:"reversal_reason"`

	Transactions []JournalTransaction `gorm:"foreignKey:JournalId" json:"transactions"`
	CreatedAt    time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// JournalTransaction is one debit or credit row. Exactly one of Debit/Credit
// is non-zero; LineNo is 1-based and display-only.
type JournalTransaction struct {
	ID          int             `gorm:"primary_key" json:"id"`
	JournalId   int             `gorm:"index;not null" json:"journal_id"`
	LineNo      int             `gorm:"not null" json:"line_no"`
	AccountId   int             `gorm:"index;not null" json:"account_id"`
	Description string          `gorm:"size:255" json:"description"`
	Debit       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit"`
}

// ValidateJournalBalance enforces the core invariant before any insert:
// every line carries exactly one non-zero side, no side is negative, and
// sum(debit) == sum(credit).
func ValidateJournalBalance(transactions []JournalTransaction) (totalDebit, totalCredit decimal.Decimal, err error) {
	totalDebit = decimal.Zero
	totalCredit = decimal.Zero
	if len(transactions) < 2 {
		return totalDebit, totalCredit, utils.Validationf("journal needs at least two lines")
	}
	for _, t := range transactions {
		if t.Debit.IsNegative() || t.Credit.IsNegative() {
			return totalDebit, totalCredit, utils.Validationf("journal line %d has a negative amount", t.LineNo)
		}
		if t.Debit.IsZero() == t.Credit.IsZero() {
			return totalDebit, totalCredit, utils.Validationf("journal line %d must have exactly one of debit/credit", t.LineNo)
		}
		totalDebit = totalDebit.Add(t.Debit)
		totalCredit = totalCredit.Add(t.Credit)
	}
	if !totalDebit.Equal(totalCredit) {
		return totalDebit, totalCredit, utils.Validationf("journal does not balance: debit %s != credit %s",
			totalDebit.String(), totalCredit.String())
	}
	return totalDebit, totalCredit, nil
}

// InsertJournal validates balance, stamps line numbers and totals, and
// creates header + lines through the caller's transaction.
func InsertJournal(tx *gorm.DB, journal *Journal) error {
	for i := range journal.Transactions {
		journal.Transactions[i].LineNo = i + 1
	}
	totalDebit, totalCredit, err := ValidateJournalBalance(journal.Transactions)
	if err != nil {
		return err
	}
	journal.TotalDebit = totalDebit
	journal.TotalCredit = totalCredit
	journal.Status = JournalStatusPosted
	return tx.Create(journal).Error
}

// FetchJournalForReversal loads the journal row-locked so concurrent void
// attempts serialize on it.
func FetchJournalForReversal(tx *gorm.DB, organizationId string, id int) (*Journal, error) {
	var journal Journal
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationId).
		First(&journal, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.Where("journal_id = ?", journal.ID).Order("line_no").Find(&journal.Transactions).Error; err != nil {
		return nil, err
	}
	return &journal, nil
}

func GetJournal(ctx context.Context, organizationId string, id int) (*Journal, error) {
	return utils.FetchModel[Journal](ctx, organizationId, id, "Transactions")
}
