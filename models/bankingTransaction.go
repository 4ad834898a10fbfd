package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconciliationSession scopes one statement period for one bank account.
// Opening/closing balances come from the statement and are informational for
// the matcher; matching itself operates line by line.
type ReconciliationSession struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"size:64;index;not null" json:"organization_id"`
	BankAccountId  int             `gorm:"not null" json:"bank_account_id"`
	PeriodStart    time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time       `gorm:"not null" json:"period_end"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_balance"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"closing_balance"`
	Reference      string          `gorm:"size:255" json:"reference"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Transactions []BankTransaction `gorm:"foreignKey:SessionId" json:"transactions"`
}

// BankTransaction is one imported statement line. IsMatched flips in the same
// transaction that writes the match bringing its remaining amount to zero.
type BankTransaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	OrganizationId  string          `gorm:"size:64;index;not null" json:"organization_id"`
	SessionId       int             `gorm:"index;not null" json:"session_id"`
	BankAccountId   int             `gorm:"not null" json:"bank_account_id"`
	TransactionDate time.Time       `gorm:"not null" json:"transaction_date"`
	Description     string          `gorm:"size:255" json:"description"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	IsMatched       bool            `gorm:"not null;default:false;index" json:"is_matched"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Matches []ReconciliationMatch `gorm:"foreignKey:BankTransactionId" json:"matches"`
}

// ReconciliationMatch allocates part of a bank transaction's amount to one
// posted journal. A journal may be matched by many bank transactions and a
// bank transaction may be split across many journals.
type ReconciliationMatch struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrganizationId    string          `gorm:"size:64;index;not null" json:"organization_id"`
	SessionId         int             `gorm:"index;not null" json:"session_id"`
	BankTransactionId int             `gorm:"index;not null" json:"bank_transaction_id"`
	JournalId         int             `gorm:"index;not null" json:"journal_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewReconciliationSession struct {
	BankAccountId  int                  `json:"bank_account_id" binding:"required"`
	PeriodStart    time.Time            `json:"period_start" binding:"required"`
	PeriodEnd      time.Time            `json:"period_end" binding:"required"`
	OpeningBalance decimal.Decimal      `json:"opening_balance"`
	ClosingBalance decimal.Decimal      `json:"closing_balance"`
	Reference      string               `json:"reference"`
	Transactions   []NewBankTransaction `json:"transactions" binding:"required,min=1"`
}

type NewBankTransaction struct {
	TransactionDate time.Time       `json:"transaction_date" binding:"required"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
}

// CreateReconciliationSession imports a statement with its lines in one shot.
func CreateReconciliationSession(ctx context.Context, organizationId string, input *NewReconciliationSession) (*ReconciliationSession, error) {
	if err := utils.ValidateResourceId[Account](ctx, organizationId, input.BankAccountId); err != nil {
		return nil, utils.Validationf("bank account not found")
	}
	if input.PeriodEnd.Before(input.PeriodStart) {
		return nil, utils.Validationf("statement period end is before its start")
	}
	for _, t := range input.Transactions {
		if t.Amount.IsZero() {
			return nil, utils.Validationf("bank transaction amount must not be zero")
		}
	}

	session := ReconciliationSession{
		OrganizationId: organizationId,
		BankAccountId:  input.BankAccountId,
		PeriodStart:    input.PeriodStart,
		PeriodEnd:      input.PeriodEnd,
		OpeningBalance: input.OpeningBalance,
		ClosingBalance: input.ClosingBalance,
		Reference:      input.Reference,
	}
	for _, t := range input.Transactions {
		session.Transactions = append(session.Transactions, BankTransaction{
			OrganizationId:  organizationId,
			BankAccountId:   input.BankAccountId,
			TransactionDate: t.TransactionDate,
			Description:     t.Description,
			Amount:          t.Amount,
		})
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func GetReconciliationSession(ctx context.Context, organizationId string, id int) (*ReconciliationSession, error) {
	return utils.FetchModel[ReconciliationSession](ctx, organizationId, id, "Transactions", "Transactions.Matches")
}

// FetchBankTransactionForMatching loads the line row-locked so two concurrent
// match requests cannot both see the same remaining amount.
func FetchBankTransactionForMatching(tx *gorm.DB, organizationId string, id int) (*BankTransaction, error) {
	var bankTxn BankTransaction
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationId).
		First(&bankTxn, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.Where("bank_transaction_id = ?", bankTxn.ID).Order("id").Find(&bankTxn.Matches).Error; err != nil {
		return nil, err
	}
	return &bankTxn, nil
}

// MatchedAmount is the sum already allocated against the bank transaction.
func (bankTxn *BankTransaction) MatchedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, m := range bankTxn.Matches {
		total = total.Add(m.Amount)
	}
	return total
}
