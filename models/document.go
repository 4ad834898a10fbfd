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

// Document is a business document (invoice, bill, credit note, payment,
// expense, opening balance) in its lifecycle Draft -> Posted -> Void.
// Financial fields are frozen once posted; only status and links change after.
type Document struct {
	ID             int            `gorm:"primary_key" json:"id"`
	OrganizationId string         `gorm:"size:64;index;not null;uniqueIndex:uniq_doc_number,priority:1" json:"organization_id"`
	Type           DocumentType   `gorm:"size:20;not null;uniqueIndex:uniq_doc_number,priority:2" json:"type"`
	Status         DocumentStatus `gorm:"size:10;not null;default:Draft;index" json:"status"`
	DocumentNumber *string        `gorm:"size:100;uniqueIndex:uniq_doc_number,priority:3" json:"document_number"`
	EffectiveDate  time.Time      `gorm:"not null" json:"effective_date"`
	Currency       string         `gorm:"size:3;not null" json:"currency"`
	Notes          string         `gorm:"type:text" json:"notes"`

	// ContraAccountId is the balancing side of the posting: AR for invoices,
	// AP for bills, the cash/bank account for payments and expenses, the
	// opening-balance equity account for opening balances.
	ContraAccountId int `gorm:"not null" json:"contra_account_id"`
	// TaxAccountId receives the VAT portion (output tax on sales, input tax
	// on purchases). Required when the document carries a non-zero tax rate.
	TaxAccountId int             `json:"tax_account_id"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_rate"`

	// CreditedDocumentId ties a credit note to the sale it credits so COGS
	// reversal reuses that sale's recorded unit cost.
	CreditedDocumentId *int `gorm:"index" json:"credited_document_id"`
	// AppliedToDocumentId ties a payment to the document it settles.
	AppliedToDocumentId *int `gorm:"index" json:"applied_to_document_id"`

	Subtotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxTotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_total"`
	Total      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	AmountPaid decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_paid"`

	JournalId *int           `gorm:"index" json:"journal_id"`
	Items     []DocumentItem `gorm:"foreignKey:DocumentId" json:"items"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type DocumentItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	DocumentId  int             `gorm:"index;not null" json:"document_id"`
	Description string          `gorm:"size:255" json:"description"`
	AccountId   int             `gorm:"not null" json:"account_id"`
	ItemId      int             `gorm:"index" json:"item_id"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
}

type NewDocument struct {
	Type                string            `json:"type" binding:"required,doctype"`
	DocumentNumber      *string           `json:"document_number"`
	EffectiveDate       time.Time         `json:"effective_date" binding:"required"`
	Currency            string            `json:"currency" binding:"required,len=3"`
	Notes               string            `json:"notes"`
	ContraAccountId     int               `json:"contra_account_id" binding:"required"`
	TaxAccountId        int               `json:"tax_account_id"`
	TaxRate             decimal.Decimal   `json:"tax_rate"`
	CreditedDocumentId  *int              `json:"credited_document_id"`
	AppliedToDocumentId *int              `json:"applied_to_document_id"`
	Items               []NewDocumentItem `json:"items" binding:"required,min=1"`
}

type NewDocumentItem struct {
	Description string          `json:"description"`
	AccountId   int             `json:"account_id" binding:"required"`
	ItemId      int             `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// validate draft input. Posting-time invariants (lock date, currency,
// account activity) are re-checked inside the posting transaction; this only
// rejects drafts that could never post.
func (input *NewDocument) validate(ctx context.Context, organizationId string) error {
	docType := DocumentType(input.Type)
	if !docType.Valid() {
		return utils.Validationf("invalid document type %q", input.Type)
	}
	if len(input.Items) == 0 {
		return utils.Validationf("document needs at least one item")
	}
	if input.TaxRate.IsNegative() {
		return utils.Validationf("tax rate must not be negative")
	}
	if !input.TaxRate.IsZero() && input.TaxAccountId == 0 {
		return utils.Validationf("tax account is required when a tax rate is set")
	}
	if err := utils.ValidateResourceId[Account](ctx, organizationId, input.ContraAccountId); err != nil {
		return utils.Validationf("contra account not found")
	}
	if input.TaxAccountId != 0 {
		if err := utils.ValidateResourceId[Account](ctx, organizationId, input.TaxAccountId); err != nil {
			return utils.Validationf("tax account not found")
		}
	}
	if input.CreditedDocumentId != nil {
		if err := utils.ValidateResourceId[Document](ctx, organizationId, *input.CreditedDocumentId); err != nil {
			return utils.Validationf("credited document not found")
		}
	}
	if input.AppliedToDocumentId != nil {
		if err := utils.ValidateResourceId[Document](ctx, organizationId, *input.AppliedToDocumentId); err != nil {
			return utils.Validationf("applied-to document not found")
		}
	}
	for _, item := range input.Items {
		if err := utils.ValidateResourceId[Account](ctx, organizationId, item.AccountId); err != nil {
			return utils.Validationf("item account %d not found", item.AccountId)
		}
		if item.ItemId != 0 {
			if err := utils.ValidateResourceId[Item](ctx, organizationId, item.ItemId); err != nil {
				return utils.Validationf("item %d not found", item.ItemId)
			}
		}
		if item.Quantity.IsNegative() || item.UnitPrice.IsNegative() {
			return utils.Validationf("item quantity and unit price must not be negative")
		}
	}
	return nil
}

func CreateDraftDocument(ctx context.Context, organizationId string, input *NewDocument) (*Document, error) {
	if err := input.validate(ctx, organizationId); err != nil {
		return nil, err
	}

	items := make([]DocumentItem, 0, len(input.Items))
	for _, it := range input.Items {
		amount := it.Quantity.Mul(it.UnitPrice)
		if it.Quantity.IsZero() {
			amount = it.UnitPrice
		}
		items = append(items, DocumentItem{
			Description: it.Description,
			AccountId:   it.AccountId,
			ItemId:      it.ItemId,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      amount,
		})
	}

	doc := Document{
		OrganizationId:      organizationId,
		Type:                DocumentType(input.Type),
		Status:              DocumentStatusDraft,
		DocumentNumber:      input.DocumentNumber,
		EffectiveDate:       input.EffectiveDate,
		Currency:            input.Currency,
		Notes:               input.Notes,
		ContraAccountId:     input.ContraAccountId,
		TaxAccountId:        input.TaxAccountId,
		TaxRate:             input.TaxRate,
		CreditedDocumentId:  input.CreditedDocumentId,
		AppliedToDocumentId: input.AppliedToDocumentId,
		Items:               items,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func GetDocument(ctx context.Context, organizationId string, id int) (*Document, error) {
	return utils.FetchModel[Document](ctx, organizationId, id, "Items")
}

// FetchDocumentForPosting loads the document row-locked inside the posting
// transaction. This closes the race where two concurrent requests both see
// status Draft before either commits.
func FetchDocumentForPosting(tx *gorm.DB, organizationId string, id int) (*Document, error) {
	var doc Document
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationId).
		First(&doc, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := tx.Where("document_id = ?", doc.ID).Order("id").Find(&doc.Items).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}
