package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentNumberSeries is the per-organization, per-document-type counter
// behind document numbers. NextNumber is only ever advanced inside a posting
// transaction with the row locked, so numbers are gapless for committed posts.
type DocumentNumberSeries struct {
	ID             int          `gorm:"primary_key" json:"id"`
	OrganizationId string       `gorm:"size:64;not null;uniqueIndex:uniq_number_series,priority:1" json:"organization_id"`
	DocumentType   DocumentType `gorm:"size:20;not null;uniqueIndex:uniq_number_series,priority:2" json:"document_type"`
	Prefix         string       `gorm:"size:20;not null" json:"prefix"`
	NextNumber     int          `gorm:"not null;default:1" json:"next_number"`
	Padding        int          `gorm:"not null;default:4" json:"padding"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

var defaultSeriesPrefixes = map[DocumentType]string{
	DocumentTypeInvoice:        "INV-",
	DocumentTypeBill:           "BILL-",
	DocumentTypeCreditNote:     "CN-",
	DocumentTypePayment:        "PAY-",
	DocumentTypeExpense:        "EXP-",
	DocumentTypeOpeningBalance: "OB-",
}

type NewNumberSeries struct {
	DocumentType string `json:"document_type" binding:"required"`
	Prefix       string `json:"prefix"`
	NextNumber   int    `json:"next_number"`
	Padding      int    `json:"padding"`
}

// CreateNumberSeries registers or reconfigures the series for a document type.
// Moving NextNumber backwards is rejected: it would mint duplicates.
func CreateNumberSeries(ctx context.Context, organizationId string, input *NewNumberSeries) (*DocumentNumberSeries, error) {
	docType := DocumentType(input.DocumentType)
	if !docType.Valid() {
		return nil, utils.Validationf("invalid document type %q", input.DocumentType)
	}
	if input.NextNumber < 0 {
		return nil, utils.Validationf("next number must not be negative")
	}

	db := config.GetDB()
	var series DocumentNumberSeries
	err := db.WithContext(ctx).
		Where("organization_id = ? AND document_type = ?", organizationId, docType).
		First(&series).Error
	if err == gorm.ErrRecordNotFound {
		series = DocumentNumberSeries{
			OrganizationId: organizationId,
			DocumentType:   docType,
			Prefix:         input.Prefix,
			NextNumber:     1,
			Padding:        4,
		}
		if series.Prefix == "" {
			series.Prefix = defaultSeriesPrefixes[docType]
		}
		if input.NextNumber > 0 {
			series.NextNumber = input.NextNumber
		}
		if input.Padding > 0 {
			series.Padding = input.Padding
		}
		if err := db.WithContext(ctx).Create(&series).Error; err != nil {
			return nil, err
		}
		return &series, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Prefix != "" {
		updates["prefix"] = input.Prefix
	}
	if input.NextNumber > 0 {
		if input.NextNumber < series.NextNumber {
			return nil, utils.Validationf("next number %d is behind the current counter %d",
				input.NextNumber, series.NextNumber)
		}
		updates["next_number"] = input.NextNumber
	}
	if input.Padding > 0 {
		updates["padding"] = input.Padding
	}
	if len(updates) > 0 {
		if err := db.WithContext(ctx).Model(&series).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &series, nil
}

// FormatDocumentNumber renders prefix + zero-padded counter, e.g. INV-0042.
func (series *DocumentNumberSeries) FormatDocumentNumber(number int) string {
	return fmt.Sprintf("%s%0*d", series.Prefix, series.Padding, number)
}

// NextDocumentNumber allocates the next number for the type inside the
// caller's transaction. The series row is locked FOR UPDATE so concurrent
// posts serialize on the counter. If a manually numbered document already
// occupies the generated number the allocation fails with CONFLICT rather
// than silently skipping ahead.
func NextDocumentNumber(tx *gorm.DB, organizationId string, docType DocumentType) (string, error) {
	var series DocumentNumberSeries
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND document_type = ?", organizationId, docType).
		First(&series).Error
	if err == gorm.ErrRecordNotFound {
		series = DocumentNumberSeries{
			OrganizationId: organizationId,
			DocumentType:   docType,
			Prefix:         defaultSeriesPrefixes[docType],
			NextNumber:     1,
			Padding:        4,
		}
		if err := tx.Create(&series).Error; err != nil {
			return "", err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("organization_id = ? AND document_type = ?", organizationId, docType).
			First(&series).Error
	}
	if err != nil {
		return "", err
	}

	number := series.FormatDocumentNumber(series.NextNumber)

	var taken int64
	if err := tx.Model(&Document{}).
		Where("organization_id = ? AND type = ? AND document_number = ?", organizationId, docType, number).
		Count(&taken).Error; err != nil {
		return "", err
	}
	if taken > 0 {
		return "", utils.Conflictf("document number %s is already in use", number)
	}

	if err := tx.Model(&series).Update("next_number", series.NextNumber+1).Error; err != nil {
		return "", err
	}
	return number, nil
}
