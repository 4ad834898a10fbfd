package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

type DocumentType string

const (
	DocumentTypeInvoice        DocumentType = "Invoice"
	DocumentTypeBill           DocumentType = "Bill"
	DocumentTypeCreditNote     DocumentType = "CreditNote"
	DocumentTypePayment        DocumentType = "Payment"
	DocumentTypeExpense        DocumentType = "Expense"
	DocumentTypeOpeningBalance DocumentType = "OpeningBalance"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypeInvoice, DocumentTypeBill, DocumentTypeCreditNote,
		DocumentTypePayment, DocumentTypeExpense, DocumentTypeOpeningBalance:
		return true
	}
	return false
}

func (t *DocumentType) Scan(value interface{}) error {
	s, ok := value.([]byte)
	if !ok {
		str, ok2 := value.(string)
		if !ok2 {
			return errors.New("document type must be string")
		}
		s = []byte(str)
	}
	*t = DocumentType(s)
	if !t.Valid() {
		return fmt.Errorf("invalid document type %q", string(s))
	}
	return nil
}

func (t DocumentType) Value() (driver.Value, error) {
	return string(t), nil
}

type DocumentStatus string

const (
	DocumentStatusDraft  DocumentStatus = "Draft"
	DocumentStatusPosted DocumentStatus = "Posted"
	DocumentStatusVoid   DocumentStatus = "Void"
)

type JournalStatus string

const (
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
)

type AccountMainType string

const (
	AccountMainTypeAsset     AccountMainType = "Asset"
	AccountMainTypeLiability AccountMainType = "Liability"
	AccountMainTypeEquity    AccountMainType = "Equity"
	AccountMainTypeIncome    AccountMainType = "Income"
	AccountMainTypeExpense   AccountMainType = "Expense"
)

func (t AccountMainType) Valid() bool {
	switch t {
	case AccountMainTypeAsset, AccountMainTypeLiability, AccountMainTypeEquity,
		AccountMainTypeIncome, AccountMainTypeExpense:
		return true
	}
	return false
}

type NegativeStockPolicy string

const (
	NegativeStockPolicyBlock NegativeStockPolicy = "BLOCK"
	NegativeStockPolicyWarn  NegativeStockPolicy = "WARN"
)

type AuditAction string

const (
	AuditActionPost AuditAction = "POST"
	AuditActionVoid AuditAction = "VOID"
)
