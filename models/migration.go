package models

import (
	"log"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Organization{},
		&Account{},
		&Item{},
		&Document{}, &DocumentItem{},
		&Journal{}, &JournalTransaction{},
		&DocumentNumberSeries{},
		&InventoryMovement{},
		&ReconciliationSession{}, &BankTransaction{}, &ReconciliationMatch{},
		&IdempotencyRecord{},
		&AuditLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
