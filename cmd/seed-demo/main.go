// seed-demo provisions a demo organization with a minimal chart of accounts,
// two items (one stock-tracked) and the default number series, then posts one
// opening-balance document so the ledger starts non-empty.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func mustAccount(ctx context.Context, orgId, name string, mainType models.AccountMainType) *models.Account {
	account, err := models.CreateAccount(ctx, orgId, &models.NewAccount{
		Name:     name,
		MainType: string(mainType),
	})
	if err != nil {
		fatal("failed to create account %s: %v", name, err)
	}
	return account
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fatal("database not initialized (config.GetDB returned nil). Set DB_* env vars.")
	}
	models.MigrateTable()

	org, err := models.CreateOrganization(ctx, &models.NewOrganization{
		Name:         "Demo Trading Co",
		BaseCurrency: "USD",
		Timezone:     "UTC",
		VatEnabled:   true,
	})
	if err != nil {
		fatal("failed to create organization: %v", err)
	}
	ctx = utils.SetOrganizationIdInContext(ctx, org.ID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	cash := mustAccount(ctx, org.ID, "Cash at Bank", models.AccountMainTypeAsset)
	mustAccount(ctx, org.ID, "Accounts Receivable", models.AccountMainTypeAsset)
	inventory := mustAccount(ctx, org.ID, "Inventory", models.AccountMainTypeAsset)
	mustAccount(ctx, org.ID, "VAT Payable", models.AccountMainTypeLiability)
	equity := mustAccount(ctx, org.ID, "Opening Balance Equity", models.AccountMainTypeEquity)
	mustAccount(ctx, org.ID, "Sales Revenue", models.AccountMainTypeIncome)
	cogs := mustAccount(ctx, org.ID, "Cost of Goods Sold", models.AccountMainTypeExpense)

	_, err = models.CreateItem(ctx, org.ID, &models.NewItem{
		Name:               "Widget",
		Sku:                "WID-001",
		IsStockTracked:     true,
		StandardCost:       decimal.NewFromInt(7),
		InventoryAccountId: inventory.ID,
		CogsAccountId:      cogs.ID,
	})
	if err != nil {
		fatal("failed to create item: %v", err)
	}
	_, err = models.CreateItem(ctx, org.ID, &models.NewItem{
		Name: "Consulting Hour",
		Sku:  "SVC-001",
	})
	if err != nil {
		fatal("failed to create item: %v", err)
	}

	opening, err := models.CreateDraftDocument(ctx, org.ID, &models.NewDocument{
		Type:            string(models.DocumentTypeOpeningBalance),
		EffectiveDate:   time.Now().AddDate(0, 0, -1),
		Currency:        "USD",
		Notes:           "Initial funding",
		ContraAccountId: equity.ID,
		Items: []models.NewDocumentItem{
			{Description: "Opening cash", AccountId: cash.ID, UnitPrice: decimal.NewFromInt(10000)},
		},
	})
	if err != nil {
		fatal("failed to create opening balance draft: %v", err)
	}

	logger := config.GetLogger()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := workflow.PostDocument(ctx, tx, logger, org.ID, opening.ID, nil)
		return err
	})
	if err != nil {
		fatal("failed to post opening balance: %v", err)
	}

	fmt.Printf("seeded organization %s (%s)\n", org.Name, org.ID)
}
