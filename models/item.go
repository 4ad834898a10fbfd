package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
)

// Item is a sellable/purchasable good. Stock-tracked items additionally carry
// the accounts the posting engine books inventory and COGS against, and a
// standard cost used as the unit-cost snapshot for inbound movements.
type Item struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	OrganizationId     string          `gorm:"size:64;index;not null" json:"organization_id"`
	Name               string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku                string          `gorm:"size:100" json:"sku"`
	IsStockTracked     bool            `gorm:"not null;default:false" json:"is_stock_tracked"`
	StandardCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"standard_cost"`
	InventoryAccountId int             `json:"inventory_account_id"`
	CogsAccountId      int             `json:"cogs_account_id"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewItem struct {
	Name               string          `json:"name" binding:"required"`
	Sku                string          `json:"sku"`
	IsStockTracked     bool            `json:"is_stock_tracked"`
	StandardCost       decimal.Decimal `json:"standard_cost"`
	InventoryAccountId int             `json:"inventory_account_id"`
	CogsAccountId      int             `json:"cogs_account_id"`
}

func CreateItem(ctx context.Context, organizationId string, input *NewItem) (*Item, error) {
	if err := utils.ValidateUnique[Item](ctx, organizationId, "name", input.Name, 0); err != nil {
		return nil, err
	}
	if input.IsStockTracked {
		if input.InventoryAccountId == 0 || input.CogsAccountId == 0 {
			return nil, utils.Validationf("stock-tracked items need inventory and cogs accounts")
		}
		if err := utils.ValidateResourceId[Account](ctx, organizationId, input.InventoryAccountId); err != nil {
			return nil, utils.Validationf("inventory account not found")
		}
		if err := utils.ValidateResourceId[Account](ctx, organizationId, input.CogsAccountId); err != nil {
			return nil, utils.Validationf("cogs account not found")
		}
	}

	item := Item{
		OrganizationId:     organizationId,
		Name:               input.Name,
		Sku:                input.Sku,
		IsStockTracked:     input.IsStockTracked,
		StandardCost:       input.StandardCost,
		InventoryAccountId: input.InventoryAccountId,
		CogsAccountId:      input.CogsAccountId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItemStandardCost changes the cost used for FUTURE inbound movements.
// Historical movements keep their posting-time snapshot.
func UpdateItemStandardCost(ctx context.Context, organizationId string, id int, cost decimal.Decimal) (*Item, error) {
	item, err := utils.FetchModel[Item](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}
	if cost.IsNegative() {
		return nil, utils.Validationf("standard cost must not be negative")
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(item).Update("standard_cost", cost).Error; err != nil {
		return nil, err
	}
	item.StandardCost = cost
	return item, nil
}

func GetItem(ctx context.Context, organizationId string, id int) (*Item, error) {
	return utils.FetchModel[Item](ctx, organizationId, id)
}
