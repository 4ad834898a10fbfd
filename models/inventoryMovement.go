package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryMovement is one append-only stock ledger entry. Quantity is signed:
// positive for inbound (bills, credited sales returns), negative for outbound
// (invoices). UnitCost is the snapshot taken when the movement was written and
// never changes with later standard-cost edits.
type InventoryMovement struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"size:64;index;not null" json:"organization_id"`
	ItemId         int             `gorm:"index:idx_movement_item;not null" json:"item_id"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	SourceType     DocumentType    `gorm:"size:20;not null;index:idx_movement_source" json:"source_type"`
	SourceId       int             `gorm:"not null;index:idx_movement_source" json:"source_id"`
	SourceLineId   int             `gorm:"not null" json:"source_line_id"`
	IsReversal     bool            `gorm:"not null;default:false" json:"is_reversal"`
	EffectiveDate  time.Time       `gorm:"not null" json:"effective_date"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// OnHandQuantity is the signed sum of all movements for the item, evaluated
// through the caller's transaction so in-flight movements are visible.
func OnHandQuantity(tx *gorm.DB, organizationId string, itemId int) (decimal.Decimal, error) {
	var result struct {
		OnHand decimal.Decimal
	}
	err := tx.Model(&InventoryMovement{}).
		Select("COALESCE(SUM(quantity), 0) AS on_hand").
		Where("organization_id = ? AND item_id = ?", organizationId, itemId).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.OnHand, nil
}

// MovementsBySource returns the movements a document wrote, in insertion
// order. Used by voids to build exact counter-movements.
func MovementsBySource(tx *gorm.DB, organizationId string, sourceType DocumentType, sourceId int) ([]InventoryMovement, error) {
	var movements []InventoryMovement
	err := tx.Where("organization_id = ? AND source_type = ? AND source_id = ? AND is_reversal = ?",
		organizationId, sourceType, sourceId, false).
		Order("id").Find(&movements).Error
	return movements, err
}

// RecordedUnitCosts maps item id -> unit cost snapshot from the outbound
// movements a prior sale wrote. Credit notes reuse these so the COGS reversal
// matches what was originally booked.
func RecordedUnitCosts(tx *gorm.DB, organizationId string, sourceType DocumentType, sourceId int) (map[int]decimal.Decimal, error) {
	movements, err := MovementsBySource(tx, organizationId, sourceType, sourceId)
	if err != nil {
		return nil, err
	}
	costs := make(map[int]decimal.Decimal, len(movements))
	for _, m := range movements {
		if _, ok := costs[m.ItemId]; !ok {
			costs[m.ItemId] = m.UnitCost
		}
	}
	return costs, nil
}

// ItemStockLevel is the read-side view of one item's stock position.
type ItemStockLevel struct {
	ItemId   int             `json:"item_id"`
	ItemName string          `json:"item_name"`
	OnHand   decimal.Decimal `json:"on_hand"`
}

func GetItemStockLevel(ctx context.Context, organizationId string, itemId int) (*ItemStockLevel, error) {
	item, err := utils.FetchModel[Item](ctx, organizationId, itemId)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	onHand, err := OnHandQuantity(db.WithContext(ctx), organizationId, itemId)
	if err != nil {
		return nil, err
	}
	return &ItemStockLevel{ItemId: item.ID, ItemName: item.Name, OnHand: onHand}, nil
}

func ListItemMovements(ctx context.Context, organizationId string, itemId int) ([]InventoryMovement, error) {
	db := config.GetDB()
	var movements []InventoryMovement
	err := db.WithContext(ctx).
		Where("organization_id = ? AND item_id = ?", organizationId, itemId).
		Order("id").Find(&movements).Error
	return movements, err
}
