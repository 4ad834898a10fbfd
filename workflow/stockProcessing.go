package workflow

import (
	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockWarning reports an item that was allowed to go negative (WARN policy,
// or BLOCK overridden with a reason).
type StockWarning struct {
	ItemId    int             `json:"item_id"`
	ItemName  string          `json:"item_name"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Requested decimal.Decimal `json:"requested"`
}

// StockResult carries what stock processing adds to the posting: the ledger
// movements, the extra journal lines (COGS legs) and any negative-stock
// warnings to surface in the response.
type StockResult struct {
	Movements []models.InventoryMovement  `json:"movements"`
	CogsLines []models.JournalTransaction `json:"cogs_lines"`
	Warnings  []StockWarning              `json:"warnings"`
}

func stockDirection(docType models.DocumentType) int {
	switch docType {
	case models.DocumentTypeInvoice:
		return -1
	case models.DocumentTypeBill, models.DocumentTypeCreditNote, models.DocumentTypeOpeningBalance:
		return 1
	}
	return 0
}

// ProcessDocumentStock builds the inventory movements and COGS journal legs
// for the document's stock-tracked lines, then applies the organization's
// negative-stock policy against the resulting on-hand levels.
//
// Unit cost is snapshotted here: bills and opening balances capture the line's
// unit price, invoices capture the item's current standard cost, and credit
// notes that reference a prior sale reuse that sale's recorded movement cost.
// Movements are returned, not persisted; the caller writes them with the rest
// of the posting.
func ProcessDocumentStock(tx *gorm.DB, logger *logrus.Logger, org *models.Organization,
	doc *models.Document, overrideReason *string) (*StockResult, error) {

	result := &StockResult{}
	direction := stockDirection(doc.Type)
	if direction == 0 {
		return result, nil
	}

	var creditedCosts map[int]decimal.Decimal
	if doc.Type == models.DocumentTypeCreditNote && doc.CreditedDocumentId != nil {
		var err error
		creditedCosts, err = models.RecordedUnitCosts(tx, org.ID, models.DocumentTypeInvoice, *doc.CreditedDocumentId)
		if err != nil {
			config.LogError(logger, "stockProcessing.go", "ProcessDocumentStock", "RecordedUnitCosts", doc.CreditedDocumentId, err)
			return nil, err
		}
	}

	pending := map[int]decimal.Decimal{}
	var blocked []StockWarning

	for _, line := range doc.Items {
		if line.ItemId == 0 || line.Quantity.IsZero() {
			continue
		}
		var item models.Item
		if err := tx.Where("organization_id = ?", org.ID).First(&item, line.ItemId).Error; err != nil {
			return nil, utils.Validationf("item %d not found", line.ItemId)
		}
		if !item.IsStockTracked {
			continue
		}

		unitCost := item.StandardCost
		switch doc.Type {
		case models.DocumentTypeBill, models.DocumentTypeOpeningBalance:
			unitCost = line.UnitPrice
		case models.DocumentTypeCreditNote:
			if cost, ok := creditedCosts[item.ID]; ok {
				unitCost = cost
			}
		}

		quantity := line.Quantity.Mul(decimal.NewFromInt(int64(direction)))
		result.Movements = append(result.Movements, models.InventoryMovement{
			OrganizationId: org.ID,
			ItemId:         item.ID,
			Quantity:       quantity,
			UnitCost:       unitCost,
			SourceType:     doc.Type,
			SourceId:       doc.ID,
			SourceLineId:   line.ID,
			EffectiveDate:  doc.EffectiveDate,
		})
		pending[item.ID] = pending[item.ID].Add(quantity)

		cost := utils.RoundMoney(line.Quantity.Mul(unitCost))
		if cost.IsZero() {
			continue
		}
		if doc.Type == models.DocumentTypeInvoice {
			result.CogsLines = append(result.CogsLines,
				models.JournalTransaction{AccountId: item.CogsAccountId, Description: item.Name, Debit: cost},
				models.JournalTransaction{AccountId: item.InventoryAccountId, Description: item.Name, Credit: cost},
			)
		} else if doc.Type == models.DocumentTypeCreditNote {
			result.CogsLines = append(result.CogsLines,
				models.JournalTransaction{AccountId: item.InventoryAccountId, Description: item.Name, Debit: cost},
				models.JournalTransaction{AccountId: item.CogsAccountId, Description: item.Name, Credit: cost},
			)
		}
	}

	if direction < 0 {
		for itemId, delta := range pending {
			onHand, err := models.OnHandQuantity(tx, org.ID, itemId)
			if err != nil {
				config.LogError(logger, "stockProcessing.go", "ProcessDocumentStock", "OnHandQuantity", itemId, err)
				return nil, err
			}
			if onHand.Add(delta).IsNegative() {
				var item models.Item
				_ = tx.Where("organization_id = ?", org.ID).First(&item, itemId).Error
				blocked = append(blocked, StockWarning{
					ItemId:    itemId,
					ItemName:  item.Name,
					OnHand:    onHand,
					Requested: delta.Neg(),
				})
			}
		}
	}

	if len(blocked) > 0 {
		overridden := overrideReason != nil && *overrideReason != ""
		if org.NegativeStockPolicy == models.NegativeStockPolicyBlock && !overridden {
			return nil, utils.NegativeStockf("insufficient stock for %d item(s)", len(blocked)).
				WithDetail("items", blocked)
		}
		result.Warnings = blocked
	}
	return result, nil
}

// ReverseDocumentStock writes exact counter-movements for everything the
// document originally moved, at the recorded unit costs. Reversal movements
// never trip the negative-stock policy.
func ReverseDocumentStock(tx *gorm.DB, logger *logrus.Logger, organizationId string, doc *models.Document) error {
	movements, err := models.MovementsBySource(tx, organizationId, doc.Type, doc.ID)
	if err != nil {
		config.LogError(logger, "stockProcessing.go", "ReverseDocumentStock", "MovementsBySource", doc.ID, err)
		return err
	}
	for _, m := range movements {
		counter := models.InventoryMovement{
			OrganizationId: organizationId,
			ItemId:         m.ItemId,
			Quantity:       m.Quantity.Neg(),
			UnitCost:       m.UnitCost,
			SourceType:     m.SourceType,
			SourceId:       m.SourceId,
			SourceLineId:   m.SourceLineId,
			IsReversal:     true,
			EffectiveDate:  doc.EffectiveDate,
		}
		if err := tx.Create(&counter).Error; err != nil {
			config.LogError(logger, "stockProcessing.go", "ReverseDocumentStock", "Create counter movement", m.ID, err)
			return err
		}
	}
	return nil
}
