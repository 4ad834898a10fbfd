package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

// Account is one GL account in the organization's chart of accounts.
type Account struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"size:64;index;not null" json:"organization_id"`
	Name           string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Code           string          `gorm:"size:50" json:"code"`
	MainType       AccountMainType `gorm:"size:20;not null" json:"main_type" binding:"required"`
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	Name     string `json:"name" binding:"required"`
	Code     string `json:"code"`
	MainType string `json:"main_type" binding:"required"`
}

func CreateAccount(ctx context.Context, organizationId string, input *NewAccount) (*Account, error) {
	mainType := AccountMainType(input.MainType)
	if !mainType.Valid() {
		return nil, utils.Validationf("invalid account main type %q", input.MainType)
	}
	if err := utils.ValidateUnique[Account](ctx, organizationId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	account := Account{
		OrganizationId: organizationId,
		Name:           input.Name,
		Code:           input.Code,
		MainType:       mainType,
		IsActive:       true,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func ToggleAccountActive(ctx context.Context, organizationId string, id int, isActive bool) (*Account, error) {
	account, err := utils.FetchModel[Account](ctx, organizationId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(account).
		Update("is_active", isActive).Error; err != nil {
		return nil, err
	}
	account.IsActive = isActive
	return account, nil
}

func GetAccount(ctx context.Context, organizationId string, id int) (*Account, error) {
	return utils.FetchModel[Account](ctx, organizationId, id)
}

// ValidatePostingAccounts checks every referenced account exists, belongs to
// the organization, and is active. Runs inside the posting transaction.
func ValidatePostingAccounts(tx *gorm.DB, organizationId string, accountIds []int) error {
	unqIds := utils.UniqueSlice(accountIds)
	if len(unqIds) == 0 {
		return utils.Validationf("posting references no accounts")
	}

	var active int64
	if err := tx.Model(&Account{}).
		Where("organization_id = ? AND id IN ? AND is_active = ?", organizationId, unqIds, true).
		Count(&active).Error; err != nil {
		return err
	}
	if active != int64(len(unqIds)) {
		return utils.Validationf("one or more accounts do not exist or are inactive").
			WithDetail("account_ids", unqIds)
	}
	return nil
}
