package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization is the tenant boundary. Every posted row hangs off one
// organization; the posting engine never crosses it.
type Organization struct {
	ID                  string                `gorm:"primaryKey;size:64" json:"id"`
	Name                string                `gorm:"size:255;not null" json:"name" binding:"required"`
	BaseCurrency        string                `gorm:"size:3;not null" json:"base_currency" binding:"required"`
	Timezone            string                `gorm:"size:50" json:"timezone"`
	LockDate            *time.Time            `json:"lock_date"`
	VatEnabled          bool                  `gorm:"not null;default:false" json:"vat_enabled"`
	VatBehavior         utils.VatBehavior     `gorm:"size:20;not null;default:EXCLUSIVE" json:"vat_behavior"`
	TaxRounding         utils.TaxRoundingMode `gorm:"size:20;not null;default:PER_LINE" json:"tax_rounding"`
	NegativeStockPolicy NegativeStockPolicy   `gorm:"size:10;not null;default:BLOCK" json:"negative_stock_policy"`
	CreatedAt           time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrganization struct {
	Name                string `json:"name" binding:"required"`
	BaseCurrency        string `json:"base_currency" binding:"required,len=3"`
	Timezone            string `json:"timezone"`
	VatEnabled          bool   `json:"vat_enabled"`
	VatBehavior         string `json:"vat_behavior"`
	TaxRounding         string `json:"tax_rounding"`
	NegativeStockPolicy string `json:"negative_stock_policy"`
}

type NewOrganizationSettings struct {
	LockDate            *time.Time `json:"lock_date"`
	VatEnabled          *bool      `json:"vat_enabled"`
	VatBehavior         *string    `json:"vat_behavior"`
	TaxRounding         *string    `json:"tax_rounding"`
	NegativeStockPolicy *string    `json:"negative_stock_policy"`
}

func CreateOrganization(ctx context.Context, input *NewOrganization) (*Organization, error) {
	org := Organization{
		ID:                  uuid.NewString(),
		Name:                input.Name,
		BaseCurrency:        input.BaseCurrency,
		Timezone:            input.Timezone,
		VatEnabled:          input.VatEnabled,
		VatBehavior:         utils.VatBehaviorExclusive,
		TaxRounding:         utils.TaxRoundingPerLine,
		NegativeStockPolicy: NegativeStockPolicyBlock,
	}
	if input.VatBehavior != "" {
		org.VatBehavior = utils.VatBehavior(input.VatBehavior)
	}
	if input.TaxRounding != "" {
		org.TaxRounding = utils.TaxRoundingMode(input.TaxRounding)
	}
	if input.NegativeStockPolicy != "" {
		org.NegativeStockPolicy = NegativeStockPolicy(input.NegativeStockPolicy)
	}
	if err := validateOrganizationEnums(&org); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// UpdateOrganizationSettings mutates tenant settings; organizations are never
// deleted. Moving the lock date backwards is allowed (it only loosens the gate
// for future postings, committed history is untouched).
func UpdateOrganizationSettings(ctx context.Context, organizationId string, input *NewOrganizationSettings) (*Organization, error) {
	org, err := GetOrganizationById(ctx, organizationId)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.LockDate != nil {
		updates["lock_date"] = input.LockDate
	}
	if input.VatEnabled != nil {
		updates["vat_enabled"] = *input.VatEnabled
	}
	if input.VatBehavior != nil {
		updates["vat_behavior"] = utils.VatBehavior(*input.VatBehavior)
	}
	if input.TaxRounding != nil {
		updates["tax_rounding"] = utils.TaxRoundingMode(*input.TaxRounding)
	}
	if input.NegativeStockPolicy != nil {
		updates["negative_stock_policy"] = NegativeStockPolicy(*input.NegativeStockPolicy)
	}

	check := *org
	if v, ok := updates["vat_behavior"]; ok {
		check.VatBehavior = v.(utils.VatBehavior)
	}
	if v, ok := updates["tax_rounding"]; ok {
		check.TaxRounding = v.(utils.TaxRoundingMode)
	}
	if v, ok := updates["negative_stock_policy"]; ok {
		check.NegativeStockPolicy = v.(NegativeStockPolicy)
	}
	if err := validateOrganizationEnums(&check); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(org).Updates(updates).Error; err != nil {
		return nil, err
	}
	return GetOrganizationById(ctx, organizationId)
}

func validateOrganizationEnums(org *Organization) error {
	if org.VatBehavior != utils.VatBehaviorExclusive && org.VatBehavior != utils.VatBehaviorInclusive {
		return utils.Validationf("invalid vat behavior %q", org.VatBehavior)
	}
	if org.TaxRounding != utils.TaxRoundingPerLine && org.TaxRounding != utils.TaxRoundingPerTotal {
		return utils.Validationf("invalid tax rounding mode %q", org.TaxRounding)
	}
	if org.NegativeStockPolicy != NegativeStockPolicyBlock && org.NegativeStockPolicy != NegativeStockPolicyWarn {
		return utils.Validationf("invalid negative stock policy %q", org.NegativeStockPolicy)
	}
	return nil
}

func GetOrganizationById(ctx context.Context, organizationId string) (*Organization, error) {
	db := config.GetDB()
	var org Organization
	if err := db.WithContext(ctx).Where("id = ?", organizationId).First(&org).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &org, nil
}

// GetOrganizationById2 reads the organization through the caller's transaction
// so lock date / policy checks see exactly what the transaction will commit against.
func GetOrganizationById2(tx *gorm.DB, organizationId string) (*Organization, error) {
	var org Organization
	if err := tx.Where("id = ?", organizationId).First(&org).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &org, nil
}

// CheckLockDate rejects postings dated on or before the organization's lock
// date. Comparison is calendar-date based in the organization's timezone.
func (org *Organization) CheckLockDate(effectiveDate time.Time) error {
	if org.LockDate == nil {
		return nil
	}
	tDate, err := utils.ConvertToDate(effectiveDate, org.Timezone)
	if err != nil {
		return err
	}
	lDate, err := utils.ConvertToDate(*org.LockDate, org.Timezone)
	if err != nil {
		return err
	}
	if !tDate.After(lDate) {
		return utils.LockDatef("posting date %s is on or before the lock date %s",
			tDate.Format("2006-01-02"), lDate.Format("2006-01-02"))
	}
	return nil
}
