package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"gorm.io/gorm"
)

// AuditLog records every posting-side state transition with before/after
// snapshots. Rows are written inside the same transaction as the transition
// itself, so the trail can never drift from the ledger.
type AuditLog struct {
	ID             int          `gorm:"primary_key" json:"id"`
	OrganizationId string       `gorm:"size:64;index;not null" json:"organization_id"`
	Action         AuditAction  `gorm:"size:10;not null" json:"action"`
	ReferenceType  DocumentType `gorm:"size:20;not null;index:idx_audit_reference" json:"reference_type"`
	ReferenceId    int          `gorm:"not null;index:idx_audit_reference" json:"reference_id"`
	Before         string       `gorm:"type:text" json:"before"`
	After          string       `gorm:"type:text" json:"after"`
	Description    string       `gorm:"type:text" json:"description"`
	OverrideReason *string      `gorm:"type:text" json:"override_reason"`
	UserId         int          `gorm:"index" json:"user_id"`
	UserName       string       `gorm:"size:100" json:"user_name"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// WriteAuditLog serializes the snapshots and appends the entry through the
// caller's transaction. User identity comes from the request context.
func WriteAuditLog(ctx context.Context, tx *gorm.DB, action AuditAction,
	referenceType DocumentType, referenceId int,
	before interface{}, after interface{},
	description string, overrideReason *string) error {

	beforeJson, err := utils.MarshalToJSON(before)
	if err != nil {
		return err
	}
	afterJson, err := utils.MarshalToJSON(after)
	if err != nil {
		return err
	}

	organizationId, _ := utils.GetOrganizationIdFromContext(ctx)
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	entry := AuditLog{
		OrganizationId: organizationId,
		Action:         action,
		ReferenceType:  referenceType,
		ReferenceId:    referenceId,
		Before:         beforeJson,
		After:          afterJson,
		Description:    description,
		OverrideReason: overrideReason,
		UserId:         userId,
		UserName:       userName,
	}
	return tx.Create(&entry).Error
}

func ListAuditLogs(ctx context.Context, organizationId string, referenceType DocumentType, referenceId int) ([]AuditLog, error) {
	db := config.GetDB()
	var entries []AuditLog
	err := db.WithContext(ctx).
		Where("organization_id = ? AND reference_type = ? AND reference_id = ?",
			organizationId, referenceType, referenceId).
		Order("id").Find(&entries).Error
	return entries, err
}
