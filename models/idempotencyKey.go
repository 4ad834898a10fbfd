package models

import "time"

// IdempotencyRecord provides durable, DB-backed request deduplication.
// Unique constraint: (organization_id, route, idempotency_key).
//
// PayloadHash is the SHA-256 of the canonicalized request payload; Response is
// the serialized result of the first successful execution. The record is
// written in the SAME transaction as the guarded operation's effects, so a
// crash can never separate effect-commit from record-write.
type IdempotencyRecord struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"size:64;not null;index:uniq_idem,unique" json:"organization_id"`
	Route          string    `gorm:"size:100;not null;index:uniq_idem,unique" json:"route"`
	IdempotencyKey string    `gorm:"size:255;not null;index:uniq_idem,unique" json:"idempotency_key"`
	PayloadHash    string    `gorm:"size:64;not null" json:"payload_hash"`
	Response       []byte    `gorm:"type:mediumtext" json:"response"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
