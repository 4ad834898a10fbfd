package workflow

import (
	"errors"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotent claims (organization, route, key) by inserting the record
// inside the caller's transaction. Because the record commits or rolls back
// with the operation's effects, a committed record always carries a response.
//
// Returns the claimed record when the caller should execute, or the stored
// response bytes when a prior execution with the same payload already
// committed. A reused key with a different payload hash is a CONFLICT.
func BeginIdempotent(tx *gorm.DB, organizationId, route, idempotencyKey string, payload []byte) (*models.IdempotencyRecord, []byte, error) {
	payloadHash, err := utils.HashCanonicalPayload(payload)
	if err != nil {
		return nil, nil, utils.Validationf("idempotency payload is not valid json")
	}

	record := models.IdempotencyRecord{
		OrganizationId: organizationId,
		Route:          route,
		IdempotencyKey: idempotencyKey,
		PayloadHash:    payloadHash,
	}
	if err := tx.Create(&record).Error; err == nil {
		return &record, nil, nil
	} else if !isDuplicateKeyErr(err) {
		return nil, nil, err
	}

	var existing models.IdempotencyRecord
	if err := tx.Where("organization_id = ? AND route = ? AND idempotency_key = ?",
		organizationId, route, idempotencyKey).
		First(&existing).Error; err != nil {
		return nil, nil, err
	}
	if existing.PayloadHash != payloadHash {
		return nil, nil, utils.Conflictf("idempotency key %q was already used with a different payload", idempotencyKey)
	}
	return nil, existing.Response, nil
}

// CompleteIdempotent stores the serialized result on the claimed record, in
// the same transaction as the operation's effects.
func CompleteIdempotent(tx *gorm.DB, record *models.IdempotencyRecord, response []byte) error {
	if record == nil {
		return nil
	}
	return tx.Model(record).Update("response", response).Error
}
