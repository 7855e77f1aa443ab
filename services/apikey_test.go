package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestHashKey_RoundTripsThroughVerify(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	svc := NewAPIKeyService(pg)

	hash, err := svc.HashKey("seed-key")
	assert.NoError(t, err)
	assert.NotEqual(t, "seed-key", hash)

	mock.ExpectQuery("SELECT tenant_id, key_hash FROM tenant_api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "key_hash"}).
			AddRow("tenant-1", hash))

	tenantID, err := svc.VerifyKey("seed-key")
	assert.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyKey_WrongKeyRejected(t *testing.T) {
	pg, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer pg.Close()

	svc := NewAPIKeyService(pg)

	hash, err := svc.HashKey("seed-key")
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT tenant_id, key_hash FROM tenant_api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "key_hash"}).
			AddRow("tenant-1", hash))

	_, err = svc.VerifyKey("other-key")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
