package services

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyService verifies per-tenant webhook API keys. Keys are stored as
// bcrypt hashes; the plaintext is only ever seen at issue time by the
// tenant-management surface outside this core.
type APIKeyService struct {
	PG *sql.DB
}

func NewAPIKeyService(pg *sql.DB) *APIKeyService {
	return &APIKeyService{PG: pg}
}

// VerifyKey checks a presented key against the tenant's active key hashes
// and returns the tenant id on success.
func (s *APIKeyService) VerifyKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("missing api key")
	}

	rows, err := s.PG.Query(`
		SELECT tenant_id, key_hash
		FROM tenant_api_keys
		WHERE is_active = true
	`)
	if err != nil {
		return "", fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tenantID, keyHash string
		if err := rows.Scan(&tenantID, &keyHash); err != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) == nil {
			return tenantID, nil
		}
	}

	return "", fmt.Errorf("unknown api key")
}

// HashKey creates a bcrypt hash of the key, used when seeding tenants.
func (s *APIKeyService) HashKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}
