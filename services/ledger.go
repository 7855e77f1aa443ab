package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/freshnest/fieldops/db"
)

// LedgerService owns the append-only event ledger. The ledger serves two
// purposes: a human-readable audit trail of every orchestration action, and
// the data source for the idempotency guard. Entries are never updated or
// deleted.
type LedgerService struct {
	PG    *sql.DB
	Redis *redis.Client
}

func NewLedgerService(pg *sql.DB, redisClient *redis.Client) *LedgerService {
	return &LedgerService{
		PG:    pg,
		Redis: redisClient,
	}
}

// Append writes one ledger entry. Callers treat failures as non-fatal:
// audit completeness is best-effort, assignment-state correctness is not,
// so this logs and returns the error without expecting anyone to abort on
// it.
func (s *LedgerService) Append(eventKind, correlationKey string, metadata map[string]interface{}) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	_, err = s.PG.Exec(`
		INSERT INTO event_ledger (event_kind, correlation_key, metadata, created_at)
		VALUES ($1, $2, $3, NOW())
	`, eventKind, correlationKey, string(metadataJSON))
	if err != nil {
		log.Printf("Ledger: failed to append %s for %s: %v", eventKind, correlationKey, err)
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return nil
}

// HasRecentEvent reports whether an entry of the given kind and correlation
// key was appended within the window. Pure read, no side effects.
func (s *LedgerService) HasRecentEvent(correlationKey, eventKind string, window time.Duration) (bool, error) {
	var exists bool
	err := s.PG.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM event_ledger
			WHERE correlation_key = $1
			AND event_kind = $2
			AND created_at > NOW() - $3::interval
		)
	`, correlationKey, eventKind, fmt.Sprintf("%d seconds", int(window.Seconds()))).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger for recent event: %w", err)
	}

	return exists, nil
}

// Reserve attempts a best-effort Redis reservation for the key before the
// SQL lookup. Two triggers racing inside the window can still both pass
// when Redis is down; the design accepts that as a low-probability
// duplicate notification rather than paying for a distributed lock.
// Returns true when the caller holds the reservation.
func (s *LedgerService) Reserve(ctx context.Context, correlationKey, eventKind string, window time.Duration) bool {
	if s.Redis == nil {
		return true
	}

	key := fmt.Sprintf("fieldops:guard:%s:%s", eventKind, correlationKey)
	ok, err := s.Redis.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		log.Printf("Ledger: redis reservation unavailable for %s: %v", key, err)
		return true
	}

	return ok
}

// RecentEntries returns the ledger tail for one correlation key, newest
// first. Used by the operator audit endpoint.
func (s *LedgerService) RecentEntries(correlationKey string, limit int) ([]db.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.PG.Query(`
		SELECT id, event_kind, correlation_key, metadata, created_at
		FROM event_ledger
		WHERE correlation_key = $1
		ORDER BY id DESC
		LIMIT $2
	`, correlationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []db.LedgerEntry
	for rows.Next() {
		var entry db.LedgerEntry
		var metadataJSON []byte

		if err := rows.Scan(&entry.ID, &entry.EventKind, &entry.CorrelationKey, &metadataJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				entry.Metadata = map[string]interface{}{}
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// JobKey builds the correlation key for job-scoped events.
func JobKey(jobID string) string {
	return "job:" + jobID
}

// PhoneKey builds the correlation key for phone-scoped events.
func PhoneKey(phone string) string {
	return "phone:" + phone
}
