package serverstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// expiryLayout is fixed width so stored expiries compare as strings.
const expiryLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CheckPushIdempotency returns the cached response of an unexpired push.
func (s *Store) CheckPushIdempotency(ctx context.Context, pushID string) ([]byte, bool, error) {
	var response, expiresAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT response, expires_at FROM push_idempotency WHERE push_id = ?
	`, pushID).Scan(&response, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("check idempotency: %w", err)
	}

	expires, parseErr := time.Parse(expiryLayout, expiresAt)
	if parseErr != nil {
		slog.Warn("push_idempotency: failed to parse expires_at", "value", expiresAt, "error", parseErr)
		return nil, false, nil
	}
	if s.now().After(expires) {
		return nil, false, nil
	}

	return []byte(response), true, nil
}

func recordPushIdempotency(ctx context.Context, tx *sql.Tx, pushID, deviceID string, response []byte, now time.Time, ttl time.Duration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO push_idempotency (push_id, device_id, response, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, pushID, deviceID, string(response), now.UTC().Format(expiryLayout), now.Add(ttl).UTC().Format(expiryLayout))
	if err != nil {
		return fmt.Errorf("record push idempotency: %w", err)
	}
	return nil
}

// CleanExpiredIdempotency removes expired idempotency entries and returns
// how many were removed.
func (s *Store) CleanExpiredIdempotency(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM push_idempotency WHERE expires_at < ?
	`, s.now().UTC().Format(expiryLayout))
	if err != nil {
		return 0, fmt.Errorf("clean expired idempotency: %w", err)
	}
	return result.RowsAffected()
}
