package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Revocation marks a device token as no longer accepted.
type Revocation struct {
	JTI       string
	DeviceID  string
	ExpiresAt time.Time
}

// RevokeToken records a revocation. Revoking the same token twice is a no-op.
func RevokeToken(ctx context.Context, db *sql.DB, rev Revocation) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (jti, device_id, expires_at) VALUES (?, ?, ?)`,
		rev.JTI, rev.DeviceID, rev.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token for device %s: %w", rev.DeviceID, err)
	}
	return nil
}

// IsTokenRevoked reports whether the token with the given JTI was revoked.
func IsTokenRevoked(ctx context.Context, db *sql.DB, jti string) (bool, error) {
	var revoked bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return revoked, nil
}

// DeviceRevocations returns how many unexpired revocations a device has.
func DeviceRevocations(ctx context.Context, db *sql.DB, deviceID string, now time.Time) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens WHERE device_id = ? AND expires_at >= ?`,
		deviceID, now.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting revocations for device %s: %w", deviceID, err)
	}
	return n, nil
}

// PruneRevocations drops revocations whose tokens have expired by now, since
// such tokens fail validation anyway. It returns the number removed.
func PruneRevocations(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning revocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning revocations: %w", err)
	}
	return n, nil
}
