package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PutBlob stores an image blob under key.
func PutBlob(ctx context.Context, db *sql.DB, key string, data []byte, mime string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO blobs (key, data, mime) VALUES (?, ?, ?)`,
		key, data, mime,
	)
	if err != nil {
		return fmt.Errorf("storing blob: %w", err)
	}
	return nil
}

// GetBlob returns a blob's data and MIME type. Data is nil if the key is unknown.
func GetBlob(ctx context.Context, db *sql.DB, key string) ([]byte, string, error) {
	var data []byte
	var mime string
	err := db.QueryRowContext(ctx,
		`SELECT data, mime FROM blobs WHERE key = ?`, key,
	).Scan(&data, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting blob: %w", err)
	}
	return data, mime, nil
}

// DeleteBlob removes a blob. Deleting an unknown key is not an error.
func DeleteBlob(ctx context.Context, db *sql.DB, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}
