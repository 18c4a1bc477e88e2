package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

const itemColumns = `id, name, stock, min_stock, notes,
	image_kind, image_url, image_owned, image_data, image_mime,
	created_at, last_used, updated_at, updated_by`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*model.Item, error) {
	var (
		item                     model.Item
		kind                     string
		url, mime                sql.NullString
		owned                    bool
		data                     []byte
		created, used, updatedAt int64
	)
	err := s.Scan(&item.ID, &item.Name, &item.Stock, &item.MinStock, &item.Notes,
		&kind, &url, &owned, &data, &mime,
		&created, &used, &updatedAt, &item.UpdatedBy)
	if err != nil {
		return nil, err
	}
	item.Image = model.Image{
		Kind:  model.ImageKind(kind),
		URL:   url.String,
		Owned: owned,
		Data:  data,
		MIME:  mime.String,
	}.Normalize()
	item.CreatedAt = fromMillis(created)
	item.LastUsed = fromMillis(used)
	item.UpdatedAt = fromMillis(updatedAt)
	return &item, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func imageArgs(img model.Image) []any {
	img = img.Normalize()
	var url, mime sql.NullString
	if img.URL != "" {
		url = sql.NullString{String: img.URL, Valid: true}
	}
	if img.MIME != "" {
		mime = sql.NullString{String: img.MIME, Valid: true}
	}
	return []any{string(img.Kind), url, img.Owned, img.Data, mime}
}

func itemArgs(item model.Item) []any {
	args := []any{item.ID, item.Name, item.Stock, item.MinStock, item.Notes}
	args = append(args, imageArgs(item.Image)...)
	return append(args,
		toMillis(item.CreatedAt), toMillis(item.LastUsed), toMillis(item.UpdatedAt), item.UpdatedBy)
}

// CreateItem inserts a new item row. The item must already carry its id and
// timestamps.
func CreateItem(ctx context.Context, db *sql.DB, item model.Item) (*model.Item, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		itemArgs(item)...,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking created item: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: id %q already exists", model.ErrValidation, item.ID)
	}
	return GetItem(ctx, db, item.ID)
}

// GetItem returns an item by ID, or nil if it doesn't exist.
func GetItem(ctx context.Context, db *sql.DB, id string) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns all items in creation order.
func ListItems(ctx context.Context, db *sql.DB) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItem merges patch into the stored item inside a transaction.
func UpdateItem(ctx context.Context, db *sql.DB, id string, patch model.ItemPatch, at time.Time, by string) (*model.Item, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	next := patch.Apply(*current, at)
	next.UpdatedBy = by

	args := []any{next.Name, next.Stock, next.MinStock, next.Notes}
	args = append(args, imageArgs(next.Image)...)
	args = append(args, toMillis(next.LastUsed), toMillis(next.UpdatedAt), next.UpdatedBy, id)
	_, err = tx.ExecContext(ctx,
		`UPDATE items SET name = ?, stock = ?, min_stock = ?, notes = ?,
		        image_kind = ?, image_url = ?, image_owned = ?, image_data = ?, image_mime = ?,
		        last_used = ?, updated_at = ?, updated_by = ?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("updating item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing item update: %w", err)
	}
	return &next, nil
}

// IncrementItemStock adds delta to an item's stock in a single statement, so
// concurrent writers never lose each other's changes. A result below zero is
// rejected with model.ErrNegativeStock.
func IncrementItemStock(ctx context.Context, db *sql.DB, id string, delta int, at time.Time, by string) (*model.Item, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE items SET stock = stock + ?, last_used = ?, updated_at = ?, updated_by = ?
		 WHERE id = ? AND stock + ? >= 0`,
		delta, toMillis(at), toMillis(at), by, id, delta,
	)
	if err != nil {
		return nil, fmt.Errorf("incrementing stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking stock increment: %w", err)
	}

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if n == 0 {
		return item, fmt.Errorf("%w: %d %+d", model.ErrNegativeStock, item.Stock, delta)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing stock increment: %w", err)
	}
	return item, nil
}

// DeleteItem removes an item and returns the deleted row, or nil if there was
// nothing to delete.
func DeleteItem(ctx context.Context, db *sql.DB, id string) (*model.Item, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("deleting item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing item delete: %w", err)
	}
	return item, nil
}

// LoadItems bulk-writes items. With replace set, every existing row is removed
// first; otherwise rows with the same id are overwritten and the rest kept.
func LoadItems(ctx context.Context, db *sql.DB, items []model.Item, replace bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
			return fmt.Errorf("clearing items: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing item load: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, itemArgs(item)...); err != nil {
			return fmt.Errorf("loading item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item load: %w", err)
	}
	return nil
}
