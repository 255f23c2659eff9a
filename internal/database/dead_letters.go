package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"metasync/internal/models"
)

// ErrDeadLetterNotFound is returned for unknown dead-letter ids.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

const deadLetterColumns = `id, product_id, retailer_id, operation, payload, error, retry_count, resolved, created_at, resolved_at`

func (db *DB) CreateDeadLetter(ctx context.Context, item *models.DeadLetterItem) error {
	query := `INSERT INTO dead_letters (product_id, retailer_id, operation, payload, error, retry_count, resolved, created_at)
              VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		item.ProductID,
		item.RetailerID,
		string(item.Operation),
		item.Payload,
		item.Error,
		item.RetryCount,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		item.ID = id
	}
	item.CreatedAt = now

	return nil
}

func (db *DB) GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterItem, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = ?`
	item, err := scanDeadLetter(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return item, nil
}

func (db *DB) GetDeadLetters(ctx context.Context, unresolvedOnly bool) ([]*models.DeadLetterItem, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters`
	if unresolvedOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}
	defer rows.Close()

	var items []*models.DeadLetterItem
	for rows.Next() {
		item, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// HasUnresolvedDeadLetter reports whether the product already sits in the
// dead-letter queue. The processor uses it to keep the escalation
// exactly-once per ceiling crossing.
func (db *DB) HasUnresolvedDeadLetter(ctx context.Context, productID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM dead_letters WHERE product_id = ? AND resolved = 0`
	if err := db.QueryRowContext(ctx, query, productID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check dead letters: %w", err)
	}
	return count > 0, nil
}

// ResolveDeadLetter flips resolved to true. The WHERE clause keeps the
// transition monotonic: an already-resolved row is never touched again.
func (db *DB) ResolveDeadLetter(ctx context.Context, id int64) error {
	query := `UPDATE dead_letters SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`
	result, err := db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

func scanDeadLetter(row rowScanner) (*models.DeadLetterItem, error) {
	var (
		item models.DeadLetterItem
		op   string
	)
	err := row.Scan(
		&item.ID, &item.ProductID, &item.RetailerID, &op, &item.Payload,
		&item.Error, &item.RetryCount, &item.Resolved, &item.CreatedAt, &item.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Operation = models.Operation(op)
	return &item, nil
}
