package database

import (
	"context"
	"fmt"
	"time"

	"metasync/internal/models"
)

// AppendSyncLog inserts one audit row. There is deliberately no update or
// delete path for sync_logs anywhere in this package.
func (db *DB) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	query := `INSERT INTO sync_logs (product_id, retailer_id, operation, status, request, response, error, duration_ms, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		entry.ProductID,
		entry.RetailerID,
		string(entry.Operation),
		entry.Status,
		entry.Request,
		entry.Response,
		entry.Error,
		entry.DurationMS,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	entry.CreatedAt = now

	return nil
}

func (db *DB) GetProductSyncLogs(ctx context.Context, productID string, limit int) ([]*models.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, product_id, retailer_id, operation, status, request, response, error, duration_ms, created_at
              FROM sync_logs WHERE product_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		var (
			e  models.SyncLogEntry
			op string
		)
		err := rows.Scan(&e.ID, &e.ProductID, &e.RetailerID, &op, &e.Status, &e.Request, &e.Response, &e.Error, &e.DurationMS, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		e.Operation = models.Operation(op)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
