package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"metasync/internal/models"
)

const syncRecordColumns = `id, product_id, retailer_id, external_id, status, last_synced_at, last_error, retry_count, terminal, is_deleted, created_at, updated_at`

func (db *DB) GetSyncRecord(ctx context.Context, productID string) (*models.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records WHERE product_id = ?`
	rec, err := scanSyncRecord(db.QueryRowContext(ctx, query, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return rec, nil
}

// UpsertSyncRecord writes the full record state keyed by product_id.
// The single-writer processor owns these rows; last write wins.
func (db *DB) UpsertSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	query := `INSERT INTO sync_records (product_id, retailer_id, external_id, status, last_synced_at, last_error, retry_count, terminal, is_deleted, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(product_id) DO UPDATE SET
                retailer_id = excluded.retailer_id,
                external_id = excluded.external_id,
                status = excluded.status,
                last_synced_at = excluded.last_synced_at,
                last_error = excluded.last_error,
                retry_count = excluded.retry_count,
                terminal = excluded.terminal,
                is_deleted = excluded.is_deleted,
                updated_at = excluded.updated_at`
	now := time.Now()
	externalID := sql.NullString{String: record.ExternalID, Valid: record.ExternalID != ""}

	result, err := db.ExecContext(ctx, query,
		record.ProductID,
		record.RetailerID,
		externalID,
		record.Status,
		record.LastSyncedAt,
		record.LastError,
		record.RetryCount,
		record.Terminal,
		record.IsDeleted,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync record: %w", err)
	}

	if record.ID == 0 {
		if id, err := result.LastInsertId(); err == nil {
			record.ID = id
		}
	}
	record.UpdatedAt = now

	return nil
}

func (db *DB) GetSyncRecordsByStatus(ctx context.Context, status string, limit int) ([]*models.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records WHERE status = ? ORDER BY updated_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync records: %w", err)
	}
	defer rows.Close()

	return collectSyncRecords(rows)
}

func (db *DB) GetAllSyncRecords(ctx context.Context) ([]*models.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records ORDER BY product_id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync records: %w", err)
	}
	defer rows.Close()

	return collectSyncRecords(rows)
}

func (db *DB) GetSyncStatusSummary(ctx context.Context) (*models.SyncStatusSummary, error) {
	summary := &models.SyncStatusSummary{}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		summary.Total += count
		switch status {
		case models.SyncStatusPending:
			summary.Pending = count
		case models.SyncStatusSynced:
			summary.Synced = count
		case models.SyncStatusFailed:
			summary.Failed = count
		case models.SyncStatusDeleted:
			summary.Deleted = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE resolved = 0`).Scan(&summary.DeadLetters)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}

	failures, err := db.GetSyncRecordsByStatus(ctx, models.SyncStatusFailed, 10)
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		summary.RecentFailures = append(summary.RecentFailures, *f)
	}

	return summary, nil
}

func collectSyncRecords(rows *sql.Rows) ([]*models.SyncRecord, error) {
	var records []*models.SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSyncRecord(row rowScanner) (*models.SyncRecord, error) {
	var (
		rec        models.SyncRecord
		externalID sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.ProductID, &rec.RetailerID, &externalID, &rec.Status,
		&rec.LastSyncedAt, &rec.LastError, &rec.RetryCount, &rec.Terminal,
		&rec.IsDeleted, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ExternalID = externalID.String
	return &rec, nil
}
