package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("База данных инициализирована")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Продукты: таблица принадлежит CRUD-слою магазина, здесь только чтение.
		// CREATE IF NOT EXISTS нужен для тестов и чистых инсталляций.
		`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT,
            price TEXT NOT NULL,
            original_price TEXT,
            image_url TEXT,
            images TEXT,
            category TEXT,
            badge TEXT,
            in_stock BOOLEAN NOT NULL DEFAULT 1,
            stock_count INTEGER,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Состояние синхронизации: одна строка на продукт
		`CREATE TABLE IF NOT EXISTS sync_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            product_id TEXT UNIQUE NOT NULL,
            retailer_id TEXT NOT NULL,
            external_id TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            last_synced_at DATETIME,
            last_error TEXT,
            retry_count INTEGER NOT NULL DEFAULT 0,
            terminal BOOLEAN NOT NULL DEFAULT 0,
            is_deleted BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Журнал операций: только вставка, строки не изменяются и не удаляются
		`CREATE TABLE IF NOT EXISTS sync_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            product_id TEXT NOT NULL,
            retailer_id TEXT NOT NULL,
            operation TEXT NOT NULL,
            status TEXT NOT NULL,
            request TEXT,
            response TEXT,
            error TEXT,
            duration_ms INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            product_id TEXT NOT NULL,
            retailer_id TEXT NOT NULL,
            operation TEXT NOT NULL,
            payload TEXT,
            error TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            resolved BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            resolved_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sync_records_status ON sync_records(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_product ON sync_logs(product_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_unresolved ON dead_letters(product_id) WHERE resolved = 0`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}
