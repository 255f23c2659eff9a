package domain

import (
	"context"

	"metasync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ProductStore is the read-only view of the authoritative product store.
// This service never writes products.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetAllProducts(ctx context.Context) ([]*models.Product, error)
}

// SyncStore owns sync records, the append-only audit log and the
// dead-letter table.
type SyncStore interface {
	GetSyncRecord(ctx context.Context, productID string) (*models.SyncRecord, error)
	UpsertSyncRecord(ctx context.Context, record *models.SyncRecord) error
	GetSyncRecordsByStatus(ctx context.Context, status string, limit int) ([]*models.SyncRecord, error)
	GetSyncStatusSummary(ctx context.Context) (*models.SyncStatusSummary, error)
	GetAllSyncRecords(ctx context.Context) ([]*models.SyncRecord, error)

	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error
	GetProductSyncLogs(ctx context.Context, productID string, limit int) ([]*models.SyncLogEntry, error)

	CreateDeadLetter(ctx context.Context, item *models.DeadLetterItem) error
	GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetterItem, error)
	GetDeadLetters(ctx context.Context, unresolvedOnly bool) ([]*models.DeadLetterItem, error)
	HasUnresolvedDeadLetter(ctx context.Context, productID string) (bool, error)
	ResolveDeadLetter(ctx context.Context, id int64) error
}

// CatalogAPI is the external catalog client surface consumed by the
// processor and the reconciliation job. All retry, backoff and rate-limit
// behavior lives behind it.
type CatalogAPI interface {
	Upsert(ctx context.Context, item *models.CatalogItem) (string, error)
	Delete(ctx context.Context, retailerID string) error
	Get(ctx context.Context, retailerID string) (*models.CatalogItem, error)
	ListAll(ctx context.Context, pageSize int) ([]*models.CatalogItem, error)
	VerifyAccess(ctx context.Context) error
}

// Alerter is a fire-and-forget notification sink. Implementations must
// never let their own failure propagate into the sync pipeline.
type Alerter interface {
	SendAlert(ctx context.Context, kind string, payload map[string]any)
	SendDailySummary(ctx context.Context, result models.ReconciliationResult)
}

// StatePublisher mirrors sync events and dead letters to an external
// queue for other consumers. Best-effort.
type StatePublisher interface {
	PublishDeadLetter(ctx context.Context, item *models.DeadLetterItem) error
	PublishSyncEvent(ctx context.Context, productID string, op models.Operation, status string) error
}

// TelegramSender abstracts the bot API for the alerting sink.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
