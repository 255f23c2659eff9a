// Package processor orchestrates a single product's sync transition
// against the external catalog. It is the only writer of sync records and
// audit log rows; concurrent calls for different products are safe, calls
// for the same product must be serialized by the caller (the worker queue
// does this in production).
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"metasync/internal/alerting"
	"metasync/internal/database"
	"metasync/internal/domain"
	"metasync/internal/meta"
	"metasync/internal/metrics"
	"metasync/internal/models"
	"metasync/internal/transform"

	"github.com/rs/zerolog"
)

// Result statuses beyond the stored record states.
const (
	ResultSkipped = "skipped"
)

// SyncResult describes the outcome of one SyncProduct call.
type SyncResult struct {
	ProductID  string           `json:"product_id"`
	Operation  models.Operation `json:"operation"`
	Status     string           `json:"status"`
	ExternalID string           `json:"external_id,omitempty"`
	ErrorKind  meta.ErrorKind   `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type Options struct {
	// Disabled is the global kill-switch. Operations become logged
	// no-ops; reads keep working.
	Disabled   bool
	MaxRetries int
}

type Processor struct {
	store     domain.SyncStore
	products  domain.ProductStore
	client    domain.CatalogAPI
	alerter   domain.Alerter
	publisher domain.StatePublisher // optional
	opts      Options
	logger    zerolog.Logger
}

func New(store domain.SyncStore, products domain.ProductStore, client domain.CatalogAPI, alerter domain.Alerter, publisher domain.StatePublisher, opts Options, logger *zerolog.Logger) *Processor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = models.MaxRetries
	}
	if alerter == nil {
		alerter = alerting.Noop{}
	}
	return &Processor{
		store:     store,
		products:  products,
		client:    client,
		alerter:   alerter,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With().Str("component", "processor").Logger(),
	}
}

// SyncProduct runs one CREATE/UPDATE/DELETE against the external catalog.
func (p *Processor) SyncProduct(ctx context.Context, productID string, op models.Operation) (*SyncResult, error) {
	if op != models.OpCreate && op != models.OpUpdate && op != models.OpDelete {
		return nil, fmt.Errorf("unsupported sync operation: %s", op)
	}

	if p.opts.Disabled {
		p.logger.Warn().
			Str("product_id", productID).
			Str("operation", string(op)).
			Msg("Sync is disabled by kill-switch, skipping")
		return &SyncResult{ProductID: productID, Operation: op, Status: ResultSkipped}, nil
	}

	if op == models.OpDelete {
		return p.deleteProduct(ctx, productID)
	}
	return p.upsertProduct(ctx, productID, op)
}

// deleteProduct is deliberately best-effort: failures are recorded and
// logged but never escalate to the dead-letter queue. The next
// reconciliation run repairs an unpropagated deletion as an orphan.
func (p *Processor) deleteProduct(ctx context.Context, productID string) (*SyncResult, error) {
	record, err := p.store.GetSyncRecord(ctx, productID)
	if err != nil {
		return nil, err
	}

	retailerID := productID
	if record != nil && record.RetailerID != "" {
		retailerID = record.RetailerID
	}
	if record == nil {
		record = &models.SyncRecord{ProductID: productID, RetailerID: retailerID}
	}

	start := time.Now()
	delErr := p.client.Delete(ctx, retailerID)
	duration := time.Since(start).Milliseconds()

	if delErr != nil {
		metrics.IncSyncAttempt(string(models.OpDelete), "failure")
		msg := delErr.Error()
		record.Status = models.SyncStatusFailed
		record.LastError = &msg
		// Deletes never escalate, so they must not spend the upsert
		// retry budget either.
		if err := p.store.UpsertSyncRecord(ctx, record); err != nil {
			return nil, err
		}
		p.appendLog(ctx, productID, retailerID, models.OpDelete, models.LogStatusFailed, retailerID, "", &msg, duration)
		p.publishEvent(ctx, productID, models.OpDelete, models.SyncStatusFailed)

		return &SyncResult{
			ProductID: productID,
			Operation: models.OpDelete,
			Status:    models.SyncStatusFailed,
			ErrorKind: meta.KindOf(delErr),
			Error:     msg,
		}, delErr
	}

	metrics.IncSyncAttempt(string(models.OpDelete), "success")
	record.Status = models.SyncStatusDeleted
	record.IsDeleted = true
	record.LastError = nil
	record.RetryCount = 0
	record.Terminal = false
	if err := p.store.UpsertSyncRecord(ctx, record); err != nil {
		return nil, err
	}
	p.appendLog(ctx, productID, retailerID, models.OpDelete, models.LogStatusSuccess, retailerID, "", nil, duration)
	p.publishEvent(ctx, productID, models.OpDelete, models.SyncStatusDeleted)

	return &SyncResult{ProductID: productID, Operation: models.OpDelete, Status: models.SyncStatusDeleted}, nil
}

func (p *Processor) upsertProduct(ctx context.Context, productID string, op models.Operation) (*SyncResult, error) {
	record, err := p.store.GetSyncRecord(ctx, productID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &models.SyncRecord{
			ProductID:  productID,
			RetailerID: productID,
			Status:     models.SyncStatusPending,
		}
	}

	product, err := p.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			return p.failTerminal(ctx, record, op, meta.KindNotFound, "product not found in store")
		}
		return nil, err
	}

	if problems := transform.Validate(product); len(problems) > 0 {
		return p.failTerminal(ctx, record, op, meta.KindValidation, "validation: "+strings.Join(problems, "; "))
	}

	item := transform.Transform(product)
	payload, _ := json.Marshal(item)

	start := time.Now()
	externalID, upsertErr := p.client.Upsert(ctx, item)
	duration := time.Since(start).Milliseconds()

	if upsertErr != nil {
		return p.failAttempt(ctx, record, op, string(payload), upsertErr, duration)
	}

	metrics.IncSyncAttempt(string(op), "success")
	now := time.Now()
	record.Status = models.SyncStatusSynced
	record.ExternalID = externalID
	record.LastSyncedAt = &now
	record.LastError = nil
	record.RetryCount = 0
	record.Terminal = false
	record.IsDeleted = false
	if err := p.store.UpsertSyncRecord(ctx, record); err != nil {
		return nil, err
	}
	p.appendLog(ctx, productID, record.RetailerID, op, models.LogStatusSuccess, string(payload), externalID, nil, duration)
	p.publishEvent(ctx, productID, op, models.SyncStatusSynced)

	return &SyncResult{
		ProductID:  productID,
		Operation:  op,
		Status:     models.SyncStatusSynced,
		ExternalID: externalID,
	}, nil
}

// failTerminal records a non-retryable failure. No retry budget is
// consumed, no dead-letter escalation happens, and the record is marked
// terminal so automatic retries skip it.
func (p *Processor) failTerminal(ctx context.Context, record *models.SyncRecord, op models.Operation, kind meta.ErrorKind, msg string) (*SyncResult, error) {
	metrics.IncSyncAttempt(string(op), "terminal")
	record.Status = models.SyncStatusFailed
	record.LastError = &msg
	record.Terminal = true
	if err := p.store.UpsertSyncRecord(ctx, record); err != nil {
		return nil, err
	}
	p.appendLog(ctx, record.ProductID, record.RetailerID, op, models.LogStatusFailed, "", "", &msg, 0)
	p.publishEvent(ctx, record.ProductID, op, models.SyncStatusFailed)

	return &SyncResult{
		ProductID: record.ProductID,
		Operation: op,
		Status:    models.SyncStatusFailed,
		ErrorKind: kind,
		Error:     msg,
	}, fmt.Errorf("sync %s %s: %s", op, record.ProductID, msg)
}

// failAttempt records a retryable failure and evaluates dead-letter
// escalation after incrementing the retry count.
func (p *Processor) failAttempt(ctx context.Context, record *models.SyncRecord, op models.Operation, payload string, cause error, durationMS int64) (*SyncResult, error) {
	metrics.IncSyncAttempt(string(op), "failure")
	kind := meta.KindOf(cause)
	msg := cause.Error()

	record.Status = models.SyncStatusFailed
	record.LastError = &msg
	record.RetryCount++
	record.Terminal = false
	if err := p.store.UpsertSyncRecord(ctx, record); err != nil {
		return nil, err
	}
	p.appendLog(ctx, record.ProductID, record.RetailerID, op, models.LogStatusFailed, payload, "", &msg, durationMS)
	p.publishEvent(ctx, record.ProductID, op, models.SyncStatusFailed)

	if kind == meta.KindAuth {
		// Broken credentials need an operator now, not after N retries
		p.alerter.SendAlert(ctx, alerting.KindAuthFailure, map[string]any{
			"product_id": record.ProductID,
			"error":      msg,
		})
	}

	if record.RetryCount >= p.opts.MaxRetries {
		if err := p.escalate(ctx, record, op, payload, msg); err != nil {
			p.logger.Error().Err(err).Str("product_id", record.ProductID).Msg("Dead-letter escalation failed")
		}
	}

	return &SyncResult{
		ProductID: record.ProductID,
		Operation: op,
		Status:    models.SyncStatusFailed,
		ErrorKind: kind,
		Error:     msg,
	}, cause
}

// escalate inserts exactly one dead letter per ceiling crossing: while an
// unresolved item exists for the product, further failures do not insert
// another row or re-alert.
func (p *Processor) escalate(ctx context.Context, record *models.SyncRecord, op models.Operation, payload, msg string) error {
	exists, err := p.store.HasUnresolvedDeadLetter(ctx, record.ProductID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	item := &models.DeadLetterItem{
		ProductID:  record.ProductID,
		RetailerID: record.RetailerID,
		Operation:  op,
		Payload:    payload,
		Error:      msg,
		RetryCount: record.RetryCount,
	}
	if err := p.store.CreateDeadLetter(ctx, item); err != nil {
		return err
	}

	metrics.IncDeadLetter()
	p.logger.Error().
		Str("product_id", record.ProductID).
		Int("retry_count", record.RetryCount).
		Msg("Retry budget exhausted, item dead-lettered")

	p.alerter.SendAlert(ctx, alerting.KindDeadLetter, map[string]any{
		"product_id":  record.ProductID,
		"operation":   string(op),
		"retry_count": record.RetryCount,
		"error":       msg,
	})

	if p.publisher != nil {
		if err := p.publisher.PublishDeadLetter(ctx, item); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to mirror dead letter to redis")
		}
	}

	return nil
}

// RetryDeadLetter resets the product's retry budget and re-runs the
// original operation. Success resolves the item; failure leaves it
// unresolved for a future attempt.
func (p *Processor) RetryDeadLetter(ctx context.Context, id int64) (*SyncResult, error) {
	item, err := p.store.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Resolved {
		return nil, fmt.Errorf("dead letter %d is already resolved", id)
	}

	record, err := p.store.GetSyncRecord(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		record.Status = models.SyncStatusPending
		record.RetryCount = 0
		record.Terminal = false
		if err := p.store.UpsertSyncRecord(ctx, record); err != nil {
			return nil, err
		}
	}

	result, syncErr := p.SyncProduct(ctx, item.ProductID, item.Operation)
	if syncErr != nil {
		return result, syncErr
	}

	if result.Status == models.SyncStatusSynced || result.Status == models.SyncStatusDeleted {
		if err := p.store.ResolveDeadLetter(ctx, id); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Status returns the aggregate sync state for observability endpoints.
func (p *Processor) Status(ctx context.Context) (*models.SyncStatusSummary, error) {
	return p.store.GetSyncStatusSummary(ctx)
}

// DeadLetters lists dead-letter items.
func (p *Processor) DeadLetters(ctx context.Context, unresolvedOnly bool) ([]*models.DeadLetterItem, error) {
	return p.store.GetDeadLetters(ctx, unresolvedOnly)
}

// ProductLogs returns recent audit entries for one product.
func (p *Processor) ProductLogs(ctx context.Context, productID string, limit int) ([]*models.SyncLogEntry, error) {
	return p.store.GetProductSyncLogs(ctx, productID, limit)
}

func (p *Processor) appendLog(ctx context.Context, productID, retailerID string, op models.Operation, status, request, response string, errMsg *string, durationMS int64) {
	entry := &models.SyncLogEntry{
		ProductID:  productID,
		RetailerID: retailerID,
		Operation:  op,
		Status:     status,
		Request:    request,
		Response:   response,
		Error:      errMsg,
		DurationMS: durationMS,
	}
	if err := p.store.AppendSyncLog(ctx, entry); err != nil {
		p.logger.Error().Err(err).Str("product_id", productID).Msg("Failed to append sync log")
	}
}

func (p *Processor) publishEvent(ctx context.Context, productID string, op models.Operation, status string) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishSyncEvent(ctx, productID, op, status); err != nil {
		p.logger.Debug().Err(err).Msg("Failed to publish sync event")
	}
}
