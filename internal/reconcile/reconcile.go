// Package reconcile implements the daily full-set comparison between the
// local product store and the external catalog. It detects products the
// catalog lost, items it should not have, and items whose fields drifted,
// then drives corrections through the regular sync path.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"metasync/internal/alerting"
	"metasync/internal/domain"
	"metasync/internal/metrics"
	"metasync/internal/models"
	"metasync/internal/processor"
	"metasync/internal/transform"

	"github.com/rs/zerolog"
)

// Syncer is the slice of the processor the job drives corrections through.
type Syncer interface {
	SyncProduct(ctx context.Context, productID string, op models.Operation) (*processor.SyncResult, error)
}

const (
	classMissing  = "missing"
	classOrphaned = "orphaned"
	classStale    = "stale"
)

// ErrAlreadyRunning is returned by Run when another pass is still in
// flight, whether it was started by the scheduler or over HTTP.
var ErrAlreadyRunning = errors.New("reconciliation already running")

type Job struct {
	runMu     sync.Mutex
	products  domain.ProductStore
	store     domain.SyncStore
	client    domain.CatalogAPI
	syncer    Syncer
	alerter   domain.Alerter
	batchSize int
	pageSize  int
	logger    zerolog.Logger
}

func New(products domain.ProductStore, store domain.SyncStore, client domain.CatalogAPI, syncer Syncer, alerter domain.Alerter, batchSize, pageSize int, logger *zerolog.Logger) *Job {
	if batchSize <= 0 {
		batchSize = models.DefaultReconcileBatchSize
	}
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}
	return &Job{
		products:  products,
		store:     store,
		client:    client,
		syncer:    syncer,
		alerter:   alerter,
		batchSize: batchSize,
		pageSize:  pageSize,
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// Run executes one reconciliation pass. A failed catalog listing aborts
// the run with zero corrections: a partial remote view would misclassify
// every unseen item as missing. At most one pass runs at a time; an
// overlapping call returns ErrAlreadyRunning without touching the audit
// log.
func (j *Job) Run(ctx context.Context) (models.ReconciliationResult, error) {
	if !j.runMu.TryLock() {
		return models.ReconciliationResult{RanAt: time.Now()}, ErrAlreadyRunning
	}
	defer j.runMu.Unlock()

	start := time.Now()
	result := models.ReconciliationResult{RanAt: start}

	local, err := j.products.GetAllProducts(ctx)
	if err != nil {
		return j.fail(ctx, result, start, fmt.Errorf("failed to load local products: %w", err))
	}
	result.Total = len(local)

	remote, err := j.client.ListAll(ctx, j.pageSize)
	if err != nil {
		return j.fail(ctx, result, start, fmt.Errorf("failed to list catalog: %w", err))
	}

	localByID := make(map[string]*models.Product, len(local))
	for _, p := range local {
		localByID[p.ID] = p
	}
	remoteByID := make(map[string]*models.CatalogItem, len(remote))
	for _, item := range remote {
		remoteByID[item.RetailerID] = item
	}

	var toUpsert, toDelete []string
	for _, p := range local {
		item, ok := remoteByID[p.ID]
		if !ok {
			result.Missing++
			metrics.IncReconcileMismatch(classMissing)
			toUpsert = append(toUpsert, p.ID)
			continue
		}
		if transform.HasChanged(transform.Transform(p), item) {
			result.Stale++
			metrics.IncReconcileMismatch(classStale)
			toUpsert = append(toUpsert, p.ID)
		}
	}
	for id := range remoteByID {
		if _, ok := localByID[id]; !ok {
			result.Orphaned++
			metrics.IncReconcileMismatch(classOrphaned)
			toDelete = append(toDelete, id)
		}
	}

	j.logger.Info().
		Int("total", result.Total).
		Int("missing", result.Missing).
		Int("orphaned", result.Orphaned).
		Int("stale", result.Stale).
		Msg("Reconciliation classified mismatches")

	fixed, errs := j.applyBatches(ctx, toUpsert, models.OpUpdate)
	result.Fixed += fixed
	result.Errors += errs

	// Orphan deletions go one by one: there are rarely many and each is
	// already idempotent.
	for _, id := range toDelete {
		if ctx.Err() != nil {
			result.Errors++
			continue
		}
		if _, err := j.syncer.SyncProduct(ctx, id, models.OpDelete); err != nil {
			result.Errors++
			continue
		}
		result.Fixed++
	}

	result.Duration = time.Since(start)
	j.appendAuditRow(ctx, result, nil)
	j.alerter.SendDailySummary(ctx, result)

	if threshold := j.mismatchThreshold(result.Total); result.Mismatches() > threshold {
		j.alerter.SendAlert(ctx, alerting.KindMismatchSpike, map[string]any{
			"mismatches": result.Mismatches(),
			"threshold":  threshold,
			"total":      result.Total,
		})
	}

	return result, nil
}

// applyBatches drives corrections through the sync path in bounded
// concurrent batches, waiting for each batch before starting the next.
func (j *Job) applyBatches(ctx context.Context, ids []string, op models.Operation) (fixed, errs int) {
	var mu sync.Mutex

	for len(ids) > 0 {
		if ctx.Err() != nil {
			errs += len(ids)
			return fixed, errs
		}

		n := j.batchSize
		if n > len(ids) {
			n = len(ids)
		}
		batch := ids[:n]
		ids = ids[n:]

		var wg sync.WaitGroup
		for _, id := range batch {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := j.syncer.SyncProduct(ctx, id, op)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs++
				} else {
					fixed++
				}
			}(id)
		}
		wg.Wait()
	}
	return fixed, errs
}

func (j *Job) fail(ctx context.Context, result models.ReconciliationResult, start time.Time, cause error) (models.ReconciliationResult, error) {
	result.Errors++
	result.Duration = time.Since(start)
	j.logger.Error().Err(cause).Msg("Reconciliation aborted")
	j.appendAuditRow(ctx, result, cause)
	j.alerter.SendAlert(ctx, alerting.KindReconcileFailed, map[string]any{
		"error": cause.Error(),
	})
	return result, cause
}

// appendAuditRow writes the single RECONCILE entry for this run.
func (j *Job) appendAuditRow(ctx context.Context, result models.ReconciliationResult, cause error) {
	status := models.LogStatusSuccess
	var errMsg *string
	if cause != nil {
		status = models.LogStatusFailed
		msg := cause.Error()
		errMsg = &msg
	}

	summary, _ := json.Marshal(result)
	entry := &models.SyncLogEntry{
		ProductID:  "-",
		RetailerID: "-",
		Operation:  models.OpReconcile,
		Status:     status,
		Response:   string(summary),
		Error:      errMsg,
		DurationMS: result.Duration.Milliseconds(),
	}
	if err := j.store.AppendSyncLog(ctx, entry); err != nil {
		j.logger.Error().Err(err).Msg("Failed to append reconcile audit row")
	}
}

// mismatchThreshold is 5% of the local set with a floor of 5 so small
// catalogs do not alert on a single flapping item.
func (j *Job) mismatchThreshold(total int) int {
	threshold := total / 20
	if threshold < 5 {
		threshold = 5
	}
	return threshold
}
