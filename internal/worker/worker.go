// Package worker serializes catalog sync work behind a single consumer so
// the processor never sees concurrent calls for the same product.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"metasync/internal/config"
	"metasync/internal/domain"
	"metasync/internal/models"
	"metasync/internal/processor"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisQueueKey = "metasync:queue"

// Task is one unit of sync work.
type Task struct {
	ProductID string           `json:"product_id"`
	Operation models.Operation `json:"operation"`
	CreatedAt time.Time        `json:"created_at"`
}

type Worker struct {
	proc         *processor.Processor
	store        domain.SyncStore
	redis        *redis.Client
	queue        chan Task
	pollInterval time.Duration
	maxRetries   int
	logger       zerolog.Logger
}

func New(proc *processor.Processor, store domain.SyncStore, redisClient *redis.Client, cfg config.SyncConfig, logger *zerolog.Logger) *Worker {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 128
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.MaxRetries
	}

	return &Worker{
		proc:         proc,
		store:        store,
		redis:        redisClient,
		queue:        make(chan Task, queueSize),
		pollInterval: pollInterval,
		maxRetries:   maxRetries,
		logger:       logger.With().Str("component", "worker").Logger(),
	}
}

// Enqueue schedules a sync task. Redis is tried first so a restart does
// not lose queued work; the in-memory channel is the fallback. A full
// channel is not an error: the poll loop picks the record up later.
func (w *Worker) Enqueue(ctx context.Context, productID string, op models.Operation) error {
	if productID == "" {
		return errors.New("product id is required")
	}
	if _, err := models.ParseOperation(string(op)); err != nil {
		return err
	}

	task := Task{ProductID: productID, Operation: op, CreatedAt: time.Now()}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().
			Str("product_id", productID).
			Msg("In-memory queue full, task left for the poll loop")
	}
	return nil
}

// Start runs the consume loop until ctx is done. It is the only caller of
// the processor in production.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Msg("Worker started")
	defer w.logger.Info().Msg("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if task, ok := w.tryLocalQueue(); ok {
			w.run(ctx, task)
			continue
		}

		if task, ok := w.tryRedis(ctx); ok {
			w.run(ctx, task)
			continue
		}

		if w.drainPending(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) tryLocalQueue() (Task, bool) {
	select {
	case task := <-w.queue:
		return task, true
	default:
		return Task{}, false
	}
}

func (w *Worker) tryRedis(ctx context.Context) (Task, bool) {
	if w.redis == nil {
		return Task{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			w.logger.Warn().Err(err).Msg("Redis BRPOP failed")
		}
		return Task{}, false
	}
	if len(res) != 2 {
		return Task{}, false
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode queued task")
		return Task{}, false
	}
	return task, true
}

// drainPending picks up records left pending by a restart or a full
// queue, plus failed records that still have retry budget.
func (w *Worker) drainPending(ctx context.Context) bool {
	worked := false

	pending, err := w.store.GetSyncRecordsByStatus(ctx, models.SyncStatusPending, 20)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending records")
		return false
	}
	for _, record := range pending {
		w.run(ctx, Task{ProductID: record.ProductID, Operation: models.OpUpdate})
		worked = true
	}

	failed, err := w.store.GetSyncRecordsByStatus(ctx, models.SyncStatusFailed, 20)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch failed records")
		return worked
	}
	// Failed records are retried at most once per poll pass so a broken
	// upstream does not burn the retry budget in a tight loop. Terminal
	// failures are not retried at all: the input is wrong, not the
	// network.
	for _, record := range failed {
		if record.Terminal || record.RetryCount >= w.maxRetries {
			continue
		}
		w.run(ctx, Task{ProductID: record.ProductID, Operation: models.OpUpdate})
	}

	return worked
}

func (w *Worker) run(ctx context.Context, task Task) {
	result, err := w.proc.SyncProduct(ctx, task.ProductID, task.Operation)
	if err != nil {
		w.logger.Warn().
			Err(err).
			Str("product_id", task.ProductID).
			Str("operation", string(task.Operation)).
			Msg("Sync task failed")
		return
	}
	w.logger.Debug().
		Str("product_id", task.ProductID).
		Str("status", result.Status).
		Msg("Sync task done")
}

func (w *Worker) pushRedis(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	return w.redis.LPush(ctx, redisQueueKey, data).Err()
}
