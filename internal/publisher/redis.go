// Package publisher mirrors sync events and dead letters to Redis lists
// so external consumers (dashboards, on-call tooling) can watch the
// pipeline without touching the SQLite store. Publishing is best-effort.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"metasync/internal/config"
	"metasync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	deadLetterKey = "metasync:deadletters"
	syncEventKey  = "metasync:events"

	// Lists stay bounded; consumers are expected to drain them.
	maxListLen = 10000
)

// NewRedisClient создает новый клиент Redis на основе конфигурации.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishDeadLetter(ctx context.Context, item *models.DeadLetterItem) error {
	if p.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := p.client.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return p.client.LTrim(ctx, deadLetterKey, 0, maxListLen-1).Err()
}

type syncEvent struct {
	ProductID string           `json:"product_id"`
	Operation models.Operation `json:"operation"`
	Status    string           `json:"status"`
	At        time.Time        `json:"at"`
}

func (p *RedisPublisher) PublishSyncEvent(ctx context.Context, productID string, op models.Operation, status string) error {
	if p.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(syncEvent{
		ProductID: productID,
		Operation: op,
		Status:    status,
		At:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}
	if err := p.client.LPush(ctx, syncEventKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push sync event: %w", err)
	}
	return p.client.LTrim(ctx, syncEventKey, 0, maxListLen-1).Err()
}
