// Package alerting delivers operator notifications over Telegram.
// Delivery is fire-and-forget: a broken alert channel must never block or
// fail the sync pipeline, so errors are logged and swallowed here.
package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"metasync/internal/config"
	"metasync/internal/domain"
	"metasync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Alert kinds used across the service.
const (
	KindDeadLetter      = "dead_letter"
	KindAuthFailure     = "auth_failure"
	KindReconcileFailed = "reconcile_failed"
	KindMismatchSpike   = "mismatch_spike"
)

type TelegramAlerter struct {
	bot     domain.TelegramSender
	chatIDs []int64
	logger  zerolog.Logger
}

func NewTelegramAlerter(bot domain.TelegramSender, cfg config.AlertingConfig, logger *zerolog.Logger) *TelegramAlerter {
	return &TelegramAlerter{
		bot:     bot,
		chatIDs: cfg.ChatIDs,
		logger:  logger.With().Str("component", "alerting").Logger(),
	}
}

func (a *TelegramAlerter) SendAlert(ctx context.Context, kind string, payload map[string]any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ metasync: %s\n", kind)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, payload[k])
	}

	a.broadcast(sb.String())
}

func (a *TelegramAlerter) SendDailySummary(ctx context.Context, result models.ReconciliationResult) {
	msg := fmt.Sprintf(
		"📊 Reconciliation summary (%s)\ntotal: %d\nmissing: %d\norphaned: %d\nstale: %d\nfixed: %d\nerrors: %d\nduration: %s",
		result.RanAt.Format("2006-01-02 15:04"),
		result.Total,
		result.Missing,
		result.Orphaned,
		result.Stale,
		result.Fixed,
		result.Errors,
		result.Duration.Round(time.Millisecond),
	)
	a.broadcast(msg)
}

func (a *TelegramAlerter) broadcast(text string) {
	for _, chatID := range a.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := a.bot.Send(msg); err != nil {
			a.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to deliver alert")
		}
	}
}

// Noop is used when alerting is disabled in config.
type Noop struct{}

func (Noop) SendAlert(context.Context, string, map[string]any) {}

func (Noop) SendDailySummary(context.Context, models.ReconciliationResult) {}
