package alerting

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"metasync/internal/config"
	"metasync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func newTestAlerter(sender *fakeSender, chatIDs ...int64) *TelegramAlerter {
	logger := zerolog.New(os.Stdout)
	return NewTelegramAlerter(sender, config.AlertingConfig{ChatIDs: chatIDs}, &logger)
}

func TestSendAlert(t *testing.T) {
	sender := &fakeSender{}
	alerter := newTestAlerter(sender, 1, 2)

	alerter.SendAlert(context.Background(), KindDeadLetter, map[string]any{
		"product_id": "p-1",
		"error":      "network error",
	})

	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(1), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "dead_letter")
	assert.Contains(t, sender.sent[0].Text, "p-1")
}

func TestSendDailySummary(t *testing.T) {
	sender := &fakeSender{}
	alerter := newTestAlerter(sender, 7)

	alerter.SendDailySummary(context.Background(), models.ReconciliationResult{
		Total:    100,
		Missing:  2,
		Orphaned: 1,
		Stale:    3,
		Fixed:    5,
		Duration: 1500 * time.Millisecond,
		RanAt:    time.Now(),
	})

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "missing: 2")
	assert.Contains(t, sender.sent[0].Text, "fixed: 5")
}

func TestSendAlertSwallowsErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	alerter := newTestAlerter(sender, 1)

	assert.NotPanics(t, func() {
		alerter.SendAlert(context.Background(), KindAuthFailure, nil)
	})
}
