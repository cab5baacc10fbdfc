package utils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swapsettle/gateway/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWebhookNotifier(t *testing.T) {
	t.Run("Delivers Payload", func(t *testing.T) {
		var got WebhookPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		n := NewWebhookNotifier(3, time.Millisecond, quietLogger())
		n.Notify(context.Background(), server.URL, "pay-1", models.StatusSettled)

		assert.Equal(t, "pay-1", got.PaymentID)
		assert.Equal(t, models.StatusSettled, got.Status)
		assert.False(t, got.Timestamp.IsZero())
	})

	t.Run("Retries Then Succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		n := NewWebhookNotifier(3, time.Millisecond, quietLogger())
		n.Notify(context.Background(), server.URL, "pay-1", models.StatusFailed)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Gives Up After Max Attempts", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		n := NewWebhookNotifier(2, time.Millisecond, quietLogger())
		n.Notify(context.Background(), server.URL, "pay-1", models.StatusFailed)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Stops On Cancel", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		n := NewWebhookNotifier(5, time.Hour, quietLogger())
		n.Notify(ctx, server.URL, "pay-1", models.StatusFailed)
		assert.LessOrEqual(t, calls.Load(), int32(1))
	})
}

type fakeSender struct {
	sent    []tgbotapi.Chattable
	sendErr error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func TestTelegramAlerter(t *testing.T) {
	sender := &fakeSender{}
	alerter := &TelegramAlerter{bot: sender, chatID: 42}

	require.NoError(t, alerter.Alert(context.Background(), "payment p1 failed: no route"))
	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "payment p1 failed: no route")

	sender.sendErr = errors.New("telegram down")
	assert.Error(t, alerter.Alert(context.Background(), "again"))
}
