package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/models"
)

// WebhookPayload is the body POSTed to a merchant's webhook URL.
type WebhookPayload struct {
	PaymentID string               `json:"payment_id"`
	Status    models.PaymentStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

// WebhookNotifier delivers status notifications with a bounded number of attempts.
// Delivery failures are logged and dropped.
type WebhookNotifier struct {
	Client      *http.Client
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Log         *logrus.Entry
}

func NewWebhookNotifier(maxAttempts int, baseDelay time.Duration, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		Client:      &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    30 * time.Second,
		Log:         logger.WithField("component", "webhook"),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, endpoint, paymentID string, status models.PaymentStatus) {
	body, err := json.Marshal(WebhookPayload{
		PaymentID: paymentID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		n.Log.WithError(err).Error("failed to encode webhook payload")
		return
	}

	entry := n.Log.WithFields(logrus.Fields{
		"payment_id": paymentID,
		"status":     status,
		"endpoint":   endpoint,
	})

	attempts := max(n.MaxAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		err = n.post(ctx, endpoint, body)
		if err == nil {
			entry.WithField("attempt", attempt).Debug("webhook delivered")
			return
		}
		entry.WithField("attempt", attempt).WithError(err).Warn("webhook delivery failed")

		if attempt == attempts {
			break
		}
		delay := min(n.BaseDelay*time.Duration(1<<(attempt-1)), n.MaxDelay)
		select {
		case <-ctx.Done():
			entry.WithError(ctx.Err()).Warn("webhook dropped")
			return
		case <-time.After(delay):
		}
	}
	entry.Error("webhook dropped after retries")
}

func (n *WebhookNotifier) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
