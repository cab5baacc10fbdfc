package settlement

import (
	"context"
	"fmt"

	"github.com/swapsettle/gateway/models"
)

// announce reports a terminal transition on detached tasks; it never blocks the caller
// and its outcome never affects the persisted status.
func (o *Orchestrator) announce(p models.Payment, merchant *models.Merchant) {
	if o.deps.Notifier != nil && merchant != nil && merchant.WebhookURL != "" {
		o.Metrics.NotificationsOut.Add(1)
		endpoint := merchant.WebhookURL
		o.tasks.Add(1)
		go func() {
			defer o.tasks.Done()
			o.deps.Notifier.Notify(context.Background(), endpoint, p.ID, p.Status)
		}()
	}

	if p.Status == models.StatusFailed {
		o.alert(context.Background(), fmt.Sprintf("payment %s (merchant %s) failed: %s", p.ID, p.MerchantID, p.Reason()))
	}
}

func (o *Orchestrator) alert(ctx context.Context, text string) {
	if o.deps.Alerter == nil {
		return
	}
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		if err := o.deps.Alerter.Alert(ctx, text); err != nil {
			o.log.WithError(err).Warn("operator alert dropped")
		}
	}()
}
