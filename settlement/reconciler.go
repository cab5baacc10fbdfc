package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/models"
)

// ReasonExecutionInterrupted marks conversions abandoned mid-flight; the on-chain outcome must be
// reconciled by hand.
const ReasonExecutionInterrupted = "execution interrupted, unknown outcome"

// Reconciler performs the scheduled checks: it re-drives received payments of auto-settling
// merchants left behind by a transient quote failure, and fails conversions that have been
// in flight for longer than StaleAfter.
type Reconciler struct {
	Orchestrator  *Orchestrator
	Interval      time.Duration
	StaleAfter    time.Duration
	ReceivedGrace time.Duration
	BatchSize     int

	Now func() time.Time
}

type ReconcileSummary struct {
	Resumed int
	Expired int
}

func NewReconciler(o *Orchestrator, interval, staleAfter time.Duration) *Reconciler {
	return &Reconciler{
		Orchestrator:  o,
		Interval:      interval,
		StaleAfter:    staleAfter,
		ReceivedGrace: time.Minute,
		BatchSize:     100,
		Now:           time.Now,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.Orchestrator.log.WithError(err).Warn("reconcile pass failed")
			}
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	o := r.Orchestrator
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	received, err := o.deps.Store.ListByStatus(ctx, models.StatusReceived, now.Add(-r.ReceivedGrace), r.BatchSize)
	if err != nil {
		return summary, err
	}
	for i := range received {
		p := &received[i]
		merchant, err := o.merchant(ctx, p.MerchantID)
		if err != nil {
			o.log.WithField("payment_id", p.ID).WithError(err).Warn("skipping received payment")
			continue
		}
		if !merchant.AutoSettlement {
			continue
		}
		result, err := o.convert(ctx, p, merchant)
		if err != nil && !errors.Is(err, ErrTransient) {
			return summary, err
		}
		if result.Status != models.StatusReceived {
			summary.Resumed++
		}
	}

	stale, err := o.deps.Store.ListByStatus(ctx, models.StatusConverting, now.Add(-r.StaleAfter), r.BatchSize)
	if err != nil {
		return summary, err
	}
	for i := range stale {
		p := &stale[i]
		// A missing merchant only means nobody gets notified.
		merchant, _ := o.merchant(ctx, p.MerchantID)
		_, won, err := o.transition(ctx, p, models.StatusFailed, models.TransitionFields{FailureReason: ptr(ReasonExecutionInterrupted)}, merchant)
		if err != nil {
			return summary, err
		}
		if won {
			summary.Expired++
		}
	}

	if summary.Resumed > 0 || summary.Expired > 0 {
		o.log.WithFields(logrus.Fields{
			"resumed": summary.Resumed,
			"expired": summary.Expired,
		}).Info("reconcile pass complete")
	}
	return summary, nil
}

func ptr(s string) *string {
	return &s
}
