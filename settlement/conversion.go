package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/models"
)

var bpsDenominator = decimal.NewFromInt(10000)

// MinAmountOut applies a slippage tolerance in basis points to an estimated output,
// truncated to the 7 decimal places a Stellar amount can carry.
func MinAmountOut(estimate decimal.Decimal, slippageBps int) decimal.Decimal {
	factor := bpsDenominator.Sub(decimal.NewFromInt(int64(slippageBps))).Div(bpsDenominator)
	return estimate.Mul(factor).Truncate(7)
}

// convert runs the received -> converting -> settled|failed leg. The quote is always fetched
// fresh here; the advisory quote stored at creation is never executed.
func (o *Orchestrator) convert(ctx context.Context, p *models.Payment, merchant *models.Merchant) (*models.Payment, error) {
	quote, quoteErr := o.quote(ctx, p)
	if quoteErr != nil && !errors.Is(quoteErr, ErrNoRoute) {
		o.log.WithField("payment_id", p.ID).WithError(quoteErr).Warn("quote unavailable, payment stays received")
		return p, fmt.Errorf("%w: quote: %v", ErrTransient, quoteErr)
	}

	claimed, won, err := o.transition(ctx, p, models.StatusConverting, models.TransitionFields{}, merchant)
	if err != nil || !won {
		return claimed, err
	}

	// The claim is ours: finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if quoteErr != nil {
		return o.fail(ctx, claimed, ErrNoRoute.Error(), merchant)
	}

	entry := o.log.WithFields(logrus.Fields{
		"payment_id":    p.ID,
		"amount_in":     quote.AmountIn.String(),
		"estimate_out":  quote.AmountOutEstimate.String(),
		"min_out":       quote.MinAmountOut.String(),
		"route":         quote.Route,
		"payer_address": claimed.PaymentAddress,
		"currency_out":  quote.CurrencyOut,
	})
	entry.Info("executing conversion")

	o.Metrics.Executions.Add(1)
	ectx, cancel := context.WithTimeout(ctx, o.settings.ExecuteTimeout)
	execution, err := o.deps.Executor.Execute(ectx, quote, claimed.PaymentAddress)
	cancel()
	if err != nil {
		entry.WithError(err).Warn("conversion failed")
		return o.fail(ctx, claimed, executionFailureReason(err), merchant)
	}

	ref := execution.SettlementRef
	settled, won, err := o.transition(ctx, claimed, models.StatusSettled, models.TransitionFields{SettlementRef: &ref}, merchant)
	if err != nil {
		entry.WithField("settlement_ref", ref).WithError(err).Error("conversion executed but settlement could not be recorded")
		o.alert(ctx, fmt.Sprintf("payment %s executed as %s but could not be marked settled: %v", p.ID, ref, err))
		return settled, err
	}
	if !won {
		entry.WithFields(logrus.Fields{
			"settlement_ref": ref,
			"current":        settled.Status,
		}).Error("conversion executed after the payment left converting")
		o.alert(ctx, fmt.Sprintf("payment %s executed as %s but is already %s", p.ID, ref, settled.Status))
		return settled, fmt.Errorf("%w: %s", ErrSettlementNotRecorded, ref)
	}
	return settled, nil
}

func (o *Orchestrator) quote(ctx context.Context, p *models.Payment) (*Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, o.settings.QuoteTimeout)
	defer cancel()

	quote, err := o.deps.Quotes.GetQuote(qctx, QuoteRequest{
		CurrencyIn:     p.CurrencyIn,
		CurrencyOut:    p.CurrencyOut,
		AmountIn:       p.AmountIn,
		MaxSlippageBps: o.settings.MaxSlippageBps,
	})
	if err != nil {
		return nil, err
	}
	if quote == nil || !quote.AmountOutEstimate.IsPositive() {
		return nil, ErrNoRoute
	}
	return quote, nil
}

func (o *Orchestrator) fail(ctx context.Context, p *models.Payment, reason string, merchant *models.Merchant) (*models.Payment, error) {
	failed, _, err := o.transition(ctx, p, models.StatusFailed, models.TransitionFields{FailureReason: &reason}, merchant)
	return failed, err
}

func executionFailureReason(err error) string {
	if !errors.Is(err, ErrExecutionTimeout) && errors.Is(err, context.DeadlineExceeded) {
		return ErrExecutionTimeout.Error()
	}
	return err.Error()
}
