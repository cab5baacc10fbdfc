package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/models"
)

const (
	DefaultMaxSlippageBps = 50
	DefaultQuoteTimeout   = 10 * time.Second
	DefaultVerifyTimeout  = 10 * time.Second
	DefaultExecuteTimeout = 30 * time.Second
)

// Settings holds the orchestrator policy knobs.
type Settings struct {
	SettlementAsset string
	MaxSlippageBps  int
	QuoteTimeout    time.Duration
	VerifyTimeout   time.Duration
	ExecuteTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MaxSlippageBps <= 0 {
		s.MaxSlippageBps = DefaultMaxSlippageBps
	}
	if s.QuoteTimeout <= 0 {
		s.QuoteTimeout = DefaultQuoteTimeout
	}
	if s.VerifyTimeout <= 0 {
		s.VerifyTimeout = DefaultVerifyTimeout
	}
	if s.ExecuteTimeout <= 0 {
		s.ExecuteTimeout = DefaultExecuteTimeout
	}
	return s
}

// Dependencies are the collaborators the orchestrator drives. Notifier and Alerter are optional.
type Dependencies struct {
	Store     Store
	Merchants MerchantDirectory
	Quotes    QuoteService
	Executor  ExecutionService
	Ledger    LedgerVerifier
	Notifier  Notifier
	Alerter   Alerter
}

// Orchestrator drives payments through pending -> received -> converting -> settled,
// moving them to failed on terminal collaborator errors.
type Orchestrator struct {
	deps     Dependencies
	settings Settings
	log      *logrus.Entry
	Metrics  *Counters

	tasks sync.WaitGroup
}

func NewOrchestrator(deps Dependencies, settings Settings, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		settings: settings.withDefaults(),
		log:      logger.WithField("component", "settlement"),
		Metrics:  &Counters{},
	}
}

// CreatePayment validates the request, records an advisory quote and stores a pending payment.
func (o *Orchestrator) CreatePayment(ctx context.Context, merchantID string, amountIn decimal.Decimal, currencyIn string) (*models.Payment, error) {
	if !amountIn.IsPositive() || !amountIn.Equal(amountIn.Truncate(7)) {
		return nil, ErrInvalidAmount
	}
	asset, err := models.ParseAsset(currencyIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCurrency, err)
	}
	if asset.String() == o.settings.SettlementAsset {
		return nil, ErrSameCurrency
	}

	merchant, err := o.merchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, o.settings.QuoteTimeout)
	defer cancel()
	quote, err := o.deps.Quotes.GetQuote(qctx, QuoteRequest{
		CurrencyIn:     asset.String(),
		CurrencyOut:    o.settings.SettlementAsset,
		AmountIn:       amountIn,
		MaxSlippageBps: o.settings.MaxSlippageBps,
	})
	if errors.Is(err, ErrNoRoute) {
		return nil, fmt.Errorf("%w: no route from %s", ErrInvalidCurrency, asset)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: quote: %v", ErrTransient, err)
	}
	if quote.AmountOutEstimate.LessThan(merchant.MinSettlementAmount) {
		return nil, ErrBelowMinimum
	}

	payment := &models.Payment{
		ID:              uuid.NewString(),
		MerchantID:      merchant.ID,
		AmountIn:        amountIn,
		CurrencyIn:      asset.String(),
		CurrencyOut:     o.settings.SettlementAsset,
		QuotedAmountOut: quote.AmountOutEstimate,
		PaymentAddress:  merchant.WalletAddress,
		Status:          models.StatusPending,
	}
	if err := o.deps.Store.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	o.Metrics.PaymentsCreated.Add(1)
	o.log.WithFields(logrus.Fields{
		"payment_id":  payment.ID,
		"merchant_id": merchant.ID,
		"amount_in":   amountIn.String(),
		"currency_in": payment.CurrencyIn,
	}).Info("payment created")

	return payment, nil
}

func (o *Orchestrator) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return o.deps.Store.GetByID(ctx, id)
}

// PaymentHistory returns the recorded status transitions of a payment, oldest first.
func (o *Orchestrator) PaymentHistory(ctx context.Context, id string) ([]models.PaymentTransition, error) {
	return o.deps.Store.History(ctx, id)
}

func (o *Orchestrator) ListPayments(ctx context.Context, merchantID string, limit int) ([]models.Payment, error) {
	return o.deps.Store.ListByMerchant(ctx, merchantID, limit)
}

// SubmitTransferReference verifies ref against the ledger and advances a pending payment.
// A payment already past pending is returned unchanged without another verification.
// A transfer that is not yet confirmed leaves the payment pending and is not an error.
func (o *Orchestrator) SubmitTransferReference(ctx context.Context, id, ref string) (*models.Payment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyTransferRef
	}

	payment, err := o.deps.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.StatusPending {
		return payment, nil
	}

	other, err := o.deps.Store.FindByTransferRef(ctx, ref)
	switch {
	case err == nil && other.ID != payment.ID:
		return payment, ErrTransferRefInUse
	case err != nil && !errors.Is(err, ErrPaymentNotFound):
		return payment, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	merchant, err := o.merchant(ctx, payment.MerchantID)
	if err != nil {
		return payment, err
	}

	result, err := o.verify(ctx, payment, ref)
	if err != nil {
		o.log.WithFields(logrus.Fields{
			"payment_id":   payment.ID,
			"transfer_ref": ref,
		}).WithError(err).Warn("ledger verification unavailable")
		return payment, fmt.Errorf("%w: ledger verification: %v", ErrTransient, err)
	}

	switch result.Outcome {
	case Confirmed:
		received, won, err := o.transition(ctx, payment, models.StatusReceived, models.TransitionFields{TransferRef: &ref}, merchant)
		if err != nil || !won {
			return received, err
		}
		if !merchant.AutoSettlement {
			return received, nil
		}
		return o.convert(ctx, received, merchant)

	case Invalid:
		reason := fmt.Sprintf("invalid transfer %s: %s", ref, result.Reason)
		failed, _, err := o.transition(ctx, payment, models.StatusFailed, models.TransitionFields{
			TransferRef:   &ref,
			FailureReason: &reason,
		}, merchant)
		return failed, err

	default:
		o.log.WithFields(logrus.Fields{
			"payment_id":   payment.ID,
			"transfer_ref": ref,
		}).Debug("transfer not yet confirmed")
		return payment, nil
	}
}

// BeginConversion starts the conversion of a received payment. Any other state is returned unchanged.
func (o *Orchestrator) BeginConversion(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := o.deps.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.StatusReceived {
		return payment, nil
	}

	merchant, err := o.merchant(ctx, payment.MerchantID)
	if err != nil {
		return payment, err
	}
	return o.convert(ctx, payment, merchant)
}

// Drain waits for detached notification tasks or until ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) merchant(ctx context.Context, id string) (*models.Merchant, error) {
	merchant, err := o.deps.Merchants.GetMerchant(ctx, id)
	if errors.Is(err, ErrMerchantNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	return merchant, nil
}

// transition applies one state machine edge. It reports false without error when another
// caller changed the payment first; the returned record is then the one that caller left.
func (o *Orchestrator) transition(ctx context.Context, p *models.Payment, next models.PaymentStatus, fields models.TransitionFields, merchant *models.Merchant) (*models.Payment, bool, error) {
	entry := o.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"from":       p.Status,
		"to":         next,
	})

	updated, err := o.deps.Store.CompareAndTransition(ctx, p.ID, p.Status, next, fields)
	if errors.Is(err, ErrTransitionConflict) {
		if updated == nil {
			if updated, err = o.deps.Store.GetByID(ctx, p.ID); err != nil {
				return p, false, err
			}
		}
		entry.WithField("current", updated.Status).Info("transition already taken")
		return updated, false, nil
	}
	if err != nil {
		entry.WithError(err).Error("transition failed")
		return p, false, err
	}

	switch next {
	case models.StatusReceived:
		o.Metrics.PaymentsReceived.Add(1)
	case models.StatusSettled:
		o.Metrics.PaymentsSettled.Add(1)
	case models.StatusFailed:
		o.Metrics.PaymentsFailed.Add(1)
		entry = entry.WithField("reason", updated.Reason())
	}
	entry.Info("payment transitioned")

	if next.IsTerminal() {
		o.announce(*updated, merchant)
	}
	return updated, true, nil
}
