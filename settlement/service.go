package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/swapsettle/gateway/models"
)

// QuoteRequest asks for a conversion of exactly AmountIn of CurrencyIn into CurrencyOut.
type QuoteRequest struct {
	CurrencyIn     string
	CurrencyOut    string
	AmountIn       decimal.Decimal
	MaxSlippageBps int
}

// Quote is a priced route. Route holds the intermediate assets, empty for a direct conversion.
type Quote struct {
	CurrencyIn        string
	CurrencyOut       string
	AmountIn          decimal.Decimal
	AmountOutEstimate decimal.Decimal
	MinAmountOut      decimal.Decimal
	SlippageBps       int
	Route             []string
}

// Execution is the result of a confirmed conversion.
type Execution struct {
	SettlementRef string
}

// VerificationOutcome distinguishes "keep polling" from "permanently invalid".
type VerificationOutcome int

const (
	NotYetConfirmed VerificationOutcome = iota
	Confirmed
	Invalid
)

func (o VerificationOutcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Invalid:
		return "invalid"
	default:
		return "not_yet_confirmed"
	}
}

type VerificationResult struct {
	Outcome VerificationOutcome
	Reason  string
}

// ExpectedTransfer describes what a transfer reference must prove was received.
type ExpectedTransfer struct {
	Destination string
	Currency    string
	Amount      decimal.Decimal
}

type QuoteService interface {
	// GetQuote returns ErrNoRoute when nothing can be quoted. Any other error is transient.
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

type ExecutionService interface {
	// Execute submits the quote on behalf of payerAddress. ErrExecutionTimeout means the outcome is unknown.
	Execute(ctx context.Context, quote *Quote, payerAddress string) (*Execution, error)
}

type LedgerVerifier interface {
	// VerifyTransfer returns an error only for transient failures.
	VerifyTransfer(ctx context.Context, transferRef string, expected ExpectedTransfer) (VerificationResult, error)
}

// Notifier delivers a terminal status to a merchant endpoint. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, endpoint, paymentID string, status models.PaymentStatus)
}

// Alerter raises operator-facing messages for payments that need manual attention.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Store is the payment lifecycle store. CompareAndTransition is the only mutation applied
// after creation; it must refuse the write when the persisted status differs from expected
// and then return the current record together with ErrTransitionConflict.
type Store interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	FindByTransferRef(ctx context.Context, transferRef string) (*models.Payment, error)
	CompareAndTransition(ctx context.Context, id string, expected, next models.PaymentStatus, fields models.TransitionFields) (*models.Payment, error)
	ListByStatus(ctx context.Context, status models.PaymentStatus, updatedBefore time.Time, limit int) ([]models.Payment, error)
	ListByMerchant(ctx context.Context, merchantID string, limit int) ([]models.Payment, error)
	History(ctx context.Context, id string) ([]models.PaymentTransition, error)
}

type MerchantDirectory interface {
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
}
