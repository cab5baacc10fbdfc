package settlement

import "errors"

// ErrValidation marks requests rejected before any payment state is created or changed.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidAmount    = validationError("amount must be greater than zero")
	ErrInvalidCurrency  = validationError("unsupported currency")
	ErrSameCurrency     = validationError("currency already equals the settlement currency")
	ErrMerchantNotFound = validationError("merchant not found")
	ErrBelowMinimum     = validationError("quoted amount is below the merchant minimum settlement amount")
	ErrTransferRefInUse = validationError("transfer reference already used by another payment")
	ErrEmptyTransferRef = validationError("transfer reference is required")
)

var (
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrTransitionConflict is returned by Store.CompareAndTransition when the persisted
	// status no longer matches the expected predecessor.
	ErrTransitionConflict = errors.New("payment status changed concurrently")

	// ErrTransient wraps collaborator failures that leave the payment untouched; the caller may retry.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrNoRoute is returned by a QuoteService when no viable conversion path exists.
	ErrNoRoute = errors.New("no route")

	// ErrExecutionTimeout is returned by an ExecutionService when the outcome of a submitted
	// conversion could not be observed in time.
	ErrExecutionTimeout = errors.New("execution timeout, unknown outcome")

	// ErrSettlementNotRecorded is returned when a conversion executed but the payment had
	// already left converting, so the settlement reference could not be stored.
	ErrSettlementNotRecorded = errors.New("conversion executed but settlement not recorded")
)

type validationErr struct {
	msg string
}

func validationError(msg string) error {
	return &validationErr{msg: msg}
}

func (e *validationErr) Error() string { return e.msg }

func (e *validationErr) Is(target error) bool { return target == ErrValidation }

// ErrInvalidTransition is returned by a Store asked to apply an edge outside the state machine.
var ErrInvalidTransition = errors.New("transition not allowed")
