package settlement

import (
	"context"

	"github.com/swapsettle/gateway/models"
)

func (o *Orchestrator) verify(ctx context.Context, p *models.Payment, ref string) (VerificationResult, error) {
	vctx, cancel := context.WithTimeout(ctx, o.settings.VerifyTimeout)
	defer cancel()

	result, err := o.deps.Ledger.VerifyTransfer(vctx, ref, ExpectedTransfer{
		Destination: p.PaymentAddress,
		Currency:    p.CurrencyIn,
		Amount:      p.AmountIn,
	})
	if err != nil {
		return VerificationResult{}, err
	}
	if result.Outcome == Invalid && result.Reason == "" {
		result.Reason = "rejected by ledger verifier"
	}
	return result, nil
}
