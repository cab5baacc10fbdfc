package utils

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"
	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
)

// txTimeoutSeconds bounds how long a submitted conversion stays valid on the network.
const txTimeoutSeconds = 30

// StellarClientInterface is what the gateway needs from the Stellar network: DEX quotes,
// path payment execution, transfer verification and account checks.
type StellarClientInterface interface {
	GetQuote(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error)
	Execute(ctx context.Context, quote *settlement.Quote, payerAddress string) (*settlement.Execution, error)
	VerifyTransfer(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error)
	ValidateAccount(ctx context.Context, accountID string) error
}

type StellarClient struct {
	client            horizonclient.ClientInterface
	networkPassphrase string
	signer            *keypair.Full
}

// NewStellarClient talks to Horizon at horizonURL. signerSecret may be empty, in which case
// quotes and verification work but Execute refuses to run.
func NewStellarClient(horizonURL, networkPassphrase, signerSecret string, httpTimeout time.Duration) (*StellarClient, error) {
	s := &StellarClient{
		client: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: httpTimeout},
		},
		networkPassphrase: networkPassphrase,
	}
	if signerSecret != "" {
		kp, err := keypair.ParseFull(signerSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid settlement signer secret: %w", err)
		}
		s.signer = kp
	}
	return s, nil
}

// SignerAddress returns the public key of the settlement signer, or "" when none is configured.
func (s *StellarClient) SignerAddress() string {
	if s.signer == nil {
		return ""
	}
	return s.signer.Address()
}

// GetQuote asks Horizon for strict-send paths from the exact input amount and picks the one
// with the largest destination amount.
func (s *StellarClient) GetQuote(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error) {
	source, err := models.ParseAsset(req.CurrencyIn)
	if err != nil {
		return nil, err
	}
	dest, err := models.ParseAsset(req.CurrencyOut)
	if err != nil {
		return nil, err
	}

	request := horizonclient.StrictSendPathsRequest{
		SourceAmount:      req.AmountIn.StringFixed(7),
		DestinationAssets: horizonAssetString(dest),
	}
	request.SourceAssetType, request.SourceAssetCode, request.SourceAssetIssuer = horizonAssetFields(source)

	page, err := runWithContext(ctx, func() (hProtocol.PathsPage, error) {
		return s.client.StrictSendPaths(request)
	})
	if err != nil {
		if horizonStatus(err) == http.StatusBadRequest {
			return nil, settlement.ErrNoRoute
		}
		return nil, fmt.Errorf("failed to find paths: %w", err)
	}

	best, ok := bestPath(page.Embedded.Records)
	if !ok {
		return nil, settlement.ErrNoRoute
	}
	estimate, _ := decimal.NewFromString(best.DestinationAmount)

	route := make([]string, 0, len(best.Path))
	for _, hop := range best.Path {
		route = append(route, assetName(hop.Type, hop.Code, hop.Issuer))
	}

	return &settlement.Quote{
		CurrencyIn:        source.String(),
		CurrencyOut:       dest.String(),
		AmountIn:          req.AmountIn,
		AmountOutEstimate: estimate,
		MinAmountOut:      settlement.MinAmountOut(estimate, req.MaxSlippageBps),
		SlippageBps:       req.MaxSlippageBps,
		Route:             route,
	}, nil
}

// Execute submits a PathPaymentStrictSend from the payer back to itself, swapping the
// received asset into the settlement asset with DestMin taken from the quote.
func (s *StellarClient) Execute(ctx context.Context, quote *settlement.Quote, payerAddress string) (*settlement.Execution, error) {
	if s.signer == nil {
		return nil, errors.New("settlement signer not configured")
	}

	account, err := runWithContext(ctx, func() (hProtocol.Account, error) {
		return s.client.AccountDetail(horizonclient.AccountRequest{AccountID: payerAddress})
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, settlement.ErrExecutionTimeout
		}
		return nil, fmt.Errorf("failed to load payer account: %w", err)
	}

	tx, err := buildPathPaymentTx(&account, quote, payerAddress)
	if err != nil {
		return nil, err
	}
	tx, err = tx.Sign(s.networkPassphrase, s.signer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	resp, err := runWithContext(ctx, func() (hProtocol.Transaction, error) {
		return s.client.SubmitTransaction(tx)
	})
	if err != nil {
		return nil, submitError(err)
	}
	return &settlement.Execution{SettlementRef: resp.Hash}, nil
}

// VerifyTransfer checks that transaction ref succeeded and credited the expected destination
// with at least the expected amount of the expected asset.
func (s *StellarClient) VerifyTransfer(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error) {
	if !IsTransactionHash(ref) {
		return invalid("malformed transaction hash"), nil
	}

	tx, err := runWithContext(ctx, func() (hProtocol.Transaction, error) {
		return s.client.TransactionDetail(ref)
	})
	switch {
	case err == nil:
	case horizonclient.IsNotFoundError(err) || horizonStatus(err) == http.StatusNotFound:
		return settlement.VerificationResult{Outcome: settlement.NotYetConfirmed}, nil
	case horizonStatus(err) == http.StatusBadRequest:
		return invalid("transaction rejected by horizon"), nil
	default:
		return settlement.VerificationResult{}, fmt.Errorf("failed to load transaction: %w", err)
	}
	if !tx.Successful {
		return invalid("transaction failed on ledger"), nil
	}

	page, err := runWithContext(ctx, func() (operations.OperationsPage, error) {
		return s.client.Payments(horizonclient.OperationRequest{ForTransaction: ref, Limit: 200})
	})
	if err != nil {
		return settlement.VerificationResult{}, fmt.Errorf("failed to load payments: %w", err)
	}
	return MatchTransfer(page.Embedded.Records, expected), nil
}

func (s *StellarClient) ValidateAccount(ctx context.Context, accountID string) error {
	if err := models.ValidateAddress(accountID); err != nil {
		return err
	}
	_, err := runWithContext(ctx, func() (hProtocol.Account, error) {
		return s.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	})
	if err != nil {
		return fmt.Errorf("account not found: %w", err)
	}
	return nil
}

// MatchTransfer sums what the payment operations of one transaction credited to the expected
// destination in the expected asset.
func MatchTransfer(records []operations.Operation, expected settlement.ExpectedTransfer) settlement.VerificationResult {
	credited := decimal.Zero
	toDestination, inAsset := false, false

	for _, record := range records {
		payment, ok := creditOf(record)
		if !ok || payment.To != expected.Destination {
			continue
		}
		toDestination = true
		if assetName(payment.Asset.Type, payment.Asset.Code, payment.Asset.Issuer) != expected.Currency {
			continue
		}
		inAsset = true
		amount, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			continue
		}
		credited = credited.Add(amount)
	}

	switch {
	case !toDestination:
		return invalid(fmt.Sprintf("destination mismatch: no payment to %s", expected.Destination))
	case !inAsset:
		return invalid(fmt.Sprintf("asset mismatch: expected %s", expected.Currency))
	case credited.LessThan(expected.Amount):
		return invalid(fmt.Sprintf("amount short: received %s of %s", credited, expected.Amount))
	}
	return settlement.VerificationResult{Outcome: settlement.Confirmed}
}

// IsTransactionHash reports whether ref looks like a Stellar transaction hash (64 hex chars).
func IsTransactionHash(ref string) bool {
	if len(ref) != 64 {
		return false
	}
	_, err := hex.DecodeString(ref)
	return err == nil
}

func buildPathPaymentTx(account txnbuild.Account, quote *settlement.Quote, payerAddress string) (*txnbuild.Transaction, error) {
	sendAsset, err := toTxnAsset(quote.CurrencyIn)
	if err != nil {
		return nil, err
	}
	destAsset, err := toTxnAsset(quote.CurrencyOut)
	if err != nil {
		return nil, err
	}
	path := make([]txnbuild.Asset, 0, len(quote.Route))
	for _, hop := range quote.Route {
		asset, err := toTxnAsset(hop)
		if err != nil {
			return nil, err
		}
		path = append(path, asset)
	}

	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount:        account,
			IncrementSequenceNum: true,
			BaseFee:              txnbuild.MinBaseFee,
			Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
			Operations: []txnbuild.Operation{
				&txnbuild.PathPaymentStrictSend{
					SendAsset:   sendAsset,
					SendAmount:  quote.AmountIn.StringFixed(7),
					Destination: payerAddress,
					DestAsset:   destAsset,
					DestMin:     quote.MinAmountOut.StringFixed(7),
					Path:        path,
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

func submitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return settlement.ErrExecutionTimeout
	}

	var herr *horizonclient.Error
	if !errors.As(err, &herr) {
		// The request may have reached the network; the outcome is unknown.
		return fmt.Errorf("%w: %v", settlement.ErrExecutionTimeout, err)
	}
	if herr.Problem.Status == http.StatusGatewayTimeout {
		return settlement.ErrExecutionTimeout
	}
	if codes, cerr := herr.ResultCodes(); cerr == nil && codes != nil {
		return fmt.Errorf("transaction failed: %s %v", codes.TransactionCode, codes.OperationCodes)
	}
	return fmt.Errorf("transaction failed: %s", herr.Problem.Title)
}

func creditOf(record operations.Operation) (operations.Payment, bool) {
	switch op := record.(type) {
	case operations.Payment:
		return op, true
	case *operations.Payment:
		return *op, true
	case operations.PathPayment:
		return op.Payment, true
	case *operations.PathPayment:
		return op.Payment, true
	case operations.PathPaymentStrictSend:
		return op.Payment, true
	case *operations.PathPaymentStrictSend:
		return op.Payment, true
	}
	return operations.Payment{}, false
}

func bestPath(paths []hProtocol.Path) (hProtocol.Path, bool) {
	var best hProtocol.Path
	bestAmount := decimal.Zero
	for _, p := range paths {
		amount, err := decimal.NewFromString(p.DestinationAmount)
		if err != nil || !amount.GreaterThan(bestAmount) {
			continue
		}
		best, bestAmount = p, amount
	}
	return best, bestAmount.IsPositive()
}

func toTxnAsset(s string) (txnbuild.Asset, error) {
	asset, err := models.ParseAsset(s)
	if err != nil {
		return nil, err
	}
	if asset.IsNative() {
		return txnbuild.NativeAsset{}, nil
	}
	return txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer}, nil
}

func horizonAssetFields(a models.Asset) (horizonclient.AssetType, string, string) {
	if a.IsNative() {
		return horizonclient.AssetTypeNative, "", ""
	}
	if len(a.Code) <= 4 {
		return horizonclient.AssetType4, a.Code, a.Issuer
	}
	return horizonclient.AssetType12, a.Code, a.Issuer
}

func horizonAssetString(a models.Asset) string {
	if a.IsNative() {
		return "native"
	}
	return a.String()
}

func assetName(assetType, code, issuer string) string {
	if assetType == "native" {
		return models.NativeAssetCode
	}
	return models.Asset{Code: code, Issuer: issuer}.String()
}

func horizonStatus(err error) int {
	var herr *horizonclient.Error
	if errors.As(err, &herr) {
		return herr.Problem.Status
	}
	return 0
}

func invalid(reason string) settlement.VerificationResult {
	return settlement.VerificationResult{Outcome: settlement.Invalid, Reason: reason}
}

// runWithContext bounds a blocking Horizon call by ctx. The Horizon client takes no context,
// so the call itself keeps running in the background until its HTTP timeout.
func runWithContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := call()
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

var _ StellarClientInterface = (*StellarClient)(nil)
