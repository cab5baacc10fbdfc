package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swapsettle/gateway/config"
	"github.com/swapsettle/gateway/middleware"
	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
	"github.com/swapsettle/gateway/store"
)

const (
	testWallet = "GDQNY3Y7PNO5UAB6STH6YTP6S44R3S6SPJ7YNCK37N7I6U6YVCOV56V2"
	testUSDC   = "USDC:GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
)

type MockStellarClient struct {
	GetQuoteFunc        func(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error)
	ExecuteFunc         func(ctx context.Context, quote *settlement.Quote, payer string) (*settlement.Execution, error)
	VerifyTransferFunc  func(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error)
	ValidateAccountFunc func(ctx context.Context, accountID string) error
}

func (m *MockStellarClient) GetQuote(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error) {
	return m.GetQuoteFunc(ctx, req)
}

func (m *MockStellarClient) Execute(ctx context.Context, quote *settlement.Quote, payer string) (*settlement.Execution, error) {
	return m.ExecuteFunc(ctx, quote, payer)
}

func (m *MockStellarClient) VerifyTransfer(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error) {
	return m.VerifyTransferFunc(ctx, ref, expected)
}

func (m *MockStellarClient) ValidateAccount(ctx context.Context, accountID string) error {
	return m.ValidateAccountFunc(ctx, accountID)
}

func newMockStellar() *MockStellarClient {
	return &MockStellarClient{
		GetQuoteFunc: func(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error) {
			return &settlement.Quote{
				CurrencyIn:        req.CurrencyIn,
				CurrencyOut:       req.CurrencyOut,
				AmountIn:          req.AmountIn,
				AmountOutEstimate: req.AmountIn,
				MinAmountOut:      settlement.MinAmountOut(req.AmountIn, req.MaxSlippageBps),
			}, nil
		},
		ExecuteFunc: func(ctx context.Context, quote *settlement.Quote, payer string) (*settlement.Execution, error) {
			return &settlement.Execution{SettlementRef: "settle-tx"}, nil
		},
		VerifyTransferFunc: func(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error) {
			return settlement.VerificationResult{Outcome: settlement.Confirmed}, nil
		},
		ValidateAccountFunc: func(ctx context.Context, accountID string) error {
			return models.ValidateAddress(accountID)
		},
	}
}

type testEnv struct {
	store   *store.MemoryStore
	stellar *MockStellarClient
	cfg     *config.Config
	payment *PaymentHandler
}

func setupEnv(t *testing.T, merchants ...*models.Merchant) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	memory := store.NewMemoryStore()
	for _, m := range merchants {
		require.NoError(t, memory.CreateMerchant(context.Background(), m))
	}

	stellar := newMockStellar()
	orchestrator := settlement.NewOrchestrator(settlement.Dependencies{
		Store:     memory,
		Merchants: memory,
		Quotes:    stellar,
		Executor:  stellar,
		Ledger:    stellar,
	}, settlement.Settings{SettlementAsset: testUSDC}, logger)

	return &testEnv{
		store:   memory,
		stellar: stellar,
		cfg:     &config.Config{JWTSecret: "access-secret", JWTRefreshSecret: "refresh-secret"},
		payment: NewPaymentHandler(orchestrator, logger),
	}
}

func testMerchant(id, email string, autoSettle bool) *models.Merchant {
	return &models.Merchant{
		ID:                  id,
		Name:                "Shop " + id,
		Email:               email,
		WalletAddress:       testWallet,
		MinSettlementAmount: decimal.NewFromInt(1),
		AutoSettlement:      autoSettle,
		APIKeyID:            "key-" + id,
	}
}

// paymentRouter mounts the payment routes as merchantID, standing in for APIKeyAuth.
func (e *testEnv) paymentRouter(merchantID string) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("merchantID", merchantID)
		c.Next()
	})
	router.POST("/payments", e.payment.CreatePayment)
	router.GET("/payments", e.payment.ListPayments)
	router.GET("/payments/:id", e.payment.GetPayment)
	router.GET("/payments/:id/history", e.payment.GetPaymentHistory)
	router.POST("/payments/:id/transfer", e.payment.SubmitTransfer)
	router.POST("/payments/:id/settle", e.payment.BeginSettlement)
	return router
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodePayment(t *testing.T, w *httptest.ResponseRecorder) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func createPayment(t *testing.T, router http.Handler) models.Payment {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/payments", gin.H{"amount": "100", "currency": "XLM"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodePayment(t, w)
}

func TestCreatePayment(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", true))
	router := env.paymentRouter("m1")

	t.Run("Valid Request", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/payments", gin.H{"amount": "100", "currency": "XLM"})
		assert.Equal(t, http.StatusCreated, w.Code)

		p := decodePayment(t, w)
		assert.Equal(t, models.StatusPending, p.Status)
		assert.Equal(t, "m1", p.MerchantID)
		assert.Equal(t, testWallet, p.PaymentAddress)
		assert.Equal(t, testUSDC, p.CurrencyOut)
		assert.True(t, p.AmountIn.Equal(decimal.NewFromInt(100)))
	})

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{"Zero Amount", gin.H{"amount": "0", "currency": "XLM"}, http.StatusBadRequest},
		{"Negative Amount", gin.H{"amount": -5, "currency": "XLM"}, http.StatusBadRequest},
		{"Missing Currency", gin.H{"amount": "10"}, http.StatusBadRequest},
		{"Unknown Currency", gin.H{"amount": "10", "currency": "BTC"}, http.StatusBadRequest},
		{"Already Settlement Currency", gin.H{"amount": "10", "currency": testUSDC}, http.StatusBadRequest},
		{"Below Minimum", gin.H{"amount": "0.5", "currency": "XLM"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/payments", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	t.Run("Quote Service Down", func(t *testing.T) {
		env.stellar.GetQuoteFunc = func(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error) {
			return nil, errors.New("horizon unavailable")
		}
		defer func() { env.stellar.GetQuoteFunc = newMockStellar().GetQuoteFunc }()

		w := doJSON(router, http.MethodPost, "/payments", gin.H{"amount": "10", "currency": "XLM"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestSubmitTransfer(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", true), testMerchant("m2", "m2@example.com", true))
	router := env.paymentRouter("m1")

	t.Run("Confirmed And Settled", func(t *testing.T) {
		p := createPayment(t, router)
		w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-1"})
		assert.Equal(t, http.StatusOK, w.Code)

		got := decodePayment(t, w)
		assert.Equal(t, models.StatusSettled, got.Status)
		require.NotNil(t, got.SettlementRef)
		assert.Equal(t, "settle-tx", *got.SettlementRef)
	})

	t.Run("Not Yet Confirmed", func(t *testing.T) {
		env.stellar.VerifyTransferFunc = func(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error) {
			return settlement.VerificationResult{Outcome: settlement.NotYetConfirmed}, nil
		}
		defer func() { env.stellar.VerifyTransferFunc = newMockStellar().VerifyTransferFunc }()

		p := createPayment(t, router)
		w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-2"})
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, models.StatusPending, decodePayment(t, w).Status)
	})

	t.Run("Reference Already Used", func(t *testing.T) {
		p := createPayment(t, router)
		w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-1"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Ledger Unavailable", func(t *testing.T) {
		env.stellar.VerifyTransferFunc = func(ctx context.Context, ref string, expected settlement.ExpectedTransfer) (settlement.VerificationResult, error) {
			return settlement.VerificationResult{}, errors.New("timeout")
		}
		defer func() { env.stellar.VerifyTransferFunc = newMockStellar().VerifyTransferFunc }()

		p := createPayment(t, router)
		w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-3"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"pending"`)
	})

	t.Run("Missing Reference", func(t *testing.T) {
		p := createPayment(t, router)
		w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Another Merchant's Payment", func(t *testing.T) {
		p := createPayment(t, router)
		w := doJSON(env.paymentRouter("m2"), http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-4"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Unknown Payment", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/payments/nope/transfer", SubmitTransferRequest{TransferRef: "tx-5"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBeginSettlement(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", false))
	router := env.paymentRouter("m1")

	p := createPayment(t, router)

	w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/settle", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "pending payments cannot be settled")

	w = doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusReceived, decodePayment(t, w).Status)

	w = doJSON(router, http.MethodPost, "/payments/"+p.ID+"/settle", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusSettled, decodePayment(t, w).Status)

	w = doJSON(router, http.MethodPost, "/payments/"+p.ID+"/settle", nil)
	assert.Equal(t, http.StatusOK, w.Code, "settling again is a no-op")
	assert.Equal(t, models.StatusSettled, decodePayment(t, w).Status)
}

func TestGetAndListPayments(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", true), testMerchant("m2", "m2@example.com", true))
	router := env.paymentRouter("m1")

	first := createPayment(t, router)
	createPayment(t, router)
	createPayment(t, env.paymentRouter("m2"))

	w := doJSON(router, http.MethodGet, "/payments/"+first.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, decodePayment(t, w).ID)

	w = doJSON(env.paymentRouter("m2"), http.MethodGet, "/payments/"+first.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Payments []models.Payment `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Payments, 2)

	w = doJSON(router, http.MethodGet, "/payments?limit=1", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Payments, 1)

	w = doJSON(router, http.MethodGet, "/payments?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPaymentHistory(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", true), testMerchant("m2", "m2@example.com", true))
	router := env.paymentRouter("m1")

	p := createPayment(t, router)
	w := doJSON(router, http.MethodPost, "/payments/"+p.ID+"/transfer", SubmitTransferRequest{TransferRef: "tx-1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/payments/"+p.ID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		PaymentID   string                     `json:"payment_id"`
		Status      models.PaymentStatus       `json:"status"`
		Transitions []models.PaymentTransition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, p.ID, body.PaymentID)
	assert.Equal(t, models.StatusSettled, body.Status)

	var path []models.PaymentStatus
	for _, tr := range body.Transitions {
		path = append(path, tr.ToStatus)
	}
	assert.Equal(t, []models.PaymentStatus{models.StatusReceived, models.StatusConverting, models.StatusSettled}, path)

	w = doJSON(env.paymentRouter("m2"), http.MethodGet, "/payments/"+p.ID+"/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type registerResponse struct {
	Merchant     models.Merchant `json:"merchant"`
	APIKey       string          `json:"api_key"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
}

func TestRegisterMerchant(t *testing.T) {
	env := setupEnv(t)
	handler := NewMerchantHandler(env.store, env.cfg, env.stellar)

	router := gin.New()
	router.POST("/merchants/register", handler.Register)

	valid := RegisterMerchantRequest{
		Name:          "Coffee Shop",
		Email:         "coffee@example.com",
		WalletAddress: testWallet,
		WebhookURL:    "https://coffee.example.com/hook",
	}

	t.Run("Valid Request", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/merchants/register", valid)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp registerResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Merchant.ID)
		assert.True(t, resp.Merchant.AutoSettlement)
		assert.True(t, resp.Merchant.MinSettlementAmount.Equal(models.DefaultMinSettlementAmount))
		assert.NotEmpty(t, resp.APIKey)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotContains(t, w.Body.String(), "api_key_hash")

		claims, err := middleware.ParseToken(resp.AccessToken, env.cfg.JWTSecret)
		require.NoError(t, err)
		assert.Equal(t, resp.Merchant.ID, claims.MerchantID)

		stored, err := env.store.GetMerchant(context.Background(), resp.Merchant.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.APIKeyHash)
	})

	t.Run("Manual Settlement", func(t *testing.T) {
		auto := false
		req := valid
		req.Email = "manual@example.com"
		req.AutoSettlement = &auto

		w := doJSON(router, http.MethodPost, "/merchants/register", req)
		require.Equal(t, http.StatusCreated, w.Code)
		var resp registerResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Merchant.AutoSettlement)
	})

	t.Run("Duplicate Email", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/merchants/register", valid)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Invalid Wallet", func(t *testing.T) {
		req := valid
		req.Email = "other@example.com"
		req.WalletAddress = "GNOTAWALLET"
		w := doJSON(router, http.MethodPost, "/merchants/register", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid Email", func(t *testing.T) {
		req := valid
		req.Email = "not-an-email"
		w := doJSON(router, http.MethodPost, "/merchants/register", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMerchantSettingsAndAPIKey(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", true))
	handler := NewMerchantHandler(env.store, env.cfg, env.stellar)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("merchantID", "m1")
		c.Next()
	})
	router.GET("/merchants/me", handler.Profile)
	router.PUT("/merchants/me/settings", handler.UpdateSettings)
	router.POST("/merchants/me/apikey", handler.RegenerateAPIKey)

	w := doJSON(router, http.MethodGet, "/merchants/me", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "m1@example.com")

	w = doJSON(router, http.MethodPut, "/merchants/me/settings", gin.H{
		"auto_settlement":       false,
		"min_settlement_amount": "5",
		"webhook_url":           "https://m1.example.com/hook",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := env.store.GetMerchant(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, stored.AutoSettlement)
	assert.True(t, stored.MinSettlementAmount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "https://m1.example.com/hook", stored.WebhookURL)

	w = doJSON(router, http.MethodPut, "/merchants/me/settings", gin.H{"min_settlement_amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPut, "/merchants/me/settings", gin.H{"webhook_url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/merchants/me/apikey", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		APIKey string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	updated, err := env.store.GetMerchant(context.Background(), "m1")
	require.NoError(t, err)
	assert.NotEqual(t, "key-m1", updated.APIKeyID)
	assert.Contains(t, resp.APIKey, updated.APIKeyID+".")
}

func TestRefresh(t *testing.T) {
	env := setupEnv(t, testMerchant("m1", "m1@example.com", true))
	handler := NewAuthHandler(env.store, env.cfg)

	router := gin.New()
	router.POST("/auth/refresh", handler.Refresh)

	refresh, err := middleware.GenerateToken("m1", middleware.RoleMerchant, env.cfg.JWTRefreshSecret, refreshTokenTTL)
	require.NoError(t, err)
	access, err := middleware.GenerateToken("m1", middleware.RoleMerchant, env.cfg.JWTSecret, accessTokenTTL)
	require.NoError(t, err)
	ghost, err := middleware.GenerateToken("ghost", middleware.RoleMerchant, env.cfg.JWTRefreshSecret, refreshTokenTTL)
	require.NoError(t, err)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{"Valid Refresh Token", refresh, http.StatusOK},
		{"Access Token Rejected", access, http.StatusUnauthorized},
		{"Unknown Merchant", ghost, http.StatusUnauthorized},
		{"Garbage", "not.a.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/auth/refresh", RefreshTokenRequest{RefreshToken: tt.token})
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), "access_token")
			}
		})
	}
}
