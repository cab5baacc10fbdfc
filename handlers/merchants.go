package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/swapsettle/gateway/config"
	"github.com/swapsettle/gateway/middleware"
	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
	"github.com/swapsettle/gateway/store"
	"github.com/swapsettle/gateway/utils"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// MerchantRepository is the merchant persistence the HTTP layer needs.
type MerchantRepository interface {
	CreateMerchant(ctx context.Context, m *models.Merchant) error
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
	SaveMerchant(ctx context.Context, m *models.Merchant) error
}

type MerchantHandler struct {
	merchants     MerchantRepository
	config        *config.Config
	stellarClient utils.StellarClientInterface
}

func NewMerchantHandler(merchants MerchantRepository, cfg *config.Config, stellarClient utils.StellarClientInterface) *MerchantHandler {
	return &MerchantHandler{
		merchants:     merchants,
		config:        cfg,
		stellarClient: stellarClient,
	}
}

type RegisterMerchantRequest struct {
	Name                string           `json:"name" binding:"required"`
	Email               string           `json:"email" binding:"required,email"`
	WalletAddress       string           `json:"wallet_address" binding:"required"`
	WebhookURL          string           `json:"webhook_url" binding:"omitempty,url"`
	MinSettlementAmount *decimal.Decimal `json:"min_settlement_amount"`
	AutoSettlement      *bool            `json:"auto_settlement"`
}

type UpdateSettingsRequest struct {
	WalletAddress       *string          `json:"wallet_address"`
	WebhookURL          *string          `json:"webhook_url" binding:"omitempty,url"`
	MinSettlementAmount *decimal.Decimal `json:"min_settlement_amount"`
	AutoSettlement      *bool            `json:"auto_settlement"`
}

func (h *MerchantHandler) Register(c *gin.Context) {
	var req RegisterMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.stellarClient.ValidateAccount(c.Request.Context(), req.WalletAddress); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid wallet address: %v", err)})
		return
	}

	merchant := &models.Merchant{
		ID:                  uuid.NewString(),
		Name:                req.Name,
		Email:               req.Email,
		WalletAddress:       req.WalletAddress,
		MinSettlementAmount: models.DefaultMinSettlementAmount,
		AutoSettlement:      true,
		WebhookURL:          req.WebhookURL,
	}
	if req.MinSettlementAmount != nil {
		if req.MinSettlementAmount.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_settlement_amount must not be negative"})
			return
		}
		merchant.MinSettlementAmount = *req.MinSettlementAmount
	}
	if req.AutoSettlement != nil {
		merchant.AutoSettlement = *req.AutoSettlement
	}

	apiKey, keyID, hash, err := middleware.NewAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
		return
	}
	merchant.APIKeyID, merchant.APIKeyHash = keyID, hash

	if err := h.merchants.CreateMerchant(c.Request.Context(), merchant); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "Merchant with this email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create merchant"})
		return
	}

	tokens, err := issueTokens(h.config, merchant.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"merchant":      merchant,
		"api_key":       apiKey,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

func (h *MerchantHandler) Profile(c *gin.Context) {
	merchant, ok := h.currentMerchant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, merchant)
}

func (h *MerchantHandler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merchant, ok := h.currentMerchant(c)
	if !ok {
		return
	}

	if req.WalletAddress != nil {
		if err := h.stellarClient.ValidateAccount(c.Request.Context(), *req.WalletAddress); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid wallet address: %v", err)})
			return
		}
		merchant.WalletAddress = *req.WalletAddress
	}
	if req.WebhookURL != nil {
		merchant.WebhookURL = *req.WebhookURL
	}
	if req.MinSettlementAmount != nil {
		if req.MinSettlementAmount.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_settlement_amount must not be negative"})
			return
		}
		merchant.MinSettlementAmount = *req.MinSettlementAmount
	}
	if req.AutoSettlement != nil {
		merchant.AutoSettlement = *req.AutoSettlement
	}

	if err := h.merchants.SaveMerchant(c.Request.Context(), merchant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update merchant"})
		return
	}
	c.JSON(http.StatusOK, merchant)
}

// RegenerateAPIKey replaces the merchant's API key; the previous key stops working immediately.
func (h *MerchantHandler) RegenerateAPIKey(c *gin.Context) {
	merchant, ok := h.currentMerchant(c)
	if !ok {
		return
	}

	apiKey, keyID, hash, err := middleware.NewAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
		return
	}
	merchant.APIKeyID, merchant.APIKeyHash = keyID, hash

	if err := h.merchants.SaveMerchant(c.Request.Context(), merchant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update merchant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": apiKey})
}

func (h *MerchantHandler) currentMerchant(c *gin.Context) (*models.Merchant, bool) {
	merchant, err := h.merchants.GetMerchant(c.Request.Context(), c.GetString("merchantID"))
	if errors.Is(err, settlement.ErrMerchantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Merchant not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load merchant"})
		return nil, false
	}
	return merchant, true
}

type tokenPair struct {
	AccessToken  string
	RefreshToken string
}

func issueTokens(cfg *config.Config, merchantID string) (tokenPair, error) {
	access, err := middleware.GenerateToken(merchantID, middleware.RoleMerchant, cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		return tokenPair{}, errors.New("failed to generate access token")
	}
	refresh, err := middleware.GenerateToken(merchantID, middleware.RoleMerchant, cfg.JWTRefreshSecret, refreshTokenTTL)
	if err != nil {
		return tokenPair{}, errors.New("failed to generate refresh token")
	}
	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
