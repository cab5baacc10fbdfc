package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swapsettle/gateway/config"
	"github.com/swapsettle/gateway/middleware"
)

type AuthHandler struct {
	merchants MerchantRepository
	Cfg       *config.Config
}

func NewAuthHandler(merchants MerchantRepository, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		merchants: merchants,
		Cfg:       cfg,
	}
}

// RefreshToken request body
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a valid refresh token for a new token pair
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := middleware.ParseToken(req.RefreshToken, h.Cfg.JWTRefreshSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token", "code": "InvalidToken"})
		return
	}

	// The merchant must still exist
	merchant, err := h.merchants.GetMerchant(c.Request.Context(), claims.MerchantID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Merchant not found"})
		return
	}

	tokens, err := issueTokens(h.Cfg, merchant.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}
