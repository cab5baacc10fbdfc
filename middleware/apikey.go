package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-API-Key"

// APIKeyLookup resolves the merchant that owns an API key id.
type APIKeyLookup interface {
	GetMerchantByAPIKeyID(ctx context.Context, keyID string) (*models.Merchant, error)
}

// NewAPIKey returns a fresh merchant API key of the form <keyID>.<secret> together with
// its id and the bcrypt hash of the secret. Only the id and hash are stored.
func NewAPIKey() (key, keyID, hash string, err error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", err
	}
	keyID = uuid.NewString()
	secretHex := hex.EncodeToString(secret)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secretHex), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return keyID + "." + secretHex, keyID, string(hashed), nil
}

// APIKeyAuth authenticates requests carrying X-API-Key and sets the merchant in the context
func APIKeyAuth(lookup APIKeyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API key is required"})
			c.Abort()
			return
		}

		keyID, secret, ok := strings.Cut(key, ".")
		if !ok || keyID == "" || secret == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key", "code": "InvalidAPIKey"})
			c.Abort()
			return
		}

		merchant, err := lookup.GetMerchantByAPIKeyID(c.Request.Context(), keyID)
		if errors.Is(err, settlement.ErrMerchantNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key", "code": "InvalidAPIKey"})
			c.Abort()
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify API key"})
			c.Abort()
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(merchant.APIKeyHash), []byte(secret)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key", "code": "InvalidAPIKey"})
			c.Abort()
			return
		}

		c.Set("merchantID", merchant.ID)
		c.Set("merchant", merchant)
		c.Set("role", RoleMerchant)

		c.Next()
	}
}
