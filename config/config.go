package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/stellar/go/network"
	"github.com/swapsettle/gateway/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSettlementAsset is Circle's USDC on the Stellar public network.
const DefaultSettlementAsset = "USDC:GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"

const sqlitePrefix = "sqlite://"

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// DatabaseURL is a postgres DSN or sqlite://path. Empty selects the in-memory store.
	DatabaseURL string

	HorizonURL             string
	NetworkPassphrase      string
	SettlementAsset        string
	SettlementSignerSecret string

	MaxSlippageBps int
	QuoteTimeout   time.Duration
	VerifyTimeout  time.Duration
	ExecuteTimeout time.Duration

	WebhookMaxAttempts int
	WebhookBackoff     time.Duration

	ReconcileInterval    time.Duration
	ConvertingStaleAfter time.Duration

	JWTSecret        string
	JWTRefreshSecret string

	TelegramBotToken string
	TelegramChatID   int64
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:                   getEnvOrDefault("PORT", "8080"),
		Env:                    getEnvOrDefault("ENV", "development"),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		HorizonURL:             getEnvOrDefault("HORIZON_URL", "https://horizon-testnet.stellar.org"),
		NetworkPassphrase:      getEnvOrDefault("NETWORK_PASSPHRASE", network.TestNetworkPassphrase),
		SettlementAsset:        getEnvOrDefault("SETTLEMENT_ASSET", DefaultSettlementAsset),
		SettlementSignerSecret: os.Getenv("SETTLEMENT_SIGNER_SECRET"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		JWTRefreshSecret:       os.Getenv("JWT_REFRESH_SECRET"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.MaxSlippageBps, err = getEnvInt("MAX_SLIPPAGE_BPS", 50); err != nil {
		return nil, err
	}
	if cfg.MaxSlippageBps < 0 || cfg.MaxSlippageBps >= 10000 {
		return nil, fmt.Errorf("MAX_SLIPPAGE_BPS must be between 0 and 9999, got %d", cfg.MaxSlippageBps)
	}
	if cfg.WebhookMaxAttempts, err = getEnvInt("WEBHOOK_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.QuoteTimeout, err = getEnvDuration("QUOTE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.VerifyTimeout, err = getEnvDuration("VERIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ExecuteTimeout, err = getEnvDuration("EXECUTE_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookBackoff, err = getEnvDuration("WEBHOOK_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConvertingStaleAfter, err = getEnvDuration("CONVERTING_STALE_AFTER", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConvertingStaleAfter <= cfg.ExecuteTimeout {
		return nil, fmt.Errorf("CONVERTING_STALE_AFTER (%s) must be longer than EXECUTE_TIMEOUT (%s)", cfg.ConvertingStaleAfter, cfg.ExecuteTimeout)
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}

	if _, err := models.ParseAsset(cfg.SettlementAsset); err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_ASSET: %w", err)
	}
	if cfg.IsProduction() && (cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "") {
		return nil, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET are required in production")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-access-secret"
	}
	if cfg.JWTRefreshSecret == "" {
		cfg.JWTRefreshSecret = "dev-refresh-secret"
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// InitDB opens the configured database and migrates the schema.
func InitDB(cfg *Config) (*gorm.DB, error) {
	dialector := postgres.Open(cfg.DatabaseURL)
	if path, ok := strings.CutPrefix(cfg.DatabaseURL, sqlitePrefix); ok {
		dialector = sqlite.Open(path)
	}

	logLevel := logger.Silent
	if cfg.Env == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Merchant{}, &models.Payment{}, &models.PaymentTransition{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
