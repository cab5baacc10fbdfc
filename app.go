package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/config"
	"github.com/swapsettle/gateway/handlers"
	"github.com/swapsettle/gateway/middleware"
	"github.com/swapsettle/gateway/settlement"
	"github.com/swapsettle/gateway/store"
	"github.com/swapsettle/gateway/utils"
	"gorm.io/gorm"
)

type merchantStore interface {
	handlers.MerchantRepository
	middleware.APIKeyLookup
}

// app holds the wired components shared by the serve and reconcile commands.
type app struct {
	cfg          *config.Config
	log          *logrus.Logger
	db           *gorm.DB // nil when running on the in-memory store
	payments     settlement.Store
	merchants    merchantStore
	stellar      utils.StellarClientInterface
	orchestrator *settlement.Orchestrator
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, payments are kept in memory")
		memory := store.NewMemoryStore()
		a.payments, a.merchants = memory, memory
	} else {
		db, err := config.InitDB(cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.payments = store.NewPaymentStore(db)
		a.merchants = store.NewMerchantStore(db)
	}

	stellar, err := utils.NewStellarClient(cfg.HorizonURL, cfg.NetworkPassphrase, cfg.SettlementSignerSecret, cfg.ExecuteTimeout)
	if err != nil {
		return nil, err
	}
	if stellar.SignerAddress() == "" {
		logger.Warn("SETTLEMENT_SIGNER_SECRET not set, conversions will fail")
	}
	a.stellar = stellar

	deps := settlement.Dependencies{
		Store:     a.payments,
		Merchants: a.merchants,
		Quotes:    stellar,
		Executor:  stellar,
		Ledger:    stellar,
		Notifier:  utils.NewWebhookNotifier(cfg.WebhookMaxAttempts, cfg.WebhookBackoff, logger),
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		alerter, err := utils.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.WithError(err).Warn("operator alerts disabled")
		} else {
			deps.Alerter = alerter
		}
	}

	a.orchestrator = settlement.NewOrchestrator(deps, settlement.Settings{
		SettlementAsset: cfg.SettlementAsset,
		MaxSlippageBps:  cfg.MaxSlippageBps,
		QuoteTimeout:    cfg.QuoteTimeout,
		VerifyTimeout:   cfg.VerifyTimeout,
		ExecuteTimeout:  cfg.ExecuteTimeout,
	}, logger)

	return a, nil
}

// pingDB reports whether the database answers within timeout.
func (a *app) pingDB(ctx context.Context, timeout time.Duration) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// shutdown waits for in-flight notifications and closes the database.
func (a *app) shutdown(ctx context.Context) error {
	if err := a.orchestrator.Drain(ctx); err != nil {
		a.log.WithError(err).Warn("notifications still in flight at shutdown")
	}
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
