package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/handlers"
	"github.com/swapsettle/gateway/middleware"
)

func setupRouter(a *app) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.log))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		status, database := "healthy", "memory"
		if a.db != nil {
			database = "ok"
			if err := a.pingDB(c.Request.Context(), 2*time.Second); err != nil {
				status, database = "degraded", "unreachable"
			}
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":           status,
			"service":          "swap-settlement-gateway",
			"horizon":          a.cfg.HorizonURL,
			"settlement_asset": a.cfg.SettlementAsset,
			"database":         database,
			"counters":         a.orchestrator.Metrics.Snapshot(),
		})
	})

	api := router.Group("/api/v1")
	{
		merchantHandler := handlers.NewMerchantHandler(a.merchants, a.cfg, a.stellar)
		authHandler := handlers.NewAuthHandler(a.merchants, a.cfg)
		paymentHandler := handlers.NewPaymentHandler(a.orchestrator, a.log)

		api.POST("/merchants/register", merchantHandler.Register)
		api.POST("/auth/refresh", authHandler.Refresh)

		// Merchant dashboard endpoints (session token)
		me := api.Group("/merchants/me", middleware.JwtAuthMiddleware(a.cfg), middleware.RequireRole(middleware.RoleMerchant))
		me.GET("", merchantHandler.Profile)
		me.PUT("/settings", merchantHandler.UpdateSettings)
		me.POST("/apikey", merchantHandler.RegenerateAPIKey)

		// Payment endpoints (API key)
		payments := api.Group("/payments", middleware.APIKeyAuth(a.merchants))
		payments.POST("", paymentHandler.CreatePayment)
		payments.GET("", paymentHandler.ListPayments)
		payments.GET("/:id", paymentHandler.GetPayment)
		payments.GET("/:id/history", paymentHandler.GetPaymentHistory)
		payments.POST("/:id/transfer", paymentHandler.SubmitTransfer)
		payments.POST("/:id/settle", paymentHandler.BeginSettlement)
	}

	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}
