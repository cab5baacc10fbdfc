package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
)

const maxListLimit = 100

type PaymentHandler struct {
	orchestrator *settlement.Orchestrator
	log          *logrus.Entry
}

func NewPaymentHandler(orchestrator *settlement.Orchestrator, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		log:          logger.WithField("component", "payments_api"),
	}
}

type CreatePaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
}

type SubmitTransferRequest struct {
	TransferRef string `json:"transfer_ref" binding:"required"`
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.orchestrator.CreatePayment(c.Request.Context(), c.GetString("merchantID"), req.Amount, req.Currency)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, ok := h.ownedPayment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetPaymentHistory(c *gin.Context) {
	payment, ok := h.ownedPayment(c)
	if !ok {
		return
	}
	history, err := h.orchestrator.PaymentHistory(c.Request.Context(), payment.ID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_id": payment.ID, "status": payment.Status, "transitions": history})
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	payments, err := h.orchestrator.ListPayments(c.Request.Context(), c.GetString("merchantID"), limit)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// SubmitTransfer attaches the customer's on-chain transfer to a payment. A transfer the ledger
// has not confirmed yet is answered with 202 and the payment still pending.
func (h *PaymentHandler) SubmitTransfer(c *gin.Context) {
	var req SubmitTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.ownedPayment(c); !ok {
		return
	}

	payment, err := h.orchestrator.SubmitTransferReference(c.Request.Context(), c.Param("id"), req.TransferRef)
	if err != nil {
		h.respondError(c, err, payment)
		return
	}

	status := http.StatusOK
	if payment.Status == models.StatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, payment)
}

// BeginSettlement starts conversion for merchants that settle manually.
func (h *PaymentHandler) BeginSettlement(c *gin.Context) {
	current, ok := h.ownedPayment(c)
	if !ok {
		return
	}
	if current.Status == models.StatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Payment has not been received yet", "payment": current})
		return
	}

	payment, err := h.orchestrator.BeginConversion(c.Request.Context(), current.ID)
	if err != nil {
		h.respondError(c, err, payment)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) ownedPayment(c *gin.Context) (*models.Payment, bool) {
	payment, err := h.orchestrator.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, nil)
		return nil, false
	}
	if payment.MerchantID != c.GetString("merchantID") {
		c.JSON(http.StatusNotFound, gin.H{"error": settlement.ErrPaymentNotFound.Error()})
		return nil, false
	}
	return payment, true
}

func (h *PaymentHandler) respondError(c *gin.Context, err error, payment *models.Payment) {
	body := gin.H{"error": err.Error()}
	if payment != nil {
		body["payment"] = payment
	}

	switch {
	case errors.Is(err, settlement.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, body)
	case errors.Is(err, settlement.ErrTransferRefInUse):
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, settlement.ErrValidation):
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, settlement.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		h.log.WithField("path", c.FullPath()).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
