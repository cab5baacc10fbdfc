package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	MerchantID      string          `gorm:"size:36;not null;index" json:"merchant_id"`
	AmountIn        decimal.Decimal `gorm:"type:decimal(20,7);not null" json:"amount_in"`
	CurrencyIn      string          `gorm:"size:69;not null" json:"currency_in"`  // XLM or CODE:ISSUER
	CurrencyOut     string          `gorm:"size:69;not null" json:"currency_out"` // system settlement asset
	QuotedAmountOut decimal.Decimal `gorm:"type:decimal(20,7)" json:"quoted_amount_out"`
	PaymentAddress  string          `gorm:"size:56;not null" json:"payment_address"`
	TransferRef     *string         `gorm:"size:64;uniqueIndex:idx_payments_transfer_ref,where:status <> 'failed'" json:"transfer_ref,omitempty"`
	Status          PaymentStatus   `gorm:"size:20;not null;default:'pending';index" json:"status"`
	SettlementRef   *string         `gorm:"size:64" json:"settlement_ref,omitempty"`
	FailureReason   *string         `gorm:"type:text" json:"failure_reason,omitempty"`
}

// TableName overrides the table name
func (Payment) TableName() string {
	return "payments"
}

// TransitionFields carries the columns that may be written together with a status change.
// Nil fields are left untouched.
type TransitionFields struct {
	TransferRef   *string
	SettlementRef *string
	FailureReason *string
}

// Apply copies the non-nil fields onto p
func (f TransitionFields) Apply(p *Payment) {
	if f.TransferRef != nil {
		p.TransferRef = f.TransferRef
	}
	if f.SettlementRef != nil {
		p.SettlementRef = f.SettlementRef
	}
	if f.FailureReason != nil {
		p.FailureReason = f.FailureReason
	}
}

// Reason returns the failure reason or an empty string
func (p *Payment) Reason() string {
	if p.FailureReason == nil {
		return ""
	}
	return *p.FailureReason
}
