package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Merchant struct {
	ID                  string          `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Name                string          `gorm:"size:255;not null" json:"name"`
	Email               string          `gorm:"uniqueIndex;size:255;not null" json:"email"`
	WalletAddress       string          `gorm:"size:56;not null" json:"wallet_address"`
	MinSettlementAmount decimal.Decimal `gorm:"type:decimal(20,7);not null" json:"min_settlement_amount"`
	AutoSettlement      bool            `gorm:"not null" json:"auto_settlement"`
	WebhookURL          string          `gorm:"size:500" json:"webhook_url,omitempty"`
	APIKeyID            string          `gorm:"uniqueIndex;size:36;not null" json:"-"`
	APIKeyHash          string          `gorm:"size:255;not null" json:"-"`
}

// TableName overrides the table name
func (Merchant) TableName() string {
	return "merchants"
}

// DefaultMinSettlementAmount applies when a merchant registers without one (1 unit of the settlement asset)
var DefaultMinSettlementAmount = decimal.NewFromInt(1)
