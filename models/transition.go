package models

import "time"

// PaymentTransition is one row of the append-only status history of a payment
type PaymentTransition struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time     `json:"created_at"`
	PaymentID  string        `gorm:"size:36;not null;index" json:"payment_id"`
	FromStatus PaymentStatus `gorm:"size:20;not null" json:"from_status"`
	ToStatus   PaymentStatus `gorm:"size:20;not null" json:"to_status"`
	Reason     string        `gorm:"type:text" json:"reason,omitempty"`
}

// TableName overrides the table name
func (PaymentTransition) TableName() string {
	return "payment_transitions"
}
