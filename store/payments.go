package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
	"gorm.io/gorm"
)

// PaymentStore persists payments with gorm. Every status change goes through a conditional
// UPDATE on (id, status), so exclusion holds across processes sharing the database.
type PaymentStore struct {
	db *gorm.DB
}

func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) Create(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if p.Status != models.StatusPending {
		return fmt.Errorf("%w: payments are created pending, got %s", settlement.ErrInvalidTransition, p.Status)
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *PaymentStore) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// FindByTransferRef returns the live (non-failed) payment bound to ref.
func (s *PaymentStore) FindByTransferRef(ctx context.Context, ref string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("transfer_ref = ? AND status <> ?", ref, models.StatusFailed).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (s *PaymentStore) CompareAndTransition(ctx context.Context, id string, expected, next models.PaymentStatus, fields models.TransitionFields) (*models.Payment, error) {
	if !expected.Valid() || !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q -> %q", settlement.ErrInvalidTransition, expected, next)
	}
	if !models.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", settlement.ErrInvalidTransition, expected, next)
	}

	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now(),
	}
	if fields.TransferRef != nil {
		updates["transfer_ref"] = *fields.TransferRef
	}
	if fields.SettlementRef != nil {
		updates["settlement_ref"] = *fields.SettlementRef
	}
	if fields.FailureReason != nil {
		updates["failure_reason"] = *fields.FailureReason
	}

	var payment models.Payment
	conflict := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, expected).
			Updates(updates)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return settlement.ErrTransferRefInUse
			}
			return res.Error
		}

		if res.RowsAffected == 0 {
			conflict = true
		} else {
			reason := ""
			if fields.FailureReason != nil {
				reason = *fields.FailureReason
			}
			history := models.PaymentTransition{
				PaymentID:  id,
				FromStatus: expected,
				ToStatus:   next,
				Reason:     reason,
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
		}

		return tx.First(&payment, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrPaymentNotFound
		}
		return nil, err
	}
	if conflict {
		return &payment, settlement.ErrTransitionConflict
	}
	return &payment, nil
}

func (s *PaymentStore) ListByStatus(ctx context.Context, status models.PaymentStatus, updatedBefore time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (s *PaymentStore) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// History returns the recorded transitions of a payment, oldest first.
func (s *PaymentStore) History(ctx context.Context, id string) ([]models.PaymentTransition, error) {
	var history []models.PaymentTransition
	err := s.db.WithContext(ctx).Where("payment_id = ?", id).Order("id").Find(&history).Error
	return history, err
}
