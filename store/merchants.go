package store

import (
	"context"
	"errors"

	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
	"gorm.io/gorm"
)

var ErrEmailTaken = errors.New("merchant already exists")

type MerchantStore struct {
	db *gorm.DB
}

func NewMerchantStore(db *gorm.DB) *MerchantStore {
	return &MerchantStore{db: db}
}

func (s *MerchantStore) CreateMerchant(ctx context.Context, m *models.Merchant) error {
	err := s.db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEmailTaken
	}
	return err
}

func (s *MerchantStore) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *MerchantStore) GetMerchantByAPIKeyID(ctx context.Context, keyID string) (*models.Merchant, error) {
	return s.first(ctx, "api_key_id = ?", keyID)
}

func (s *MerchantStore) SaveMerchant(ctx context.Context, m *models.Merchant) error {
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *MerchantStore) first(ctx context.Context, query string, args ...interface{}) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := s.db.WithContext(ctx).Where(query, args...).First(&merchant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, settlement.ErrMerchantNotFound
		}
		return nil, err
	}
	return &merchant, nil
}
