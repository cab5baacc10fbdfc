package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/swapsettle/gateway/models"
	"github.com/swapsettle/gateway/settlement"
)

// MemoryStore keeps payments and merchants in process memory. It backs development runs
// without a database and the orchestrator tests; the compare-and-transition guarantee only
// holds within a single process.
type MemoryStore struct {
	mu        sync.RWMutex
	payments  map[string]*models.Payment
	history   map[string][]models.PaymentTransition
	merchants map[string]*models.Merchant
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:  make(map[string]*models.Payment),
		history:   make(map[string][]models.PaymentTransition),
		merchants: make(map[string]*models.Merchant),
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if p.Status != models.StatusPending {
		return fmt.Errorf("%w: payments are created pending, got %s", settlement.ErrInvalidTransition, p.Status)
	}
	if _, exists := s.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}

	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	stored := *p
	s.payments[p.ID] = &stored
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, settlement.ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) FindByTransferRef(ctx context.Context, ref string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p := s.liveByRef(ref); p != nil {
		copied := *p
		return &copied, nil
	}
	return nil, settlement.ErrPaymentNotFound
}

func (s *MemoryStore) CompareAndTransition(ctx context.Context, id string, expected, next models.PaymentStatus, fields models.TransitionFields) (*models.Payment, error) {
	if !expected.Valid() || !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q -> %q", settlement.ErrInvalidTransition, expected, next)
	}
	if !models.CanTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", settlement.ErrInvalidTransition, expected, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, settlement.ErrPaymentNotFound
	}
	if p.Status != expected {
		copied := *p
		return &copied, settlement.ErrTransitionConflict
	}
	if fields.TransferRef != nil && next != models.StatusFailed {
		if other := s.liveByRef(*fields.TransferRef); other != nil && other.ID != id {
			return nil, settlement.ErrTransferRefInUse
		}
	}

	p.Status = next
	p.UpdatedAt = s.now()
	fields.Apply(p)

	reason := ""
	if fields.FailureReason != nil {
		reason = *fields.FailureReason
	}
	s.history[id] = append(s.history[id], models.PaymentTransition{
		ID:         uint(len(s.history[id]) + 1),
		CreatedAt:  p.UpdatedAt,
		PaymentID:  id,
		FromStatus: expected,
		ToStatus:   next,
		Reason:     reason,
	})

	copied := *p
	return &copied, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status models.PaymentStatus, updatedBefore time.Time, limit int) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Payment
	for _, p := range s.payments {
		if p.Status == status && p.UpdatedAt.Before(updatedBefore) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Payment
	for _, p := range s.payments {
		if p.MerchantID == merchantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) History(ctx context.Context, id string) ([]models.PaymentTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.PaymentTransition(nil), s.history[id]...), nil
}

func (s *MemoryStore) CreateMerchant(ctx context.Context, m *models.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.merchants {
		if existing.Email == m.Email {
			return ErrEmailTaken
		}
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	stored := *m
	s.merchants[m.ID] = &stored
	return nil
}

func (s *MemoryStore) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[id]
	if !ok {
		return nil, settlement.ErrMerchantNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) GetMerchantByAPIKeyID(ctx context.Context, keyID string) (*models.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.merchants {
		if m.APIKeyID == keyID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, settlement.ErrMerchantNotFound
}

func (s *MemoryStore) SaveMerchant(ctx context.Context, m *models.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[m.ID]; !ok {
		return settlement.ErrMerchantNotFound
	}
	m.UpdatedAt = s.now()
	stored := *m
	s.merchants[m.ID] = &stored
	return nil
}

func (s *MemoryStore) liveByRef(ref string) *models.Payment {
	for _, p := range s.payments {
		if p.TransferRef != nil && *p.TransferRef == ref && p.Status != models.StatusFailed {
			return p
		}
	}
	return nil
}

func truncate(payments []models.Payment, limit int) []models.Payment {
	if limit > 0 && len(payments) > limit {
		return payments[:limit]
	}
	return payments
}
