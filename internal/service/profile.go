package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"printshop-orders/internal/models"
	"printshop-orders/internal/util"
	"printshop-orders/internal/validation"

	"go.uber.org/zap"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrAddressIndex    = errors.New("address index out of range")
)

// ProfileUpdate carries the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Email            *string               `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName      *string               `json:"display_name,omitempty" validate:"omitempty,max=100"`
	Phone            *string               `json:"phone,omitempty" validate:"omitempty,max=20"`
	PhotoURL         *string               `json:"photo_url,omitempty"`
	PreferredPayment *models.PaymentMethod `json:"preferred_payment,omitempty"`
}

// ProfileService owns user profiles and their address books. At most one
// address per profile has IsDefault set.
type ProfileService struct {
	users  UserRepository
	locks  sync.Map
	now    func() time.Time
	logger *zap.Logger
}

// NewProfileService creates a profile service
func NewProfileService(users UserRepository) *ProfileService {
	return &ProfileService{users: users, now: time.Now, logger: util.Named("profiles")}
}

// GetProfile returns a stored profile
func (s *ProfileService) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	p, err := s.users.GetUser(ctx, uid)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// CreateOrUpdate applies upd, creating the profile with defaults on first sight
func (s *ProfileService) CreateOrUpdate(ctx context.Context, uid string, upd ProfileUpdate) (*models.UserProfile, error) {
	if err := validation.Struct(upd); err != nil {
		return nil, err
	}
	if upd.PreferredPayment != nil && !upd.PreferredPayment.Valid() {
		return nil, validation.Field("preferred_payment", "is invalid")
	}
	return s.mutate(ctx, uid, true, func(p *models.UserProfile) error {
		applyUpdate(p, upd)
		return nil
	})
}

// AddAddress appends an address. The first address always becomes the
// default; a new default clears the flag on every other entry.
func (s *ProfileService) AddAddress(ctx context.Context, uid string, addr models.Address) (*models.UserProfile, error) {
	if err := validation.Struct(addr); err != nil {
		return nil, err
	}
	return s.mutate(ctx, uid, true, func(p *models.UserProfile) error {
		if len(p.Addresses) == 0 {
			addr.IsDefault = true
		}
		p.Addresses = append(p.Addresses, addr)
		if addr.IsDefault {
			markDefault(p.Addresses, len(p.Addresses)-1)
		}
		return nil
	})
}

// UpdateAddress replaces the address at index
func (s *ProfileService) UpdateAddress(ctx context.Context, uid string, index int, addr models.Address) (*models.UserProfile, error) {
	if err := validation.Struct(addr); err != nil {
		return nil, err
	}
	return s.mutate(ctx, uid, false, func(p *models.UserProfile) error {
		if index < 0 || index >= len(p.Addresses) {
			return ErrAddressIndex
		}
		wasDefault := p.Addresses[index].IsDefault
		p.Addresses[index] = addr
		switch {
		case addr.IsDefault:
			markDefault(p.Addresses, index)
		case wasDefault:
			// clearing the only default promotes the first entry
			ensureDefault(p.Addresses)
		}
		return nil
	})
}

// DeleteAddress removes the address at index
func (s *ProfileService) DeleteAddress(ctx context.Context, uid string, index int) (*models.UserProfile, error) {
	return s.mutate(ctx, uid, false, func(p *models.UserProfile) error {
		if index < 0 || index >= len(p.Addresses) {
			return ErrAddressIndex
		}
		p.Addresses = append(p.Addresses[:index], p.Addresses[index+1:]...)
		ensureDefault(p.Addresses)
		return nil
	})
}

// SetDefaultAddress makes index the only default address
func (s *ProfileService) SetDefaultAddress(ctx context.Context, uid string, index int) (*models.UserProfile, error) {
	return s.mutate(ctx, uid, false, func(p *models.UserProfile) error {
		if index < 0 || index >= len(p.Addresses) {
			return ErrAddressIndex
		}
		markDefault(p.Addresses, index)
		return nil
	})
}

// DefaultAddress returns the address checkout should be prefilled with
func (s *ProfileService) DefaultAddress(ctx context.Context, uid string) (models.Address, bool, error) {
	p, err := s.GetProfile(ctx, uid)
	if errors.Is(err, ErrProfileNotFound) {
		return models.Address{}, false, nil
	}
	if err != nil {
		return models.Address{}, false, err
	}
	addr, ok := p.DefaultAddress()
	return addr, ok, nil
}

func (s *ProfileService) mutate(ctx context.Context, uid string, create bool, fn func(*models.UserProfile) error) (*models.UserProfile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, validation.Field("uid", "is required")
	}

	mu := s.lockFor(uid)
	mu.Lock()
	defer mu.Unlock()

	now := s.now().UTC()
	p, err := s.users.GetUser(ctx, uid)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if !create {
			return nil, ErrProfileNotFound
		}
		p = &models.UserProfile{
			UID:              uid,
			Addresses:        []models.Address{},
			PreferredPayment: models.PaymentMethodCOD,
			CreatedAt:        now,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = now

	if err := s.users.SaveUser(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	s.logger.Debug("Profile saved", zap.String("uid", uid), zap.Int("addresses", len(p.Addresses)))
	return p, nil
}

func (s *ProfileService) lockFor(uid string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(uid, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func applyUpdate(p *models.UserProfile, upd ProfileUpdate) {
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.DisplayName != nil {
		p.DisplayName = *upd.DisplayName
	}
	if upd.Phone != nil {
		p.Phone = *upd.Phone
	}
	if upd.PhotoURL != nil {
		p.PhotoURL = *upd.PhotoURL
	}
	if upd.PreferredPayment != nil {
		p.PreferredPayment = *upd.PreferredPayment
	}
}

func markDefault(addrs []models.Address, index int) {
	for i := range addrs {
		addrs[i].IsDefault = i == index
	}
}

func ensureDefault(addrs []models.Address) {
	for _, a := range addrs {
		if a.IsDefault {
			return
		}
	}
	if len(addrs) > 0 {
		addrs[0].IsDefault = true
	}
}
