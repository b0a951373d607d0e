package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrHandleBound indicates the handle already belongs to another buyer
	// account.
	ErrHandleBound = errors.New("handle bound to a different buyer")
	// ErrBuyerBound indicates the buyer account already belongs to another
	// handle.
	ErrBuyerBound = errors.New("buyer bound to a different handle")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store wraps the coupon journal and nonce registry.
type Store struct {
	db *gorm.DB
}

// New migrates the schema and returns a store over the supplied connection.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database connection required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Binding returns the registry entry for the handle, or nil when the handle
// has never been priced.
func (s *Store) Binding(ctx context.Context, handle string) (*BuyerBinding, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not configured")
	}
	var binding BuyerBinding
	err := s.db.WithContext(ctx).First(&binding, "handle = ?", handle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load binding: %w", err)
	}
	return &binding, nil
}

// RecordIssue journals a signed coupon and advances the handle's nonce
// registry in one transaction. The first issue binds the handle to the buyer
// account; later issues must keep the same pairing.
func (s *Store) RecordIssue(ctx context.Context, coupon *IssuedCoupon) error {
	if s == nil || s.db == nil {
		return errors.New("store not configured")
	}
	if coupon == nil {
		return errors.New("coupon required")
	}
	if strings.TrimSpace(coupon.Handle) == "" {
		return errors.New("coupon handle required")
	}
	if strings.TrimSpace(coupon.Buyer) == "" {
		return errors.New("coupon buyer required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var binding BuyerBinding
		err := tx.First(&binding, "handle = ?", coupon.Handle).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			var owner BuyerBinding
			ownerErr := tx.First(&owner, "buyer = ?", coupon.Buyer).Error
			if ownerErr == nil {
				return ErrBuyerBound
			}
			if !errors.Is(ownerErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("check buyer binding: %w", ownerErr)
			}
			binding = BuyerBinding{
				Handle:    coupon.Handle,
				Buyer:     coupon.Buyer,
				NextNonce: coupon.Nonce + 1,
				CreatedAt: coupon.CreatedAt,
				UpdatedAt: coupon.CreatedAt,
			}
			if err := tx.Create(&binding).Error; err != nil {
				return fmt.Errorf("create binding: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load binding: %w", err)
		default:
			if binding.Buyer != coupon.Buyer {
				return ErrHandleBound
			}
			binding.NextNonce = coupon.Nonce + 1
			binding.UpdatedAt = coupon.CreatedAt
			if err := tx.Save(&binding).Error; err != nil {
				return fmt.Errorf("update binding: %w", err)
			}
		}

		if err := tx.Create(coupon).Error; err != nil {
			return fmt.Errorf("journal coupon: %w", err)
		}
		return nil
	})
}

// Coupons lists journaled coupons, newest first. Handle and raffle filters
// are optional; a zero raffle id matches everything.
func (s *Store) Coupons(ctx context.Context, handle string, raffleID uint64, limit int) ([]IssuedCoupon, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if strings.TrimSpace(handle) != "" {
		query = query.Where("handle = ?", handle)
	}
	if raffleID != 0 {
		query = query.Where("raffle_id = ?", raffleID)
	}
	coupons := make([]IssuedCoupon, 0)
	if err := query.Find(&coupons).Error; err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	return coupons, nil
}
