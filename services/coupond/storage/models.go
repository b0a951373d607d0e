package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IssuedCoupon journals one signed price authorization. The signature column
// holds the 0x-prefixed 65-byte recoverable signature the buyer presents with
// the purchase.
type IssuedCoupon struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Handle    string    `gorm:"size:64;index"`
	Buyer     string    `gorm:"size:90;index"`
	RaffleID  uint64    `gorm:"index"`
	Nonce     uint64
	Count     uint32
	Value     uint64
	Expiry    int64
	Signature string `gorm:"size:132"`
	Signer    string `gorm:"size:90"`
	CreatedAt time.Time
}

// BuyerBinding maps a normalized handle onto its buyer account and tracks the
// next nonce the signer prices. One handle owns one account and vice versa;
// a second handle pricing for the same account would desynchronize the nonce
// counter.
type BuyerBinding struct {
	Handle    string `gorm:"primaryKey;size:64"`
	Buyer     string `gorm:"size:90;uniqueIndex"`
	NextNonce uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&BuyerBinding{},
		&IssuedCoupon{},
	)
}
