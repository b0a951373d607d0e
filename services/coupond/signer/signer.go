// Package signer wraps the price-signer key. Coupons it signs settle on the
// ticket controller once the signing account holds the API-signer role there.
package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"rafflenet/crypto"
	"rafflenet/native/ticket"
)

// Signer produces coupon signatures with a fixed secp256k1 key.
type Signer struct {
	key *crypto.PrivateKey
}

// New wraps an already-loaded key.
func New(key *crypto.PrivateKey) (*Signer, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("signer key required")
	}
	return &Signer{key: key}, nil
}

// FromHex loads the signer key from its hex encoding, with or without a 0x
// prefix.
func FromHex(keyHex string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if trimmed == "" {
		return nil, errors.New("signer key required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	return New(key)
}

// Address renders the signing account with the price-signer prefix.
func (s *Signer) Address() crypto.Address {
	return crypto.NewAddress(crypto.SignerPrefix, s.Account().Bytes())
}

// Account returns the signing account in the form the ticket controller's
// signer set stores.
func (s *Signer) Account() crypto.Address {
	return s.key.PubKey().Address()
}

// Sign authorizes one purchase price.
func (s *Signer) Sign(coupon ticket.Coupon) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("signer not configured")
	}
	return coupon.Sign(s.key)
}
