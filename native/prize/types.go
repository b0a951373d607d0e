package prize

import (
	"fmt"
	"math/big"
)

// Kind identifies the asset class a prize record holds in custody.
type Kind uint8

const (
	KindNone Kind = iota
	KindNFT
	KindETH
	KindToken
)

// Valid reports whether the kind value is within the supported range. KindNone
// is not a storable kind; records always carry a concrete asset class.
func (k Kind) Valid() bool {
	switch k {
	case KindNFT, KindETH, KindToken:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNFT:
		return "nft"
	case KindETH:
		return "eth"
	case KindToken:
		return "token"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record captures one prize held in custody for a raffle. At most one record
// exists per raffle id; the kind is immutable once locked. Collection and
// TokenID are set for NFT prizes, Token and Amount for fungible token prizes,
// Amount alone for native-value prizes.
type Record struct {
	RaffleID   uint64
	Kind       Kind
	Collection [20]byte
	TokenID    *big.Int
	Token      [20]byte
	Amount     *big.Int
	Claimed    bool
	LockedAt   int64
}

// Clone returns a deep copy callers can mutate without affecting the stored
// instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.TokenID != nil {
		clone.TokenID = new(big.Int).Set(r.TokenID)
	}
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeRecord validates the supplied record and returns a cloned instance
// with non-nil numeric fields. The function does not mutate the original.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("nil prize record")
	}
	if !r.Kind.Valid() {
		return nil, fmt.Errorf("unsupported prize kind %d", uint8(r.Kind))
	}
	clone := r.Clone()
	if clone.Amount == nil {
		clone.Amount = big.NewInt(0)
	}
	switch clone.Kind {
	case KindNFT:
		if clone.TokenID == nil {
			return nil, fmt.Errorf("nft prize requires a token id")
		}
	case KindETH, KindToken:
		if clone.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("fungible prize requires a positive amount")
		}
	}
	return clone, nil
}

// RaffleView is the read-only summary the prize side exposes per raffle id:
// the held asset class, whether it has been paid out, and the winner
// propagated from the ticket side (zero until the winner message arrives).
type RaffleView struct {
	RaffleID uint64
	Kind     Kind
	Claimed  bool
	Winner   [20]byte
}
