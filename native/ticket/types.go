package ticket

import (
	"fmt"
	"math/big"
)

// RaffleStatus tracks a raffle's lifecycle on the ticket side. Statuses only
// advance forward; Canceled is an absorbing state reachable from PrizeLocked
// or Idle.
type RaffleStatus uint8

const (
	StatusNone RaffleStatus = iota
	StatusPrizeLocked
	StatusIdle
	StatusRequested
	StatusFulfilled
	StatusPropagated
	StatusCanceled
)

// Valid reports whether the status value is within the supported range.
func (s RaffleStatus) Valid() bool {
	switch s {
	case StatusNone, StatusPrizeLocked, StatusIdle, StatusRequested, StatusFulfilled, StatusPropagated, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s RaffleStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPrizeLocked:
		return "prize_locked"
	case StatusIdle:
		return "idle"
	case StatusRequested:
		return "requested"
	case StatusFulfilled:
		return "fulfilled"
	case StatusPropagated:
		return "propagated"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MinRaffleDuration is the shortest allowed window between a raffle's start
// and close, and between creation and close, in seconds.
const MinRaffleDuration int64 = 3600

// Raffle is the ticket ledger's record for one raffle id. MinTickets is the
// draw threshold, MaxTickets caps issued supply (0 = uncapped), MaxHoldings
// caps tickets per participant (0 = uncapped). EndsAt may be zero for an
// open-ended raffle that closes on sellout only.
type Raffle struct {
	ID          uint64
	Status      RaffleStatus
	StartsAt    int64
	EndsAt      int64
	MinTickets  uint32
	MaxTickets  uint32
	MaxHoldings uint32
	TotalRaised *big.Int
	RequestID   [32]byte
	RandomWord  *big.Int
	CreatedAt   int64
}

// Clone returns a deep copy callers can mutate without affecting the stored
// instance.
func (r *Raffle) Clone() *Raffle {
	if r == nil {
		return nil
	}
	clone := *r
	if r.TotalRaised != nil {
		clone.TotalRaised = new(big.Int).Set(r.TotalRaised)
	} else {
		clone.TotalRaised = big.NewInt(0)
	}
	if r.RandomWord != nil {
		clone.RandomWord = new(big.Int).Set(r.RandomWord)
	}
	return &clone
}

// Participation is the per-(raffle, participant) sale record. The field
// widths are protocol-visible through the coupon digest layout: spent value
// is a 64-bit quantity and the purchase count 32-bit.
type Participation struct {
	Spent     uint64
	Purchased uint32
	Refunded  bool
}

// RandomnessRequest correlates a draw request with its raffle. Requests are
// never deleted; Fulfilled flips exactly once when the provider calls back.
type RandomnessRequest struct {
	RequestID [32]byte
	RaffleID  uint64
	Word      *big.Int
	Fulfilled bool
}

// Clone returns a deep copy of the request record.
func (r *RandomnessRequest) Clone() *RandomnessRequest {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Word != nil {
		clone.Word = new(big.Int).Set(r.Word)
	}
	return &clone
}
