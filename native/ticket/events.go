package ticket

import (
	"encoding/hex"
	"strconv"

	"rafflenet/core/types"
)

const (
	EventTypePrizeLocked      = "raffle.prize_locked"
	EventTypeRaffleCreated    = "raffle.created"
	EventTypeTicketsSold      = "raffle.tickets_sold"
	EventTypeDrawRequested    = "raffle.draw_requested"
	EventTypeRaffleFulfilled  = "raffle.fulfilled"
	EventTypeWinnerPropagated = "raffle.winner_propagated"
	EventTypeRaffleCanceled   = "raffle.canceled"
	EventTypePlayerRefunded   = "raffle.player_refunded"
	EventTypeFeesFunded       = "raffle.fees_funded"
)

// NewPrizeLockedEvent returns the canonical payload emitted when a prize lock
// notification opens a raffle slot on the ticket side.
func NewPrizeLockedEvent(raffleID uint64) *types.Event {
	return &types.Event{
		Type: EventTypePrizeLocked,
		Attributes: map[string]string{
			"raffleId": strconv.FormatUint(raffleID, 10),
		},
	}
}

// NewCreatedEvent returns the canonical payload emitted when the operator
// opens ticket sales for a locked prize.
func NewCreatedEvent(r *Raffle) *types.Event {
	attrs := map[string]string{
		"raffleId": strconv.FormatUint(r.ID, 10),
		"startsAt": strconv.FormatInt(r.StartsAt, 10),
		"endsAt":   strconv.FormatInt(r.EndsAt, 10),
	}
	if r.MinTickets > 0 {
		attrs["minTickets"] = strconv.FormatUint(uint64(r.MinTickets), 10)
	}
	if r.MaxTickets > 0 {
		attrs["maxTickets"] = strconv.FormatUint(uint64(r.MaxTickets), 10)
	}
	if r.MaxHoldings > 0 {
		attrs["maxHoldings"] = strconv.FormatUint(uint64(r.MaxHoldings), 10)
	}
	return &types.Event{Type: EventTypeRaffleCreated, Attributes: attrs}
}

// NewTicketsSoldEvent returns the canonical payload emitted after a coupon
// purchase settles.
func NewTicketsSoldEvent(raffleID uint64, buyer [20]byte, count uint32, value uint64, supply uint32) *types.Event {
	return &types.Event{
		Type: EventTypeTicketsSold,
		Attributes: map[string]string{
			"raffleId": strconv.FormatUint(raffleID, 10),
			"buyer":    hex.EncodeToString(buyer[:]),
			"count":    strconv.FormatUint(uint64(count), 10),
			"value":    strconv.FormatUint(value, 10),
			"supply":   strconv.FormatUint(uint64(supply), 10),
		},
	}
}

// NewDrawRequestedEvent returns the canonical payload emitted when a closed
// raffle asks the randomness provider for a word.
func NewDrawRequestedEvent(raffleID uint64, requestID [32]byte) *types.Event {
	return &types.Event{
		Type: EventTypeDrawRequested,
		Attributes: map[string]string{
			"raffleId":  strconv.FormatUint(raffleID, 10),
			"requestId": hex.EncodeToString(requestID[:]),
		},
	}
}

// NewFulfilledEvent returns the canonical payload emitted when the randomness
// provider delivers the word for a pending draw.
func NewFulfilledEvent(raffleID uint64, requestID [32]byte, word string) *types.Event {
	return &types.Event{
		Type: EventTypeRaffleFulfilled,
		Attributes: map[string]string{
			"raffleId":  strconv.FormatUint(raffleID, 10),
			"requestId": hex.EncodeToString(requestID[:]),
			"word":      word,
		},
	}
}

// NewWinnerPropagatedEvent returns the canonical payload emitted when the
// drawn winner is announced to the prize side.
func NewWinnerPropagatedEvent(raffleID uint64, winner [20]byte, messageID [32]byte, fee string) *types.Event {
	return &types.Event{
		Type: EventTypeWinnerPropagated,
		Attributes: map[string]string{
			"raffleId":  strconv.FormatUint(raffleID, 10),
			"winner":    hex.EncodeToString(winner[:]),
			"messageId": hex.EncodeToString(messageID[:]),
			"fee":       fee,
		},
	}
}

// NewCanceledEvent returns the canonical payload emitted when a raffle is
// abandoned and the prize side is told to unlock.
func NewCanceledEvent(raffleID uint64, messageID [32]byte, fee string) *types.Event {
	return &types.Event{
		Type: EventTypeRaffleCanceled,
		Attributes: map[string]string{
			"raffleId":  strconv.FormatUint(raffleID, 10),
			"messageId": hex.EncodeToString(messageID[:]),
			"fee":       fee,
		},
	}
}

// NewPlayerRefundedEvent returns the canonical payload emitted per player when
// a canceled raffle returns spent value.
func NewPlayerRefundedEvent(raffleID uint64, player [20]byte, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypePlayerRefunded,
		Attributes: map[string]string{
			"raffleId": strconv.FormatUint(raffleID, 10),
			"player":   hex.EncodeToString(player[:]),
			"amount":   strconv.FormatUint(amount, 10),
		},
	}
}

// NewFeesFundedEvent returns the canonical payload emitted when the channel
// fee balance is topped up.
func NewFeesFundedEvent(amount, balance string) *types.Event {
	return &types.Event{
		Type: EventTypeFeesFunded,
		Attributes: map[string]string{
			"amount":  amount,
			"balance": balance,
		},
	}
}
