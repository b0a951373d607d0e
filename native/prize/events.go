package prize

import (
	"encoding/hex"
	"strconv"

	"rafflenet/core/types"
)

const (
	EventTypePrizeLocked      = "prize.locked"
	EventTypePrizeUnlocked    = "prize.unlocked"
	EventTypePrizeClaimed     = "prize.claimed"
	EventTypeWinnerPropagated = "prize.winner_propagated"
	EventTypePrizeWithdrawn   = "prize.withdrawn"
	EventTypeFeesFunded       = "prize.fees_funded"
)

func recordAttributes(r *Record) map[string]string {
	attrs := map[string]string{
		"raffleId": strconv.FormatUint(r.RaffleID, 10),
		"kind":     r.Kind.String(),
	}
	switch r.Kind {
	case KindNFT:
		attrs["collection"] = hex.EncodeToString(r.Collection[:])
		if r.TokenID != nil {
			attrs["tokenId"] = r.TokenID.String()
		}
	case KindETH:
		attrs["amount"] = r.Amount.String()
	case KindToken:
		attrs["token"] = hex.EncodeToString(r.Token[:])
		attrs["amount"] = r.Amount.String()
	}
	return attrs
}

// NewLockedEvent returns the canonical payload emitted when a prize enters
// custody and its lock notification is sent to the ticket side.
func NewLockedEvent(r *Record, messageID [32]byte, fee string) *types.Event {
	attrs := recordAttributes(r)
	attrs["messageId"] = hex.EncodeToString(messageID[:])
	attrs["fee"] = fee
	return &types.Event{Type: EventTypePrizeLocked, Attributes: attrs}
}

// NewUnlockedEvent returns the canonical payload emitted when a cancel
// notification releases a prize back to the unlocked pool.
func NewUnlockedEvent(r *Record) *types.Event {
	return &types.Event{Type: EventTypePrizeUnlocked, Attributes: recordAttributes(r)}
}

// NewClaimedEvent returns the canonical payload emitted when the recorded
// winner collects a prize.
func NewClaimedEvent(r *Record, winner [20]byte) *types.Event {
	attrs := recordAttributes(r)
	attrs["winner"] = hex.EncodeToString(winner[:])
	return &types.Event{Type: EventTypePrizeClaimed, Attributes: attrs}
}

// NewWinnerPropagatedEvent returns the canonical payload emitted when a
// winner-drawn message records the claimant for a raffle.
func NewWinnerPropagatedEvent(raffleID uint64, winner [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeWinnerPropagated,
		Attributes: map[string]string{
			"raffleId": strconv.FormatUint(raffleID, 10),
			"winner":   hex.EncodeToString(winner[:]),
		},
	}
}

// NewETHWithdrawnEvent returns the canonical payload emitted when an admin
// withdraws unlocked native value from the vault.
func NewETHWithdrawnEvent(to [20]byte, amount string) *types.Event {
	return &types.Event{
		Type: EventTypePrizeWithdrawn,
		Attributes: map[string]string{
			"asset":  "eth",
			"to":     hex.EncodeToString(to[:]),
			"amount": amount,
		},
	}
}

// NewTokenWithdrawnEvent returns the canonical payload emitted when an admin
// withdraws unlocked fungible tokens from the vault.
func NewTokenWithdrawnEvent(token [20]byte, to [20]byte, amount string) *types.Event {
	return &types.Event{
		Type: EventTypePrizeWithdrawn,
		Attributes: map[string]string{
			"asset":  "token",
			"token":  hex.EncodeToString(token[:]),
			"to":     hex.EncodeToString(to[:]),
			"amount": amount,
		},
	}
}

// NewNFTWithdrawnEvent returns the canonical payload emitted when an admin
// withdraws an unlocked token from the vault.
func NewNFTWithdrawnEvent(collection [20]byte, tokenID string, to [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypePrizeWithdrawn,
		Attributes: map[string]string{
			"asset":      "nft",
			"collection": hex.EncodeToString(collection[:]),
			"tokenId":    tokenID,
			"to":         hex.EncodeToString(to[:]),
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
