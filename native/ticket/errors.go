package ticket

import "errors"

var (
	ErrInvalidRaffle           = errors.New("ticket: raffle not in a valid state for this call")
	ErrPrizeNotLocked          = errors.New("ticket: no prize locked for raffle")
	ErrRaffleNeedsStartTime    = errors.New("ticket: raffle start time required")
	ErrRaffleClosingTooSoon    = errors.New("ticket: raffle close time under minimum duration")
	ErrInvalidTicketCount      = errors.New("ticket: ticket count must be positive")
	ErrRaffleHasNotStarted     = errors.New("ticket: raffle has not started")
	ErrRaffleHasEnded          = errors.New("ticket: raffle has ended")
	ErrTooManyTickets          = errors.New("ticket: purchase exceeds holdings or supply cap")
	ErrExpiredCoupon           = errors.New("ticket: price coupon expired")
	ErrUnauthorized            = errors.New("ticket: price coupon not signed by an authorized signer")
	ErrNoParticipants          = errors.New("ticket: raffle has no participants")
	ErrRaffleIsStillOpen       = errors.New("ticket: raffle is still open")
	ErrTargetTicketsNotReached = errors.New("ticket: ticket threshold not reached")
	ErrTargetTicketsReached    = errors.New("ticket: ticket threshold reached")
	ErrRequestNotFound         = errors.New("ticket: randomness request unknown or consumed")
	ErrInvalidRaffleStatus     = errors.New("ticket: raffle winner not ready to propagate")
	ErrPlayerAlreadyRefunded   = errors.New("ticket: player already refunded")
	ErrNothingToSend           = errors.New("ticket: player has nothing to refund")
	ErrRaffleNotFulfilled      = errors.New("ticket: raffle has no fulfilled draw")
	ErrTicketIndexOutOfRange   = errors.New("ticket: ticket index beyond issued supply")
)
