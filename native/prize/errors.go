package prize

import "errors"

var (
	ErrInvalidRaffleID     = errors.New("prize: raffle id already in use")
	ErrInvalidPrize        = errors.New("prize: asset not held unencumbered")
	ErrInvalidRaffle       = errors.New("prize: no active prize record")
	ErrUnauthorizedToClaim = errors.New("prize: caller is not the recorded winner")
	ErrAlreadyClaimed      = errors.New("prize: prize already claimed")
	ErrNoWinner            = errors.New("prize: no winner recorded")
	ErrInsufficientBalance = errors.New("prize: amount exceeds unlocked balance")
	ErrNFTLocked           = errors.New("prize: nft locked to an active raffle")
)
