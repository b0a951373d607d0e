package prize

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"rafflenet/channel"
	"rafflenet/core/events"
	"rafflenet/core/types"
)

var (
	errNilState  = errors.New("prize engine: state not configured")
	errNilVault  = errors.New("prize engine: vault not configured")
	errNilRouter = errors.New("prize engine: router not configured")
)

type engineState interface {
	PrizeGet(raffleID uint64) (*Record, bool)
	PrizePut(*Record) error
	PrizeDelete(raffleID uint64) error
	WinnerGet(raffleID uint64) ([20]byte, bool)
	WinnerPut(raffleID uint64, winner [20]byte) error
	LockedETH() *big.Int
	SetLockedETH(*big.Int) error
	LockedToken(token [20]byte) *big.Int
	SetLockedToken(token [20]byte, amount *big.Int) error
	NFTLockRaffle(collection [20]byte, tokenID *big.Int) (uint64, bool)
	SetNFTLock(collection [20]byte, tokenID *big.Int, raffleID uint64) error
	ClearNFTLock(collection [20]byte, tokenID *big.Int) error
	FeeBalance() *big.Int
	SetFeeBalance(*big.Int) error
}

type prizeEvent struct {
	evt *types.Event
}

func (e prizeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e prizeEvent) Event() *types.Event { return e.evt }

// Engine owns the prize ledger: custody records, locked-total accumulators,
// the propagated winner map, and the channel fee balance. Inbound cancel and
// winner-drawn messages arrive through HandleMessage; every lock sends the
// prize-locked notification to the ticket side before returning.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	vault        Vault
	router       channel.Router
	routerCaller [20]byte
	counterparts *channel.AllowList
	nowFn        func() int64
}

// NewEngine creates a prize engine with a no-op emitter and an empty
// counterpart allow-list.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		counterparts: channel.NewAllowList(),
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVault configures the asset custodian backing the ledger.
func (e *Engine) SetVault(vault Vault) { e.vault = vault }

// SetRouter configures the outbound channel endpoint and the account whose
// deliveries HandleMessage accepts.
func (e *Engine) SetRouter(router channel.Router, caller [20]byte) {
	e.router = router
	e.routerCaller = caller
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// AllowCounterpart adds a remote ticket contract to the inbound allow-list.
func (e *Engine) AllowCounterpart(remote channel.Remote) { e.counterparts.Allow(remote) }

// RevokeCounterpart removes a remote ticket contract from the allow-list.
func (e *Engine) RevokeCounterpart(remote channel.Remote) { e.counterparts.Revoke(remote) }

// Counterparts returns the allow-list entries in deterministic order.
func (e *Engine) Counterparts() []channel.Remote { return e.counterparts.Peers() }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(prizeEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) ensureCustody() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	return nil
}

func (e *Engine) ensureCollaborators() error {
	if err := e.ensureCustody(); err != nil {
		return err
	}
	if e.router == nil {
		return errNilRouter
	}
	return nil
}

// quoteFee verifies the engine can pay the outbound message before any state
// commits.
func (e *Engine) quoteFee(dest channel.Remote) (*big.Int, error) {
	fee, err := e.router.Fee(dest)
	if err != nil {
		return nil, err
	}
	if cloneBigInt(e.state.FeeBalance()).Cmp(fee) < 0 {
		return nil, channel.ErrInsufficientFees
	}
	return fee, nil
}

func (e *Engine) debitFee(charged *big.Int) error {
	balance := cloneBigInt(e.state.FeeBalance())
	return e.state.SetFeeBalance(balance.Sub(balance, charged))
}

// LockNFT places an NFT held by the vault into custody for raffleID and
// notifies the ticket contract at dest.
func (e *Engine) LockNFT(dest channel.Remote, raffleID uint64, collection [20]byte, tokenID *big.Int) error {
	if err := e.ensureCollaborators(); err != nil {
		return err
	}
	if _, exists := e.state.PrizeGet(raffleID); exists {
		return ErrInvalidRaffleID
	}
	if tokenID == nil {
		return ErrInvalidPrize
	}
	if !e.vault.OwnsNFT(collection, tokenID) {
		return ErrInvalidPrize
	}
	if _, locked := e.state.NFTLockRaffle(collection, tokenID); locked {
		return ErrNFTLocked
	}
	if _, err := e.quoteFee(dest); err != nil {
		return err
	}

	record := &Record{
		RaffleID:   raffleID,
		Kind:       KindNFT,
		Collection: collection,
		TokenID:    new(big.Int).Set(tokenID),
		Amount:     big.NewInt(0),
		LockedAt:   e.now(),
	}
	if err := e.state.PrizePut(record); err != nil {
		return err
	}
	if err := e.state.SetNFTLock(collection, tokenID, raffleID); err != nil {
		_ = e.state.PrizeDelete(raffleID)
		return err
	}

	msgID, charged, err := e.router.Send(dest, channel.EncodePrizeLocked(raffleID))
	if err != nil {
		_ = e.state.ClearNFTLock(collection, tokenID)
		_ = e.state.PrizeDelete(raffleID)
		return err
	}
	if err := e.debitFee(charged); err != nil {
		return err
	}
	e.emit(NewLockedEvent(record, msgID, charged.String()))
	return nil
}

// LockETH places native value held by the vault into custody for raffleID and
// notifies the ticket contract at dest.
func (e *Engine) LockETH(dest channel.Remote, raffleID uint64, amount *big.Int) error {
	if err := e.ensureCollaborators(); err != nil {
		return err
	}
	if _, exists := e.state.PrizeGet(raffleID); exists {
		return ErrInvalidRaffleID
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidPrize
	}
	locked := cloneBigInt(e.state.LockedETH())
	free := new(big.Int).Sub(e.vault.BalanceETH(), locked)
	if free.Cmp(amt) < 0 {
		return ErrInvalidPrize
	}
	if _, err := e.quoteFee(dest); err != nil {
		return err
	}

	record := &Record{RaffleID: raffleID, Kind: KindETH, Amount: amt, LockedAt: e.now()}
	if err := e.state.PrizePut(record); err != nil {
		return err
	}
	if err := e.state.SetLockedETH(new(big.Int).Add(locked, amt)); err != nil {
		_ = e.state.PrizeDelete(raffleID)
		return err
	}

	msgID, charged, err := e.router.Send(dest, channel.EncodePrizeLocked(raffleID))
	if err != nil {
		_ = e.state.SetLockedETH(locked)
		_ = e.state.PrizeDelete(raffleID)
		return err
	}
	if err := e.debitFee(charged); err != nil {
		return err
	}
	e.emit(NewLockedEvent(record, msgID, charged.String()))
	return nil
}

// LockTokens places fungible tokens held by the vault into custody for
// raffleID and notifies the ticket contract at dest.
func (e *Engine) LockTokens(dest channel.Remote, raffleID uint64, token [20]byte, amount *big.Int) error {
	if err := e.ensureCollaborators(); err != nil {
		return err
	}
	if _, exists := e.state.PrizeGet(raffleID); exists {
		return ErrInvalidRaffleID
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidPrize
	}
	locked := cloneBigInt(e.state.LockedToken(token))
	free := new(big.Int).Sub(e.vault.BalanceToken(token), locked)
	if free.Cmp(amt) < 0 {
		return ErrInvalidPrize
	}
	if _, err := e.quoteFee(dest); err != nil {
		return err
	}

	record := &Record{RaffleID: raffleID, Kind: KindToken, Token: token, Amount: amt, LockedAt: e.now()}
	if err := e.state.PrizePut(record); err != nil {
		return err
	}
	if err := e.state.SetLockedToken(token, new(big.Int).Add(locked, amt)); err != nil {
		_ = e.state.PrizeDelete(raffleID)
		return err
	}

	msgID, charged, err := e.router.Send(dest, channel.EncodePrizeLocked(raffleID))
	if err != nil {
		_ = e.state.SetLockedToken(token, locked)
		_ = e.state.PrizeDelete(raffleID)
		return err
	}
	if err := e.debitFee(charged); err != nil {
		return err
	}
	e.emit(NewLockedEvent(record, msgID, charged.String()))
	return nil
}

// ClaimPrize pays the held asset out to the recorded winner. Custody state is
// cleared before the vault transfer executes, so a recipient re-entering the
// engine during its own payout observes the claimed record and is rejected.
func (e *Engine) ClaimPrize(caller [20]byte, raffleID uint64) error {
	if err := e.ensureCustody(); err != nil {
		return err
	}
	record, ok := e.state.PrizeGet(raffleID)
	if !ok {
		return ErrInvalidRaffle
	}
	if record.Claimed {
		return ErrAlreadyClaimed
	}
	winner, ok := e.state.WinnerGet(raffleID)
	if !ok {
		return ErrNoWinner
	}
	if caller != winner {
		return ErrUnauthorizedToClaim
	}

	prior := record.Clone()
	claimed := record.Clone()
	claimed.Claimed = true
	if err := e.state.PrizePut(claimed); err != nil {
		return err
	}

	var restoreTotals func()
	switch claimed.Kind {
	case KindNFT:
		if err := e.state.ClearNFTLock(claimed.Collection, claimed.TokenID); err != nil {
			_ = e.state.PrizePut(prior)
			return err
		}
		restoreTotals = func() {
			_ = e.state.SetNFTLock(claimed.Collection, claimed.TokenID, raffleID)
		}
	case KindETH:
		locked := cloneBigInt(e.state.LockedETH())
		if err := e.state.SetLockedETH(new(big.Int).Sub(locked, claimed.Amount)); err != nil {
			_ = e.state.PrizePut(prior)
			return err
		}
		restoreTotals = func() {
			_ = e.state.SetLockedETH(locked)
		}
	case KindToken:
		locked := cloneBigInt(e.state.LockedToken(claimed.Token))
		if err := e.state.SetLockedToken(claimed.Token, new(big.Int).Sub(locked, claimed.Amount)); err != nil {
			_ = e.state.PrizePut(prior)
			return err
		}
		restoreTotals = func() {
			_ = e.state.SetLockedToken(claimed.Token, locked)
		}
	default:
		return ErrInvalidRaffle
	}

	var transferErr error
	switch claimed.Kind {
	case KindNFT:
		transferErr = e.vault.TransferNFT(claimed.Collection, claimed.TokenID, winner)
	case KindETH:
		transferErr = e.vault.TransferETH(winner, claimed.Amount)
	case KindToken:
		transferErr = e.vault.TransferToken(claimed.Token, winner, claimed.Amount)
	}
	if transferErr != nil {
		restoreTotals()
		_ = e.state.PrizePut(prior)
		return transferErr
	}

	e.emit(NewClaimedEvent(claimed, winner))
	return nil
}

// WithdrawETH releases unlocked native value from the vault. The locked-total
// accumulator bounds what can leave custody while prizes are active.
func (e *Engine) WithdrawETH(to [20]byte, amount *big.Int) error {
	if err := e.ensureCustody(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("prize: withdraw amount must be positive")
	}
	free := new(big.Int).Sub(e.vault.BalanceETH(), cloneBigInt(e.state.LockedETH()))
	if free.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.vault.TransferETH(to, amt); err != nil {
		return err
	}
	e.emit(NewETHWithdrawnEvent(to, amt.String()))
	return nil
}

// WithdrawTokens releases unlocked fungible tokens from the vault.
func (e *Engine) WithdrawTokens(token [20]byte, to [20]byte, amount *big.Int) error {
	if err := e.ensureCustody(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("prize: withdraw amount must be positive")
	}
	free := new(big.Int).Sub(e.vault.BalanceToken(token), cloneBigInt(e.state.LockedToken(token)))
	if free.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.vault.TransferToken(token, to, amt); err != nil {
		return err
	}
	e.emit(NewTokenWithdrawnEvent(token, to, amt.String()))
	return nil
}

// WithdrawNFT releases a token from the vault unless it is locked to an
// active raffle.
func (e *Engine) WithdrawNFT(collection [20]byte, tokenID *big.Int, to [20]byte) error {
	if err := e.ensureCustody(); err != nil {
		return err
	}
	if tokenID == nil {
		return ErrInvalidPrize
	}
	if _, locked := e.state.NFTLockRaffle(collection, tokenID); locked {
		return ErrNFTLocked
	}
	if !e.vault.OwnsNFT(collection, tokenID) {
		return ErrInvalidPrize
	}
	if err := e.vault.TransferNFT(collection, tokenID, to); err != nil {
		return err
	}
	e.emit(NewNFTWithdrawnEvent(collection, tokenID.String(), to))
	return nil
}

// FundFees credits the channel fee balance outbound notifications draw from.
func (e *Engine) FundFees(amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("prize: fee funding amount must be positive")
	}
	balance := new(big.Int).Add(cloneBigInt(e.state.FeeBalance()), amt)
	if err := e.state.SetFeeBalance(balance); err != nil {
		return err
	}
	e.emit(NewFeesFundedEvent(amt.String(), balance.String()))
	return nil
}

// HandleMessage implements channel.Handler. Cancel releases the prize record
// and its locked-total contribution; winner-drawn records the claimant, last
// message wins. A repeated cancel for an already-released raffle is a no-op
// because the channel redelivers.
func (e *Engine) HandleMessage(caller [20]byte, msg channel.Message) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.routerCaller || e.routerCaller == ([20]byte{}) {
		return channel.ErrInvalidRouter
	}
	if err := e.counterparts.Authorize(msg.Sender, msg.SourceChain); err != nil {
		return err
	}
	cmd, err := channel.DecodePrizeCommand(msg.Data)
	if err != nil {
		return err
	}
	switch cmd.Opcode {
	case channel.OpcodeCancel:
		return e.releasePrize(cmd.RaffleID)
	case channel.OpcodeWinnerDrawn:
		if err := e.state.WinnerPut(cmd.RaffleID, cmd.Winner); err != nil {
			return err
		}
		e.emit(NewWinnerPropagatedEvent(cmd.RaffleID, cmd.Winner))
		return nil
	default:
		return channel.ErrUnknownOpcode
	}
}

func (e *Engine) releasePrize(raffleID uint64) error {
	record, ok := e.state.PrizeGet(raffleID)
	if !ok || record.Claimed {
		return nil
	}
	switch record.Kind {
	case KindNFT:
		if err := e.state.ClearNFTLock(record.Collection, record.TokenID); err != nil {
			return err
		}
	case KindETH:
		locked := cloneBigInt(e.state.LockedETH())
		if err := e.state.SetLockedETH(new(big.Int).Sub(locked, record.Amount)); err != nil {
			return err
		}
	case KindToken:
		locked := cloneBigInt(e.state.LockedToken(record.Token))
		if err := e.state.SetLockedToken(record.Token, new(big.Int).Sub(locked, record.Amount)); err != nil {
			return err
		}
	}
	if err := e.state.PrizeDelete(raffleID); err != nil {
		return err
	}
	e.emit(NewUnlockedEvent(record))
	return nil
}

// Prize returns a copy of the custody record for raffleID.
func (e *Engine) Prize(raffleID uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.PrizeGet(raffleID)
	if !ok {
		return nil, ErrInvalidRaffle
	}
	return record.Clone(), nil
}

// NFTPrize returns the collection and token id locked for raffleID.
func (e *Engine) NFTPrize(raffleID uint64) ([20]byte, *big.Int, error) {
	record, err := e.Prize(raffleID)
	if err != nil {
		return [20]byte{}, nil, err
	}
	if record.Kind != KindNFT {
		return [20]byte{}, nil, ErrInvalidPrize
	}
	return record.Collection, record.TokenID, nil
}

// Raffle summarises the prize side's view of a raffle: held asset class,
// claim state, and the winner once propagated (zero before that).
func (e *Engine) Raffle(raffleID uint64) (RaffleView, error) {
	if e == nil || e.state == nil {
		return RaffleView{}, errNilState
	}
	record, ok := e.state.PrizeGet(raffleID)
	if !ok {
		return RaffleView{}, ErrInvalidRaffle
	}
	view := RaffleView{RaffleID: raffleID, Kind: record.Kind, Claimed: record.Claimed}
	if winner, ok := e.state.WinnerGet(raffleID); ok {
		view.Winner = winner
	}
	return view, nil
}

// Winner returns the propagated winner for raffleID, distinguishing "not yet
// drawn" (ErrNoWinner) from a present record.
func (e *Engine) Winner(raffleID uint64) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errNilState
	}
	winner, ok := e.state.WinnerGet(raffleID)
	if !ok {
		return [20]byte{}, ErrNoWinner
	}
	return winner, nil
}

// LockedETH reports the native value committed to active prizes.
func (e *Engine) LockedETH() *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(e.state.LockedETH())
}

// LockedToken reports the amount of token committed to active prizes.
func (e *Engine) LockedToken(token [20]byte) *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(e.state.LockedToken(token))
}

// FeeBalance reports the channel fee currency available for outbound sends.
func (e *Engine) FeeBalance() *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(e.state.FeeBalance())
}
