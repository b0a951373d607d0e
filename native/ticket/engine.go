package ticket

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"rafflenet/channel"
	"rafflenet/core/events"
	"rafflenet/core/types"
	"rafflenet/vrf"
)

var (
	errNilState    = errors.New("ticket engine: state not configured")
	errNilBook     = errors.New("ticket engine: ticket book not configured")
	errNilBank     = errors.New("ticket engine: bank not configured")
	errNilProvider = errors.New("ticket engine: randomness provider not configured")
	errNilRouter   = errors.New("ticket engine: router not configured")
)

type engineState interface {
	RaffleGet(raffleID uint64) (*Raffle, bool)
	RafflePut(*Raffle) error
	ParticipationGet(raffleID uint64, player [20]byte) (Participation, bool)
	ParticipationPut(raffleID uint64, player [20]byte, p Participation) error
	RequestGet(requestID [32]byte) (*RandomnessRequest, bool)
	RequestPut(*RandomnessRequest) error
	BuyerNonce(buyer [20]byte) uint64
	SetBuyerNonce(buyer [20]byte, nonce uint64) error
	FeeBalance() *big.Int
	SetFeeBalance(*big.Int) error
}

type ticketEvent struct {
	evt *types.Event
}

func (e ticketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ticketEvent) Event() *types.Event { return e.evt }

// Engine owns the ticket ledger: raffle lifecycle records, per-participant
// sale tallies, randomness requests, and the channel fee balance. Prize-locked
// notifications arrive through HandleMessage; draw results and cancellations
// are sent back to the prize side configured with SetPrizeRemote.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	book         Book
	bank         Bank
	provider     vrf.Provider
	router       channel.Router
	routerCaller [20]byte
	counterparts *channel.AllowList
	prizeRemote  channel.Remote
	signers      map[[20]byte]struct{}
	nowFn        func() int64
}

var _ vrf.Consumer = (*Engine)(nil)

// NewEngine creates a ticket engine with a no-op emitter, an empty
// counterpart allow-list, and no trusted coupon signers.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		counterparts: channel.NewAllowList(),
		signers:      make(map[[20]byte]struct{}),
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBook configures the ticket token the engine issues through.
func (e *Engine) SetBook(book Book) { e.book = book }

// SetBank configures the pot that holds sale proceeds.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetProvider configures the randomness source used for draws.
func (e *Engine) SetProvider(provider vrf.Provider) { e.provider = provider }

// SetRouter configures the outbound channel endpoint and the account whose
// deliveries HandleMessage accepts.
func (e *Engine) SetRouter(router channel.Router, caller [20]byte) {
	e.router = router
	e.routerCaller = caller
}

// SetPrizeRemote configures the prize-side contract cancel and winner-drawn
// notifications are sent to.
func (e *Engine) SetPrizeRemote(remote channel.Remote) { e.prizeRemote = remote }

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

// AllowCounterpart adds a remote prize contract to the inbound allow-list.
func (e *Engine) AllowCounterpart(remote channel.Remote) { e.counterparts.Allow(remote) }

// RevokeCounterpart removes a remote prize contract from the allow-list.
func (e *Engine) RevokeCounterpart(remote channel.Remote) { e.counterparts.Revoke(remote) }

// Counterparts returns the allow-list entries in deterministic order.
func (e *Engine) Counterparts() []channel.Remote { return e.counterparts.Peers() }

// AddSigner marks an address as a trusted coupon signer.
func (e *Engine) AddSigner(signer [20]byte) { e.signers[signer] = struct{}{} }

// RemoveSigner withdraws trust from a coupon signer.
func (e *Engine) RemoveSigner(signer [20]byte) { delete(e.signers, signer) }

// IsSigner reports whether coupons signed by signer are accepted.
func (e *Engine) IsSigner(signer [20]byte) bool {
	_, ok := e.signers[signer]
	return ok
}

// Signers returns the trusted coupon signers in deterministic order.
func (e *Engine) Signers() [][20]byte {
	out := make([][20]byte, 0, len(e.signers))
	for signer := range e.signers {
		out = append(out, signer)
	}
	sort.Slice(out, func(i, j int) bool {
		for k := range out[i] {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ticketEvent{evt: event})
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

func (e *Engine) ensureSale() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.book == nil {
		return errNilBook
	}
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

func (e *Engine) ensureNotifier() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.book == nil {
		return errNilBook
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

// HandleMessage implements channel.Handler. A prize-locked notification opens
// a raffle slot in StatusPrizeLocked; redeliveries of a raffle id that already
// exists are no-ops because the channel is at-least-once.
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
	raffleID, err := channel.DecodePrizeLocked(msg.Data)
	if err != nil {
		return err
	}
	if _, exists := e.state.RaffleGet(raffleID); exists {
		return nil
	}
	raffle := &Raffle{
		ID:          raffleID,
		Status:      StatusPrizeLocked,
		TotalRaised: big.NewInt(0),
		CreatedAt:   e.now(),
	}
	if err := e.state.RafflePut(raffle); err != nil {
		return err
	}
	e.emit(NewPrizeLockedEvent(raffleID))
	return nil
}

// CreateRaffle opens ticket sales for a raffle whose prize lock notification
// has arrived. A zero endsAt leaves the raffle open-ended; otherwise the close
// must sit at least MinRaffleDuration after both startsAt and the current
// time.
func (e *Engine) CreateRaffle(raffleID uint64, startsAt, endsAt int64, minTickets, maxTickets, maxHoldings uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok || raffle.Status != StatusPrizeLocked {
		return ErrPrizeNotLocked
	}
	if startsAt == 0 {
		return ErrRaffleNeedsStartTime
	}
	if endsAt != 0 {
		if endsAt < startsAt+MinRaffleDuration {
			return ErrRaffleClosingTooSoon
		}
		if endsAt < e.now()+MinRaffleDuration {
			return ErrRaffleClosingTooSoon
		}
	}
	updated := raffle.Clone()
	updated.Status = StatusIdle
	updated.StartsAt = startsAt
	updated.EndsAt = endsAt
	updated.MinTickets = minTickets
	updated.MaxTickets = maxTickets
	updated.MaxHoldings = maxHoldings
	if err := e.state.RafflePut(updated); err != nil {
		return err
	}
	e.emit(NewCreatedEvent(updated))
	return nil
}

// BuyTickets settles a signed coupon: count tickets to buyer against value in
// sale proceeds. The coupon binds the buyer's stored nonce, so a replayed
// signature fails signer recovery once the purchase it priced has settled.
func (e *Engine) BuyTickets(buyer [20]byte, raffleID uint64, count uint32, value uint64, expiry int64, sig []byte) error {
	if err := e.ensureSale(); err != nil {
		return err
	}
	if count == 0 {
		return ErrInvalidTicketCount
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok || raffle.Status != StatusIdle {
		return ErrInvalidRaffle
	}
	now := e.now()
	if now < raffle.StartsAt {
		return ErrRaffleHasNotStarted
	}
	if raffle.EndsAt > 0 && now > raffle.EndsAt {
		return ErrRaffleHasEnded
	}

	supply := uint64(e.book.Supply(raffleID))
	if supply+uint64(count) > math.MaxUint32 {
		return ErrTooManyTickets
	}
	if raffle.MaxTickets > 0 && supply+uint64(count) > uint64(raffle.MaxTickets) {
		return ErrTooManyTickets
	}
	holdings := uint64(e.book.Holdings(raffleID, buyer))
	if raffle.MaxHoldings > 0 && holdings+uint64(count) > uint64(raffle.MaxHoldings) {
		return ErrTooManyTickets
	}

	if now > expiry {
		return ErrExpiredCoupon
	}
	nonce := e.state.BuyerNonce(buyer)
	coupon := Coupon{Buyer: buyer, Nonce: nonce, RaffleID: raffleID, Count: count, Expiry: expiry, Value: value}
	signer, err := coupon.RecoverSigner(sig)
	if err != nil {
		return ErrUnauthorized
	}
	if _, trusted := e.signers[signer]; !trusted {
		return ErrUnauthorized
	}

	prior, _ := e.state.ParticipationGet(raffleID, buyer)
	if value > math.MaxUint64-prior.Spent {
		return fmt.Errorf("ticket: spent total overflows for buyer")
	}
	if uint64(prior.Purchased)+uint64(count) > math.MaxUint32 {
		return ErrTooManyTickets
	}
	updated := Participation{Spent: prior.Spent + value, Purchased: prior.Purchased + uint32(count)}
	priorRaffle := raffle.Clone()
	updatedRaffle := raffle.Clone()
	updatedRaffle.TotalRaised = new(big.Int).Add(cloneBigInt(raffle.TotalRaised), new(big.Int).SetUint64(value))

	deposit := new(big.Int).SetUint64(value)
	if err := e.bank.Deposit(buyer, deposit); err != nil {
		return err
	}
	if err := e.state.RafflePut(updatedRaffle); err != nil {
		_ = e.bank.Payout(buyer, deposit)
		return err
	}
	if err := e.state.ParticipationPut(raffleID, buyer, updated); err != nil {
		_ = e.state.RafflePut(priorRaffle)
		_ = e.bank.Payout(buyer, deposit)
		return err
	}
	if err := e.state.SetBuyerNonce(buyer, nonce+1); err != nil {
		_ = e.state.ParticipationPut(raffleID, buyer, prior)
		_ = e.state.RafflePut(priorRaffle)
		_ = e.bank.Payout(buyer, deposit)
		return err
	}
	if err := e.book.Issue(raffleID, buyer, count); err != nil {
		_ = e.state.SetBuyerNonce(buyer, nonce)
		_ = e.state.ParticipationPut(raffleID, buyer, prior)
		_ = e.state.RafflePut(priorRaffle)
		_ = e.bank.Payout(buyer, deposit)
		return err
	}

	e.emit(NewTicketsSoldEvent(raffleID, buyer, count, value, uint32(supply)+count))
	return nil
}

// DrawWinner closes a raffle that met its ticket threshold and asks the
// randomness provider for a word. The request is placed before the status
// commit so a provider failure leaves the raffle open.
func (e *Engine) DrawWinner(raffleID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.book == nil {
		return errNilBook
	}
	if e.provider == nil {
		return errNilProvider
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok || raffle.Status != StatusIdle {
		return ErrInvalidRaffle
	}
	supply := e.book.Supply(raffleID)
	if supply == 0 {
		return ErrNoParticipants
	}
	now := e.now()
	soldOut := raffle.MaxTickets > 0 && supply >= raffle.MaxTickets
	if raffle.EndsAt > 0 && now < raffle.EndsAt && !soldOut {
		return ErrRaffleIsStillOpen
	}
	if supply < raffle.MinTickets {
		return ErrTargetTicketsNotReached
	}

	requestID, err := e.provider.RequestRandomWords()
	if err != nil {
		return err
	}
	prior := raffle.Clone()
	updated := raffle.Clone()
	updated.Status = StatusRequested
	updated.RequestID = requestID
	if err := e.state.RafflePut(updated); err != nil {
		return err
	}
	if err := e.state.RequestPut(&RandomnessRequest{RequestID: requestID, RaffleID: raffleID}); err != nil {
		_ = e.state.RafflePut(prior)
		return err
	}
	e.emit(NewDrawRequestedEvent(raffleID, requestID))
	return nil
}

// FulfillRandomWords implements vrf.Consumer. The word is recorded against
// the pending request and its raffle exactly once; later deliveries for the
// same request are rejected.
func (e *Engine) FulfillRandomWords(requestID [32]byte, word *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	request, ok := e.state.RequestGet(requestID)
	if !ok || request.Fulfilled {
		return ErrRequestNotFound
	}
	raffle, ok := e.state.RaffleGet(request.RaffleID)
	if !ok || raffle.Status != StatusRequested {
		return ErrInvalidRaffle
	}

	priorRequest := request.Clone()
	fulfilled := request.Clone()
	fulfilled.Word = cloneBigInt(word)
	fulfilled.Fulfilled = true
	if err := e.state.RequestPut(fulfilled); err != nil {
		return err
	}
	updated := raffle.Clone()
	updated.Status = StatusFulfilled
	updated.RandomWord = cloneBigInt(word)
	if err := e.state.RafflePut(updated); err != nil {
		_ = e.state.RequestPut(priorRequest)
		return err
	}
	e.emit(NewFulfilledEvent(request.RaffleID, requestID, fulfilled.Word.String()))
	return nil
}

// winnerOf maps the raffle's random word onto the issued ticket range and
// resolves the holder of the selected index.
func (e *Engine) winnerOf(raffle *Raffle) ([20]byte, error) {
	supply := e.book.Supply(raffle.ID)
	if supply == 0 {
		return [20]byte{}, ErrNoParticipants
	}
	if raffle.RandomWord == nil {
		return [20]byte{}, ErrRaffleNotFulfilled
	}
	index := new(big.Int).Mod(raffle.RandomWord, new(big.Int).SetUint64(uint64(supply)))
	return e.book.OwnerOfIndex(raffle.ID, uint32(index.Uint64()))
}

// PropagateWinner announces the drawn winner to the prize side. The status
// commit happens before the send and is rolled back if the send fails, so a
// redelivery-safe retry stays possible.
func (e *Engine) PropagateWinner(raffleID uint64) error {
	if err := e.ensureNotifier(); err != nil {
		return err
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok {
		return ErrInvalidRaffle
	}
	if raffle.Status != StatusFulfilled {
		return ErrInvalidRaffleStatus
	}
	winner, err := e.winnerOf(raffle)
	if err != nil {
		return err
	}
	if _, err := e.quoteFee(e.prizeRemote); err != nil {
		return err
	}

	prior := raffle.Clone()
	updated := raffle.Clone()
	updated.Status = StatusPropagated
	if err := e.state.RafflePut(updated); err != nil {
		return err
	}
	msgID, charged, err := e.router.Send(e.prizeRemote, channel.EncodeWinnerDrawn(raffleID, winner))
	if err != nil {
		_ = e.state.RafflePut(prior)
		return err
	}
	if err := e.debitFee(charged); err != nil {
		return err
	}
	e.emit(NewWinnerPropagatedEvent(raffleID, winner, msgID, charged.String()))
	return nil
}

// CancelRaffle abandons a raffle and tells the prize side to unlock. A raffle
// still waiting for creation cancels unconditionally; an open raffle cancels
// only after its close when the ticket target was not exceeded.
func (e *Engine) CancelRaffle(raffleID uint64) error {
	if err := e.ensureNotifier(); err != nil {
		return err
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok {
		return ErrInvalidRaffle
	}
	switch raffle.Status {
	case StatusPrizeLocked:
	case StatusIdle:
		if raffle.EndsAt > 0 && e.now() <= raffle.EndsAt {
			return ErrRaffleIsStillOpen
		}
		if e.book.Supply(raffleID) > raffle.MinTickets {
			return ErrTargetTicketsReached
		}
	default:
		return ErrInvalidRaffle
	}
	if _, err := e.quoteFee(e.prizeRemote); err != nil {
		return err
	}

	prior := raffle.Clone()
	updated := raffle.Clone()
	updated.Status = StatusCanceled
	if err := e.state.RafflePut(updated); err != nil {
		return err
	}
	msgID, charged, err := e.router.Send(e.prizeRemote, channel.EncodeCancel(raffleID))
	if err != nil {
		_ = e.state.RafflePut(prior)
		return err
	}
	if err := e.debitFee(charged); err != nil {
		return err
	}
	e.emit(NewCanceledEvent(raffleID, msgID, charged.String()))
	return nil
}

// RefundPlayers returns spent value to participants of a canceled raffle. The
// whole batch is validated before any participation flips to refunded, so a
// rejected entry leaves every balance untouched.
func (e *Engine) RefundPlayers(raffleID uint64, players [][20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok || raffle.Status != StatusCanceled {
		return ErrInvalidRaffle
	}
	if len(players) == 0 {
		return nil
	}

	seen := make(map[[20]byte]struct{}, len(players))
	owed := make([]Participation, len(players))
	total := big.NewInt(0)
	for i, player := range players {
		if _, dup := seen[player]; dup {
			return ErrPlayerAlreadyRefunded
		}
		seen[player] = struct{}{}
		part, ok := e.state.ParticipationGet(raffleID, player)
		if !ok || part.Spent == 0 {
			return ErrNothingToSend
		}
		if part.Refunded {
			return ErrPlayerAlreadyRefunded
		}
		owed[i] = part
		total.Add(total, new(big.Int).SetUint64(part.Spent))
	}
	if e.bank.Balance().Cmp(total) < 0 {
		return fmt.Errorf("ticket: pot balance below refund total")
	}

	for i, player := range players {
		marked := owed[i]
		marked.Refunded = true
		if err := e.state.ParticipationPut(raffleID, player, marked); err != nil {
			for j := 0; j < i; j++ {
				_ = e.state.ParticipationPut(raffleID, players[j], owed[j])
			}
			return err
		}
	}
	for i, player := range players {
		if err := e.bank.Payout(player, new(big.Int).SetUint64(owed[i].Spent)); err != nil {
			for j := i; j < len(players); j++ {
				_ = e.state.ParticipationPut(raffleID, players[j], owed[j])
			}
			return err
		}
		e.emit(NewPlayerRefundedEvent(raffleID, player, owed[i].Spent))
	}
	return nil
}

// GetWinner resolves the winner for a fulfilled or propagated raffle. The
// selection is a pure function of the stored word and issued tickets, so
// repeated calls return the same address.
func (e *Engine) GetWinner(raffleID uint64) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errNilState
	}
	if e.book == nil {
		return [20]byte{}, errNilBook
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok {
		return [20]byte{}, ErrInvalidRaffle
	}
	if raffle.Status != StatusFulfilled && raffle.Status != StatusPropagated {
		return [20]byte{}, ErrRaffleNotFulfilled
	}
	return e.winnerOf(raffle)
}

// FundFees credits the channel fee balance outbound notifications draw from.
func (e *Engine) FundFees(amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("ticket: fee funding amount must be positive")
	}
	balance := new(big.Int).Add(cloneBigInt(e.state.FeeBalance()), amt)
	if err := e.state.SetFeeBalance(balance); err != nil {
		return err
	}
	e.emit(NewFeesFundedEvent(amt.String(), balance.String()))
	return nil
}

// Raffle returns a copy of the stored record for raffleID.
func (e *Engine) Raffle(raffleID uint64) (*Raffle, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	raffle, ok := e.state.RaffleGet(raffleID)
	if !ok {
		return nil, ErrInvalidRaffle
	}
	return raffle.Clone(), nil
}

// Participation returns the sale record for one player. A player who never
// bought in reports the zero record.
func (e *Engine) Participation(raffleID uint64, player [20]byte) (Participation, error) {
	if e == nil || e.state == nil {
		return Participation{}, errNilState
	}
	if _, ok := e.state.RaffleGet(raffleID); !ok {
		return Participation{}, ErrInvalidRaffle
	}
	part, _ := e.state.ParticipationGet(raffleID, player)
	return part, nil
}

// TicketSupply reports the tickets issued for raffleID.
func (e *Engine) TicketSupply(raffleID uint64) uint32 {
	if e == nil || e.book == nil {
		return 0
	}
	return e.book.Supply(raffleID)
}

// Holdings reports the tickets held by one account for raffleID.
func (e *Engine) Holdings(raffleID uint64, holder [20]byte) uint32 {
	if e == nil || e.book == nil {
		return 0
	}
	return e.book.Holdings(raffleID, holder)
}

// BuyerNonce reports the next coupon nonce expected for buyer.
func (e *Engine) BuyerNonce(buyer [20]byte) uint64 {
	if e == nil || e.state == nil {
		return 0
	}
	return e.state.BuyerNonce(buyer)
}

// FeeBalance reports the channel fee currency available for outbound sends.
func (e *Engine) FeeBalance() *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(e.state.FeeBalance())
}
