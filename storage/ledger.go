package storage

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"rafflenet/native/prize"
	"rafflenet/native/ticket"
)

// Key layout. Both sides share one Database; everything a side owns lives
// under its prefix so a node hosting both controllers keeps the ledgers
// disjoint.
var (
	keyPrizeRecord      = []byte("prize/record/")
	keyPrizeWinner      = []byte("prize/winner/")
	keyPrizeLockedETH   = []byte("prize/locked/eth")
	keyPrizeLockedToken = []byte("prize/locked/token/")
	keyPrizeNFTLock     = []byte("prize/nftlock/")
	keyPrizeFees        = []byte("prize/fees")

	keyTicketRaffle  = []byte("ticket/raffle/")
	keyTicketPart    = []byte("ticket/part/")
	keyTicketRequest = []byte("ticket/request/")
	keyTicketNonce   = []byte("ticket/nonce/")
	keyTicketFees    = []byte("ticket/fees")
)

func raffleKey(prefix []byte, raffleID uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], raffleID)
	return append(key, id[:]...)
}

func addressKey(prefix []byte, addr [20]byte) []byte {
	key := make([]byte, 0, len(prefix)+20)
	key = append(key, prefix...)
	return append(key, addr[:]...)
}

func nftLockKey(collection [20]byte, tokenID *big.Int) []byte {
	id := "0"
	if tokenID != nil {
		id = tokenID.Text(10)
	}
	key := make([]byte, 0, len(keyPrizeNFTLock)+20+1+len(id))
	key = append(key, keyPrizeNFTLock...)
	key = append(key, collection[:]...)
	key = append(key, '/')
	return append(key, id...)
}

func getBigInt(db Database, key []byte) *big.Int {
	value, err := db.Get(key)
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(value)
}

func putBigInt(db Database, key []byte, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 {
		return errors.New("storage: negative ledger amount")
	}
	return db.Put(key, v.Bytes())
}

// --- Prize side ---

// storedPrizeRecord is the RLP mirror of prize.Record. RLP carries no signed
// integers, so the lock timestamp rides as uint64.
type storedPrizeRecord struct {
	RaffleID   uint64
	Kind       uint8
	Collection [20]byte
	TokenID    *big.Int
	Token      [20]byte
	Amount     *big.Int
	Claimed    bool
	LockedAt   uint64
}

func toStoredPrizeRecord(r *prize.Record) storedPrizeRecord {
	stored := storedPrizeRecord{
		RaffleID:   r.RaffleID,
		Kind:       uint8(r.Kind),
		Collection: r.Collection,
		TokenID:    r.TokenID,
		Token:      r.Token,
		Amount:     r.Amount,
		Claimed:    r.Claimed,
		LockedAt:   uint64(r.LockedAt),
	}
	if stored.TokenID == nil {
		stored.TokenID = big.NewInt(0)
	}
	if stored.Amount == nil {
		stored.Amount = big.NewInt(0)
	}
	return stored
}

func (s storedPrizeRecord) toRecord() *prize.Record {
	return &prize.Record{
		RaffleID:   s.RaffleID,
		Kind:       prize.Kind(s.Kind),
		Collection: s.Collection,
		TokenID:    new(big.Int).Set(s.TokenID),
		Token:      s.Token,
		Amount:     new(big.Int).Set(s.Amount),
		Claimed:    s.Claimed,
		LockedAt:   int64(s.LockedAt),
	}
}

// PrizeLedger persists the prize-side controller state. It satisfies the
// prize engine's state contract: gets report presence, puts report errors.
type PrizeLedger struct {
	db Database
}

func NewPrizeLedger(db Database) *PrizeLedger {
	return &PrizeLedger{db: db}
}

func (l *PrizeLedger) PrizeGet(raffleID uint64) (*prize.Record, bool) {
	value, err := l.db.Get(raffleKey(keyPrizeRecord, raffleID))
	if err != nil {
		return nil, false
	}
	var stored storedPrizeRecord
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return nil, false
	}
	return stored.toRecord(), true
}

func (l *PrizeLedger) PrizePut(record *prize.Record) error {
	if record == nil {
		return errors.New("storage: nil prize record")
	}
	value, err := rlp.EncodeToBytes(toStoredPrizeRecord(record))
	if err != nil {
		return err
	}
	return l.db.Put(raffleKey(keyPrizeRecord, record.RaffleID), value)
}

func (l *PrizeLedger) PrizeDelete(raffleID uint64) error {
	return l.db.Delete(raffleKey(keyPrizeRecord, raffleID))
}

func (l *PrizeLedger) WinnerGet(raffleID uint64) ([20]byte, bool) {
	var winner [20]byte
	value, err := l.db.Get(raffleKey(keyPrizeWinner, raffleID))
	if err != nil || len(value) != 20 {
		return winner, false
	}
	copy(winner[:], value)
	return winner, true
}

func (l *PrizeLedger) WinnerPut(raffleID uint64, winner [20]byte) error {
	return l.db.Put(raffleKey(keyPrizeWinner, raffleID), winner[:])
}

func (l *PrizeLedger) LockedETH() *big.Int {
	return getBigInt(l.db, keyPrizeLockedETH)
}

func (l *PrizeLedger) SetLockedETH(v *big.Int) error {
	return putBigInt(l.db, keyPrizeLockedETH, v)
}

func (l *PrizeLedger) LockedToken(token [20]byte) *big.Int {
	return getBigInt(l.db, addressKey(keyPrizeLockedToken, token))
}

func (l *PrizeLedger) SetLockedToken(token [20]byte, amount *big.Int) error {
	return putBigInt(l.db, addressKey(keyPrizeLockedToken, token), amount)
}

func (l *PrizeLedger) NFTLockRaffle(collection [20]byte, tokenID *big.Int) (uint64, bool) {
	value, err := l.db.Get(nftLockKey(collection, tokenID))
	if err != nil || len(value) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(value), true
}

func (l *PrizeLedger) SetNFTLock(collection [20]byte, tokenID *big.Int, raffleID uint64) error {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], raffleID)
	return l.db.Put(nftLockKey(collection, tokenID), value[:])
}

func (l *PrizeLedger) ClearNFTLock(collection [20]byte, tokenID *big.Int) error {
	return l.db.Delete(nftLockKey(collection, tokenID))
}

func (l *PrizeLedger) FeeBalance() *big.Int {
	return getBigInt(l.db, keyPrizeFees)
}

func (l *PrizeLedger) SetFeeBalance(v *big.Int) error {
	return putBigInt(l.db, keyPrizeFees, v)
}

// PrizeRecords returns every custody record in raffle-id order.
func (l *PrizeLedger) PrizeRecords() ([]*prize.Record, error) {
	var out []*prize.Record
	err := l.db.Iterate(keyPrizeRecord, func(_, value []byte) error {
		var stored storedPrizeRecord
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return err
		}
		out = append(out, stored.toRecord())
		return nil
	})
	return out, err
}

// --- Ticket side ---

// storedRaffle is the RLP mirror of ticket.Raffle. HasWord distinguishes "no
// word yet" from a zero word, which RLP's nil-as-zero folding would otherwise
// erase.
type storedRaffle struct {
	ID          uint64
	Status      uint8
	StartsAt    uint64
	EndsAt      uint64
	MinTickets  uint32
	MaxTickets  uint32
	MaxHoldings uint32
	TotalRaised *big.Int
	RequestID   [32]byte
	RandomWord  *big.Int
	HasWord     bool
	CreatedAt   uint64
}

func toStoredRaffle(r *ticket.Raffle) storedRaffle {
	stored := storedRaffle{
		ID:          r.ID,
		Status:      uint8(r.Status),
		StartsAt:    uint64(r.StartsAt),
		EndsAt:      uint64(r.EndsAt),
		MinTickets:  r.MinTickets,
		MaxTickets:  r.MaxTickets,
		MaxHoldings: r.MaxHoldings,
		TotalRaised: r.TotalRaised,
		RequestID:   r.RequestID,
		RandomWord:  r.RandomWord,
		HasWord:     r.RandomWord != nil,
		CreatedAt:   uint64(r.CreatedAt),
	}
	if stored.TotalRaised == nil {
		stored.TotalRaised = big.NewInt(0)
	}
	if stored.RandomWord == nil {
		stored.RandomWord = big.NewInt(0)
	}
	return stored
}

func (s storedRaffle) toRaffle() *ticket.Raffle {
	raffle := &ticket.Raffle{
		ID:          s.ID,
		Status:      ticket.RaffleStatus(s.Status),
		StartsAt:    int64(s.StartsAt),
		EndsAt:      int64(s.EndsAt),
		MinTickets:  s.MinTickets,
		MaxTickets:  s.MaxTickets,
		MaxHoldings: s.MaxHoldings,
		TotalRaised: new(big.Int).Set(s.TotalRaised),
		RequestID:   s.RequestID,
		CreatedAt:   int64(s.CreatedAt),
	}
	if s.HasWord {
		raffle.RandomWord = new(big.Int).Set(s.RandomWord)
	}
	return raffle
}

type storedParticipation struct {
	Spent     uint64
	Purchased uint32
	Refunded  bool
}

type storedRequest struct {
	RequestID [32]byte
	RaffleID  uint64
	Word      *big.Int
	HasWord   bool
	Fulfilled bool
}

// TicketLedger persists the ticket-side controller state.
type TicketLedger struct {
	db Database
}

func NewTicketLedger(db Database) *TicketLedger {
	return &TicketLedger{db: db}
}

func (l *TicketLedger) RaffleGet(raffleID uint64) (*ticket.Raffle, bool) {
	value, err := l.db.Get(raffleKey(keyTicketRaffle, raffleID))
	if err != nil {
		return nil, false
	}
	var stored storedRaffle
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return nil, false
	}
	return stored.toRaffle(), true
}

func (l *TicketLedger) RafflePut(raffle *ticket.Raffle) error {
	if raffle == nil {
		return errors.New("storage: nil raffle record")
	}
	value, err := rlp.EncodeToBytes(toStoredRaffle(raffle))
	if err != nil {
		return err
	}
	return l.db.Put(raffleKey(keyTicketRaffle, raffle.ID), value)
}

func participationKey(raffleID uint64, player [20]byte) []byte {
	key := raffleKey(keyTicketPart, raffleID)
	key = append(key, '/')
	return append(key, player[:]...)
}

func (l *TicketLedger) ParticipationGet(raffleID uint64, player [20]byte) (ticket.Participation, bool) {
	value, err := l.db.Get(participationKey(raffleID, player))
	if err != nil {
		return ticket.Participation{}, false
	}
	var stored storedParticipation
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return ticket.Participation{}, false
	}
	return ticket.Participation{Spent: stored.Spent, Purchased: stored.Purchased, Refunded: stored.Refunded}, true
}

func (l *TicketLedger) ParticipationPut(raffleID uint64, player [20]byte, p ticket.Participation) error {
	value, err := rlp.EncodeToBytes(storedParticipation{Spent: p.Spent, Purchased: p.Purchased, Refunded: p.Refunded})
	if err != nil {
		return err
	}
	return l.db.Put(participationKey(raffleID, player), value)
}

func (l *TicketLedger) RequestGet(requestID [32]byte) (*ticket.RandomnessRequest, bool) {
	key := make([]byte, 0, len(keyTicketRequest)+32)
	key = append(key, keyTicketRequest...)
	key = append(key, requestID[:]...)
	value, err := l.db.Get(key)
	if err != nil {
		return nil, false
	}
	var stored storedRequest
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return nil, false
	}
	request := &ticket.RandomnessRequest{
		RequestID: stored.RequestID,
		RaffleID:  stored.RaffleID,
		Fulfilled: stored.Fulfilled,
	}
	if stored.HasWord {
		request.Word = new(big.Int).Set(stored.Word)
	}
	return request, true
}

func (l *TicketLedger) RequestPut(request *ticket.RandomnessRequest) error {
	if request == nil {
		return errors.New("storage: nil randomness request")
	}
	stored := storedRequest{
		RequestID: request.RequestID,
		RaffleID:  request.RaffleID,
		Word:      request.Word,
		HasWord:   request.Word != nil,
		Fulfilled: request.Fulfilled,
	}
	if stored.Word == nil {
		stored.Word = big.NewInt(0)
	}
	value, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	key := make([]byte, 0, len(keyTicketRequest)+32)
	key = append(key, keyTicketRequest...)
	key = append(key, request.RequestID[:]...)
	return l.db.Put(key, value)
}

func (l *TicketLedger) BuyerNonce(buyer [20]byte) uint64 {
	value, err := l.db.Get(addressKey(keyTicketNonce, buyer))
	if err != nil || len(value) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(value)
}

func (l *TicketLedger) SetBuyerNonce(buyer [20]byte, nonce uint64) error {
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], nonce)
	return l.db.Put(addressKey(keyTicketNonce, buyer), value[:])
}

func (l *TicketLedger) FeeBalance() *big.Int {
	return getBigInt(l.db, keyTicketFees)
}

func (l *TicketLedger) SetFeeBalance(v *big.Int) error {
	return putBigInt(l.db, keyTicketFees, v)
}

// Raffles returns every raffle record in raffle-id order.
func (l *TicketLedger) Raffles() ([]*ticket.Raffle, error) {
	var out []*ticket.Raffle
	err := l.db.Iterate(keyTicketRaffle, func(_, value []byte) error {
		var stored storedRaffle
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return err
		}
		out = append(out, stored.toRaffle())
		return nil
	})
	return out, err
}

// Participants returns the players with a sale record for raffleID, in
// address order. Refund batches and reconciliation exports walk this list.
func (l *TicketLedger) Participants(raffleID uint64) ([][20]byte, error) {
	prefix := raffleKey(keyTicketPart, raffleID)
	prefix = append(prefix, '/')
	var out [][20]byte
	err := l.db.Iterate(prefix, func(key, _ []byte) error {
		if len(key) != len(prefix)+20 {
			return nil
		}
		var player [20]byte
		copy(player[:], key[len(prefix):])
		out = append(out, player)
		return nil
	})
	return out, err
}
