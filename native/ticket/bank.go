package ticket

import (
	"errors"
	"math/big"
	"sync"
)

// Bank holds the sale proceeds pot: purchase value flows in with Deposit and
// refunds flow back out with Payout. Balance reads the pot so refund batches
// can be bounded up front.
type Bank interface {
	Deposit(from [20]byte, amount *big.Int) error
	Payout(to [20]byte, amount *big.Int) error
	Balance() *big.Int
}

var errBankInsufficient = errors.New("ticket bank: insufficient pot balance")

// MemoryBank is the in-process pot used by the daemon and tests. It records
// per-account deposits and payouts so refund exactness can be asserted.
type MemoryBank struct {
	mu       sync.Mutex
	held     *big.Int
	received map[[20]byte]*big.Int
	paid     map[[20]byte]*big.Int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		held:     big.NewInt(0),
		received: make(map[[20]byte]*big.Int),
		paid:     make(map[[20]byte]*big.Int),
	}
}

// Deposit implements Bank.
func (b *MemoryBank) Deposit(from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held = new(big.Int).Add(b.held, amount)
	got, ok := b.received[from]
	if !ok {
		got = big.NewInt(0)
	}
	b.received[from] = new(big.Int).Add(got, amount)
	return nil
}

// Payout implements Bank.
func (b *MemoryBank) Payout(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held.Cmp(amount) < 0 {
		return errBankInsufficient
	}
	b.held = new(big.Int).Sub(b.held, amount)
	paid, ok := b.paid[to]
	if !ok {
		paid = big.NewInt(0)
	}
	b.paid[to] = new(big.Int).Add(paid, amount)
	return nil
}

// Balance implements Bank.
func (b *MemoryBank) Balance() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.held)
}

// PaidTo reports the total paid out to one account.
func (b *MemoryBank) PaidTo(to [20]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	paid, ok := b.paid[to]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(paid)
}

// ReceivedFrom reports the total deposited by one account.
func (b *MemoryBank) ReceivedFrom(from [20]byte) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	got, ok := b.received[from]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(got)
}
