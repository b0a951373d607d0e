package ticket

import (
	"fmt"
	"sync"
)

// Book is the ticket-token collaborator: it issues tickets and answers the
// ownership-by-index lookups winner selection depends on. Tickets are
// numbered from zero in issue order; index i is owned by whoever bought the
// (i+1)-th ticket.
type Book interface {
	Issue(raffleID uint64, to [20]byte, count uint32) error
	Supply(raffleID uint64) uint32
	Holdings(raffleID uint64, holder [20]byte) uint32
	OwnerOfIndex(raffleID uint64, index uint32) ([20]byte, error)
}

// segment is a run of consecutively issued tickets held by one account.
type segment struct {
	holder [20]byte
	count  uint32
}

// MemoryBook is the in-process ticket token. Issues are stored as run-length
// segments so ownership-by-index is a linear walk over buyers, not tickets.
type MemoryBook struct {
	mu       sync.Mutex
	segments map[uint64][]segment
	holdings map[uint64]map[[20]byte]uint32
	supply   map[uint64]uint32
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{
		segments: make(map[uint64][]segment),
		holdings: make(map[uint64]map[[20]byte]uint32),
		supply:   make(map[uint64]uint32),
	}
}

// Issue implements Book.
func (b *MemoryBook) Issue(raffleID uint64, to [20]byte, count uint32) error {
	if count == 0 {
		return ErrInvalidTicketCount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.supply[raffleID] > ^uint32(0)-count {
		return fmt.Errorf("ticket book: issued supply overflow")
	}
	segments := b.segments[raffleID]
	if n := len(segments); n > 0 && segments[n-1].holder == to {
		segments[n-1].count += count
	} else {
		segments = append(segments, segment{holder: to, count: count})
	}
	b.segments[raffleID] = segments
	holders, ok := b.holdings[raffleID]
	if !ok {
		holders = make(map[[20]byte]uint32)
		b.holdings[raffleID] = holders
	}
	holders[to] += count
	b.supply[raffleID] += count
	return nil
}

// Supply implements Book.
func (b *MemoryBook) Supply(raffleID uint64) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supply[raffleID]
}

// Holdings implements Book.
func (b *MemoryBook) Holdings(raffleID uint64, holder [20]byte) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	holders, ok := b.holdings[raffleID]
	if !ok {
		return 0
	}
	return holders[holder]
}

// OwnerOfIndex implements Book.
func (b *MemoryBook) OwnerOfIndex(raffleID uint64, index uint32) ([20]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := index
	for _, seg := range b.segments[raffleID] {
		if remaining < seg.count {
			return seg.holder, nil
		}
		remaining -= seg.count
	}
	return [20]byte{}, ErrTicketIndexOutOfRange
}
