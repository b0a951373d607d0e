package vrf

import (
	"encoding/binary"
	"math/big"
	"sync"

	"lukechampine.com/blake3"
)

// SimProvider is a deterministic in-process randomness service. Request ids
// and words are derived from a seed so runs are reproducible; fulfillment
// never happens inside RequestRandomWords, callers pump it explicitly with
// Fulfill or FulfillPending once the requesting transition has committed.
type SimProvider struct {
	mu        sync.Mutex
	seed      [32]byte
	nonce     uint64
	consumer  Consumer
	pending   [][32]byte
	fulfilled map[[32]byte]struct{}
}

// NewSimProvider constructs a provider deriving randomness from seed.
func NewSimProvider(seed [32]byte) *SimProvider {
	return &SimProvider{
		seed:      seed,
		fulfilled: make(map[[32]byte]struct{}),
	}
}

// SetConsumer registers the callback target for fulfillments.
func (p *SimProvider) SetConsumer(consumer Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumer = consumer
}

// RequestRandomWords implements Provider. The returned id is pending until
// fulfilled.
func (p *SimProvider) RequestRandomWords() ([32]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce++
	var buf [40]byte
	copy(buf[:32], p.seed[:])
	binary.BigEndian.PutUint64(buf[32:], p.nonce)
	id := blake3.Sum256(buf[:])
	p.pending = append(p.pending, id)
	return id, nil
}

// Pending returns the ids issued but not yet fulfilled, in request order.
func (p *SimProvider) Pending() [][32]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][32]byte(nil), p.pending...)
}

// Word returns the deterministic random word for a request id.
func (p *SimProvider) Word(id [32]byte) *big.Int {
	var buf [64]byte
	copy(buf[:32], id[:])
	copy(buf[32:], p.seed[:])
	sum := blake3.Sum256(buf[:])
	return new(big.Int).SetBytes(sum[:])
}

// Fulfill delivers the word for one request id to the consumer. A consumer
// error propagates and leaves the request pending so a later pump retries it.
func (p *SimProvider) Fulfill(id [32]byte) error {
	p.mu.Lock()
	consumer := p.consumer
	if _, done := p.fulfilled[id]; done {
		p.mu.Unlock()
		return ErrAlreadyFulfilled
	}
	idx := -1
	for i, pending := range p.pending {
		if pending == id {
			idx = i
			break
		}
	}
	p.mu.Unlock()
	if idx < 0 {
		return ErrUnknownRequest
	}
	if consumer == nil {
		return ErrNoConsumer
	}

	if err := consumer.FulfillRandomWords(id, p.Word(id)); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pending := range p.pending {
		if pending == id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	p.fulfilled[id] = struct{}{}
	return nil
}

// FulfillPending pumps every pending request in order, stopping at the first
// consumer error. Returns the number of fulfillments delivered.
func (p *SimProvider) FulfillPending() (int, error) {
	done := 0
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return done, nil
		}
		id := p.pending[0]
		p.mu.Unlock()
		if err := p.Fulfill(id); err != nil {
			return done, err
		}
		done++
	}
}
