package channel

import (
	"encoding/binary"
	"math/big"
	"sync"

	"rafflenet/core/events"
	"rafflenet/crypto"
)

// MemoryRouter is an in-process message fabric connecting the two controller
// sides of a deployment. It provides the channel contract the protocol
// assumes: authenticated envelopes, per-destination fees, at-least-once and
// unordered delivery. Production deployments replace it with an adapter for
// a real cross-chain transport; tests and the single-process daemon drive it
// directly.
type MemoryRouter struct {
	mu       sync.Mutex
	identity [20]byte
	nonce    uint64
	fees     map[Remote]*big.Int
	queues   map[Remote][]Message
	emitter  events.Emitter
}

// NewMemoryRouter constructs a fabric whose deliveries present the supplied
// account as the immediate caller.
func NewMemoryRouter(identity [20]byte) *MemoryRouter {
	return &MemoryRouter{
		identity: identity,
		fees:     make(map[Remote]*big.Int),
		queues:   make(map[Remote][]Message),
		emitter:  events.NoopEmitter{},
	}
}

// Identity returns the account the fabric uses when invoking handlers.
// Controllers configure it as their trusted router caller.
func (r *MemoryRouter) Identity() [20]byte {
	return r.identity
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *MemoryRouter) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetFee registers a lane to dest with the given send fee. Sends to remotes
// without a lane fail with ErrUnknownDestination.
func (r *MemoryRouter) SetFee(dest Remote, fee *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fee == nil {
		fee = big.NewInt(0)
	}
	r.fees[dest] = new(big.Int).Set(fee)
}

// Endpoint binds a local identity to the fabric. The returned value
// implements Router for that side.
func (r *MemoryRouter) Endpoint(local Remote) *Endpoint {
	return &Endpoint{fabric: r, local: local}
}

func (r *MemoryRouter) fee(dest Remote) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fee, ok := r.fees[dest]
	if !ok {
		return nil, ErrUnknownDestination
	}
	return new(big.Int).Set(fee), nil
}

func (r *MemoryRouter) send(from, dest Remote, data []byte) ([32]byte, *big.Int, error) {
	r.mu.Lock()
	fee, ok := r.fees[dest]
	if !ok {
		r.mu.Unlock()
		return [32]byte{}, nil, ErrUnknownDestination
	}
	r.nonce++
	msg := Message{
		ID:          messageID(from, r.nonce, data),
		SourceChain: from.Chain,
		Sender:      from.Address,
		Data:        append([]byte(nil), data...),
	}
	r.queues[dest] = append(r.queues[dest], msg)
	charged := new(big.Int).Set(fee)
	emitter := r.emitter
	r.mu.Unlock()

	emitter.Emit(events.ChannelMessageSent{
		MessageID:   msg.ID,
		SourceChain: uint64(from.Chain),
		DestChain:   uint64(dest.Chain),
		Sender:      from.Address,
		Fee:         charged.String(),
	})
	return msg.ID, charged, nil
}

// Pending reports the number of undelivered messages queued for dest.
func (r *MemoryRouter) Pending(dest Remote) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[dest])
}

// Pop removes and returns the oldest queued message for dest.
func (r *MemoryRouter) Pop(dest Remote) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.queues[dest]
	if len(queue) == 0 {
		return Message{}, false
	}
	msg := queue[0]
	r.queues[dest] = queue[1:]
	return msg, true
}

// Requeue places a message back at the tail of dest's queue, modelling the
// transport's retry of an undelivered envelope.
func (r *MemoryRouter) Requeue(dest Remote, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[dest] = append(r.queues[dest], msg.Clone())
}

// Flush synchronously delivers every queued message for dest to the handler.
// Delivery stops at the first handler error; the failed message is requeued
// at the head so a later flush retries it. Returns the delivered count.
func (r *MemoryRouter) Flush(dest Remote, h Handler) (int, error) {
	delivered := 0
	for {
		msg, ok := r.Pop(dest)
		if !ok {
			return delivered, nil
		}
		if err := h.HandleMessage(r.identity, msg); err != nil {
			r.mu.Lock()
			r.queues[dest] = append([]Message{msg}, r.queues[dest]...)
			r.mu.Unlock()
			return delivered, err
		}
		delivered++
	}
}

func messageID(from Remote, nonce uint64, data []byte) [32]byte {
	var chainBuf, nonceBuf [8]byte
	binary.BigEndian.PutUint64(chainBuf[:], uint64(from.Chain))
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	return crypto.Keccak256(chainBuf[:], from.Address[:], nonceBuf[:], data)
}

// Endpoint is one side's view of the fabric.
type Endpoint struct {
	fabric *MemoryRouter
	local  Remote
}

// Local returns the identity the endpoint stamps on outbound envelopes.
func (e *Endpoint) Local() Remote {
	return e.local
}

// Fee implements Router.
func (e *Endpoint) Fee(dest Remote) (*big.Int, error) {
	return e.fabric.fee(dest)
}

// Send implements Router.
func (e *Endpoint) Send(dest Remote, data []byte) ([32]byte, *big.Int, error) {
	return e.fabric.send(e.local, dest, data)
}
