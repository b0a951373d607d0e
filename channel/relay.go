package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"rafflenet/core/events"
)

var bucketDelivered = []byte("delivered")

// Journal records message ids that have already been handed to a handler so
// redeliveries from the at-least-once fabric can be recognised and skipped.
type Journal struct {
	db *bolt.DB
}

// deliveryRecord mirrors the journal bucket payload.
type deliveryRecord struct {
	DestChain   uint64    `json:"destChain"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// OpenJournal initialises (and migrates) the BoltDB-backed delivery journal.
func OpenJournal(path string, options *bolt.Options) (*Journal, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDelivered)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Delivered reports whether the message id has already been journalled.
func (j *Journal) Delivered(id [32]byte) (bool, error) {
	var seen bool
	err := j.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(bucketDelivered).Get(id[:]) != nil
		return nil
	})
	return seen, err
}

// MarkDelivered journals the message id after a successful handler call.
func (j *Journal) MarkDelivered(id [32]byte, dest Remote, now time.Time) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(deliveryRecord{
			DestChain:   uint64(dest.Chain),
			DeliveredAt: now.UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDelivered).Put(id[:], payload)
	})
}

// Relay drains a MemoryRouter's queues into registered handlers. Handler
// failures leave the message on the queue for the next pass, so transient
// errors resolve through redelivery; the journal keeps replays from reaching
// a handler twice.
type Relay struct {
	fabric  *MemoryRouter
	journal *Journal

	mu          sync.Mutex
	handlers    map[Remote]Handler
	attempts    map[[32]byte]int
	maxAttempts uint32
	emitter     events.Emitter
}

// NewRelay wires a relay over the fabric. The journal may be nil, in which
// case dedupe is disabled and every queued envelope reaches its handler.
func NewRelay(fabric *MemoryRouter, journal *Journal) *Relay {
	return &Relay{
		fabric:   fabric,
		journal:  journal,
		handlers: make(map[Remote]Handler),
		attempts: make(map[[32]byte]int),
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Relay) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetMaxAttempts bounds how often a failing message is retried before it is
// dropped from the queue. Zero retries forever.
func (r *Relay) SetMaxAttempts(max uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxAttempts = max
}

// Register binds the handler receiving messages addressed to dest.
func (r *Relay) Register(dest Remote, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[dest] = h
}

// Deliver runs one delivery pass for dest: every currently queued message is
// popped, deduped against the journal, and handed to the registered handler.
// Messages whose handler call fails are requeued and retried on a later pass.
// Returns the number of messages accepted by the handler.
func (r *Relay) Deliver(dest Remote, now time.Time) (int, error) {
	r.mu.Lock()
	h, ok := r.handlers[dest]
	emitter := r.emitter
	maxAttempts := r.maxAttempts
	r.mu.Unlock()
	if !ok {
		return 0, nil
	}

	delivered := 0
	pending := r.fabric.Pending(dest)
	for i := 0; i < pending; i++ {
		msg, ok := r.fabric.Pop(dest)
		if !ok {
			break
		}
		if r.journal != nil {
			seen, err := r.journal.Delivered(msg.ID)
			if err != nil {
				r.fabric.Requeue(dest, msg)
				return delivered, err
			}
			if seen {
				continue
			}
		}
		if err := h.HandleMessage(r.fabric.Identity(), msg); err != nil {
			attempts := r.bumpAttempts(msg.ID)
			emitter.Emit(events.ChannelMessageRejected{
				MessageID: msg.ID,
				DestChain: uint64(dest.Chain),
				Reason:    err.Error(),
			})
			if maxAttempts > 0 && uint32(attempts) >= maxAttempts {
				r.takeAttempts(msg.ID)
				continue
			}
			r.fabric.Requeue(dest, msg)
			continue
		}
		if r.journal != nil {
			if err := r.journal.MarkDelivered(msg.ID, dest, now); err != nil {
				return delivered, err
			}
		}
		delivered++
		emitter.Emit(events.ChannelMessageDelivered{
			MessageID: msg.ID,
			DestChain: uint64(dest.Chain),
			Attempts:  uint32(r.takeAttempts(msg.ID) + 1),
		})
	}
	return delivered, nil
}

// Run drives delivery passes for every registered destination until the
// context is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, dest := range r.destinations() {
				if _, err := r.Deliver(dest, now); err != nil {
					return err
				}
			}
		}
	}
}

func (r *Relay) destinations() []Remote {
	r.mu.Lock()
	defer r.mu.Unlock()
	dests := make([]Remote, 0, len(r.handlers))
	for dest := range r.handlers {
		dests = append(dests, dest)
	}
	return dests
}

func (r *Relay) bumpAttempts(id [32]byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[id]++
	return r.attempts[id]
}

func (r *Relay) takeAttempts(id [32]byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.attempts[id]
	delete(r.attempts, id)
	return n
}
