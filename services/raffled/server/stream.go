package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"rafflenet/core/types"
)

const defaultHistoryLimit = 2048

// EventUpdate is the wire form of one engine event on the /ws/events stream.
// Cursor is the resume token clients replay from after a reconnect.
type EventUpdate struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if len(update.Attributes) > 0 {
		attrs := make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// EventHub fans engine events out to websocket subscribers. It keeps a
// bounded history so a reconnecting client can replay events it missed while
// offline; slow subscribers drop events rather than block the publisher.
type EventHub struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan EventUpdate
	history []EventUpdate
	now     func() time.Time
}

// NewEventHub constructs a hub retaining up to limit events for replay.
func NewEventHub(limit int) *EventHub {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &EventHub{
		limit: limit,
		subs:  make(map[uint64]chan EventUpdate),
		now:   time.Now,
	}
}

// SetNowFunc overrides the timestamp clock.
func (h *EventHub) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// Publish records the event and fans it out to current subscribers.
func (h *EventHub) Publish(evt *types.Event) {
	if h == nil || evt == nil {
		return
	}
	snapshot := evt.Clone()

	h.mu.Lock()
	h.seq++
	update := EventUpdate{
		Sequence:   h.seq,
		Cursor:     strconv.FormatUint(h.seq, 10),
		Type:       snapshot.Type,
		Attributes: snapshot.Attributes,
		Timestamp:  h.now().Unix(),
	}
	h.history = append(h.history, cloneEventUpdate(update))
	if len(h.history) > h.limit {
		excess := len(h.history) - h.limit
		trimmed := make([]EventUpdate, h.limit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	subscribers := make([]chan EventUpdate, 0, len(h.subs))
	for _, ch := range h.subs {
		subscribers = append(subscribers, ch)
	}
	h.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneEventUpdate(update):
		default:
		}
	}
}

// Subscribe registers a subscriber for engine events starting after the
// supplied cursor. The backlog holds retained events newer than the cursor;
// the cancel func must be called when the subscriber goes away.
func (h *EventHub) Subscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if h == nil {
		return nil, nil, nil, fmt.Errorf("event hub not initialised")
	}
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	history := make([]EventUpdate, len(h.history))
	copy(history, h.history)
	h.mu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			sub, ok := h.subs[id]
			if ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
