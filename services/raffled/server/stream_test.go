package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rafflenet/core/types"
)

func publishTestEvent(hub *EventHub, eventType string, attrs map[string]string) {
	hub.Publish(&types.Event{Type: eventType, Attributes: attrs})
}

func TestEventHubSequencesAndFanout(t *testing.T) {
	hub := NewEventHub(16)
	fixed := time.Unix(1_700_000_123, 0)
	hub.SetNowFunc(func() time.Time { return fixed })

	updates, cancel, backlog, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()
	require.Empty(t, backlog)

	attrs := map[string]string{"raffleId": "7", "count": "3"}
	publishTestEvent(hub, "ticket.tickets_sold", attrs)
	publishTestEvent(hub, "ticket.winner_requested", nil)

	first := <-updates
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, "1", first.Cursor)
	require.Equal(t, "ticket.tickets_sold", first.Type)
	require.Equal(t, "7", first.Attributes["raffleId"])
	require.Equal(t, fixed.Unix(), first.Timestamp)

	// Subscribers hold isolated copies of the attribute map.
	attrs["raffleId"] = "mutated"
	require.Equal(t, "7", first.Attributes["raffleId"])

	second := <-updates
	require.Equal(t, uint64(2), second.Sequence)
	require.Equal(t, "ticket.winner_requested", second.Type)
}

func TestEventHubBacklogReplay(t *testing.T) {
	hub := NewEventHub(16)
	for i := 0; i < 3; i++ {
		publishTestEvent(hub, "prize.locked", map[string]string{"seq": string(rune('a' + i))})
	}

	_, cancelAll, backlog, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancelAll()
	require.Len(t, backlog, 3)
	require.Equal(t, uint64(1), backlog[0].Sequence)
	require.Equal(t, uint64(3), backlog[2].Sequence)

	_, cancelTail, tail, err := hub.Subscribe(context.Background(), "2")
	require.NoError(t, err)
	defer cancelTail()
	require.Len(t, tail, 1)
	require.Equal(t, uint64(3), tail[0].Sequence)

	_, cancelAhead, ahead, err := hub.Subscribe(context.Background(), "9")
	require.NoError(t, err)
	defer cancelAhead()
	require.Empty(t, ahead)
}

func TestEventHubTrimsHistory(t *testing.T) {
	hub := NewEventHub(4)
	for i := 0; i < 6; i++ {
		publishTestEvent(hub, "channel.message_sent", nil)
	}

	_, cancel, backlog, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()
	require.Len(t, backlog, 4)
	require.Equal(t, uint64(3), backlog[0].Sequence)
	require.Equal(t, uint64(6), backlog[3].Sequence)
}

func TestEventHubRejectsInvalidCursor(t *testing.T) {
	hub := NewEventHub(4)
	_, _, _, err := hub.Subscribe(context.Background(), "not-a-number")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid cursor")
}

func TestEventHubCancelClosesStream(t *testing.T) {
	hub := NewEventHub(4)
	updates, cancel, _, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)

	cancel()
	_, open := <-updates
	require.False(t, open)

	// A second cancel is a no-op.
	cancel()

	publishTestEvent(hub, "prize.locked", nil)
}

func TestEventHubContextCancellationClosesStream(t *testing.T) {
	hub := NewEventHub(4)
	ctx, stop := context.WithCancel(context.Background())
	updates, cancel, _, err := hub.Subscribe(ctx, "")
	require.NoError(t, err)
	defer cancel()

	stop()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-updates:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestEventHubDropsWhenSubscriberLags(t *testing.T) {
	hub := NewEventHub(128)
	updates, cancel, _, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()

	// The subscriber buffer holds 32 updates; the rest are dropped rather
	// than blocking the publisher.
	for i := 0; i < 40; i++ {
		publishTestEvent(hub, "ticket.tickets_sold", nil)
	}

	for i := 1; i <= 32; i++ {
		update := <-updates
		require.Equal(t, uint64(i), update.Sequence)
	}
	select {
	case update := <-updates:
		t.Fatalf("unexpected buffered update %d", update.Sequence)
	default:
	}

	// New publishes reach the drained subscriber again.
	publishTestEvent(hub, "ticket.winner_requested", nil)
	update := <-updates
	require.Equal(t, uint64(41), update.Sequence)
}

func TestEventHubIgnoresNilEvents(t *testing.T) {
	hub := NewEventHub(4)
	hub.Publish(nil)

	_, cancel, backlog, err := hub.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()
	require.Empty(t, backlog)

	var missing *EventHub
	missing.Publish(&types.Event{Type: "prize.locked"})
	_, _, _, err = missing.Subscribe(context.Background(), "")
	require.Error(t, err)
}
