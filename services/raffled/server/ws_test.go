package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func dialEvents(t *testing.T, ctx context.Context, baseURL, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/events" + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readUpdate(t *testing.T, ctx context.Context, conn *websocket.Conn) EventUpdate {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var update EventUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	return update
}

func TestEventsWebsocketStream(t *testing.T) {
	rig := newServerRig(t, nil)
	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()

	publishTestEvent(rig.node.hub, "prize.locked", map[string]string{"raffleId": "7"})
	publishTestEvent(rig.node.hub, "ticket.raffle_created", map[string]string{"raffleId": "7"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialEvents(t, ctx, ts.URL, "")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	first := readUpdate(t, ctx, conn)
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, "prize.locked", first.Type)
	require.Equal(t, "7", first.Attributes["raffleId"])

	second := readUpdate(t, ctx, conn)
	require.Equal(t, uint64(2), second.Sequence)
	require.Equal(t, "ticket.raffle_created", second.Type)

	// Live events follow the replayed backlog on the same stream.
	publishTestEvent(rig.node.hub, "ticket.tickets_sold", nil)
	third := readUpdate(t, ctx, conn)
	require.Equal(t, uint64(3), third.Sequence)
	require.Equal(t, "ticket.tickets_sold", third.Type)
}

func TestEventsWebsocketResumesFromCursor(t *testing.T) {
	rig := newServerRig(t, nil)
	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()

	for i := 0; i < 3; i++ {
		publishTestEvent(rig.node.hub, "channel.message_sent", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialEvents(t, ctx, ts.URL, "?cursor=2")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	update := readUpdate(t, ctx, conn)
	require.Equal(t, uint64(3), update.Sequence)
	require.Equal(t, "3", update.Cursor)
}

func TestEventsWebsocketRejectsInvalidCursor(t *testing.T) {
	rig := newServerRig(t, nil)
	ts := httptest.NewServer(rig.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialEvents(t, ctx, ts.URL, "?cursor=abc")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"invalid cursor"}`, string(data))
}
