package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMirrorServer(t *testing.T, serve func(conn *websocket.Conn)) (*httptest.Server, string) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return server, wsURL
}

func writeNotification(t *testing.T, conn *websocket.Conn, event TransferEvent) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "transferNotification",
		"params":  map[string]interface{}{"result": event},
	}
	require.NoError(t, conn.WriteJSON(payload))
}

func TestMirrorStream_ReceivesEvents(t *testing.T) {
	server, wsURL := newMirrorServer(t, func(conn *websocket.Conn) {
		// Consume the subscribe frame, confirm, then push two events.
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": 7})

		writeNotification(t, conn, TransferEvent{
			TransferID: "transfer-1", TxID: "tx-1", State: StateSettled, SettledAt: 1700000000000,
		})
		writeNotification(t, conn, TransferEvent{
			TransferID: "transfer-2", State: StateRejected, Reason: "FROZEN_ACCOUNT",
		})

		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream, err := NewMirrorStream(context.Background(), wsURL, nil, nil)
	require.NoError(t, err)
	defer stream.Close()

	first := recvEvent(t, stream)
	assert.Equal(t, "transfer-1", first.TransferID)
	assert.Equal(t, StateSettled, first.State)

	second := recvEvent(t, stream)
	assert.Equal(t, "transfer-2", second.TransferID)
	assert.Equal(t, "FROZEN_ACCOUNT", second.Reason)
}

func TestMirrorStream_IgnoresNonNotificationFrames(t *testing.T) {
	server, wsURL := newMirrorServer(t, func(conn *websocket.Conn) {
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": 7})
		conn.WriteMessage(websocket.TextMessage, []byte("not even json"))
		writeNotification(t, conn, TransferEvent{TransferID: "transfer-3", State: StateSettled})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream, err := NewMirrorStream(context.Background(), wsURL, nil, nil)
	require.NoError(t, err)
	defer stream.Close()

	event := recvEvent(t, stream)
	assert.Equal(t, "transfer-3", event.TransferID)
}

func TestMirrorStream_CloseClosesEvents(t *testing.T) {
	server, wsURL := newMirrorServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream, err := NewMirrorStream(context.Background(), wsURL, nil, nil)
	require.NoError(t, err)

	require.NoError(t, stream.Close())

	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}

	// Double close is a no-op.
	require.NoError(t, stream.Close())
}

func TestMirrorStream_DialFailure(t *testing.T) {
	_, err := NewMirrorStream(context.Background(), "ws://127.0.0.1:1/nope", nil, nil)
	require.Error(t, err)
}

func recvEvent(t *testing.T, stream *MirrorStream) TransferEvent {
	t.Helper()
	select {
	case event := <-stream.Events():
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return TransferEvent{}
	}
}
