package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dial connects a websocket client joined to the given owner room.
func dial(t *testing.T, hub *Hub, ownerID int64) *websocket.Conn {
	t.Helper()

	joined := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		close(joined)
		hub.Join(ownerID, conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the client to join")
	}
	return conn
}

func TestPublishToOwnerDeliversEnvelope(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, 1)

	// Join registers asynchronously relative to the upgrade.
	require.Eventually(t, func() bool { return hub.Rooms() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishToOwner(1, "request:new", map[string]any{"requestId": 42})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var received struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(message, &received))
	assert.Equal(t, "request:new", received.Event)
	assert.EqualValues(t, 42, received.Data["requestId"])
}

func TestPublishToOtherRoomNotDelivered(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, 1)

	require.Eventually(t, func() bool { return hub.Rooms() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishToOwner(2, "request:new", map[string]any{"requestId": 42})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestPublishWithNoClients(t *testing.T) {
	hub := NewHub()
	// Must not panic or block.
	hub.PublishToOwner(1, "request:new", nil)
	assert.Equal(t, 0, hub.Rooms())
}

func TestConcurrentJoinsSameRoom(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Join(1, conn)
	}))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	const clients = 32
	conns := make([]*websocket.Conn, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	for _, conn := range conns {
		require.NotNil(t, conn)
		t.Cleanup(func() { conn.Close() })
	}

	require.Eventually(t, func() bool { return hub.Clients(1) == clients }, time.Second, 10*time.Millisecond)

	// Every concurrently joined client receives the broadcast.
	hub.PublishToOwner(1, "request:update", map[string]any{"requestId": 7})
	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(message), "request:update")
	}
}

func TestRoomReapedAfterDisconnect(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, 1)

	require.Eventually(t, func() bool { return hub.Rooms() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Rooms() == 0 }, time.Second, 10*time.Millisecond)
}
