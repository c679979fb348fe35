package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/eyes/internal/broadcast"
	"github.com/xiaot623/gogo/eyes/internal/domain"
)

type hubSubscriber struct {
	hub *broadcast.Hub
}

func (s hubSubscriber) Subscribe(_ context.Context, sessionID string, since int64) (*broadcast.Connection, error) {
	return s.hub.Subscribe(sessionID, since)
}

func newTestServer(t *testing.T, cfg broadcast.Config) (*broadcast.Hub, string) {
	t.Helper()
	hub := broadcast.NewHub(cfg)

	e := echo.New()
	e.HideBanner = true
	NewServer(Config{WriteTimeout: time.Second}, hubSubscriber{hub: hub}).RegisterRoutes(e)

	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func stageEvent(sessionID string, seq int64) *domain.Event {
	return &domain.Event{
		Type:      domain.EventTypeStageCompleted,
		SessionID: sessionID,
		Stage:     "clarify",
		Sequence:  seq,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestStreamDeliversSessionEvents(t *testing.T) {
	hub, url := newTestServer(t, broadcast.Config{})
	conn := dial(t, url+"?sessionId=s1")

	require.NoError(t, hub.Publish(stageEvent("s2", 1)))
	require.NoError(t, hub.Publish(stageEvent("s1", 1)))
	require.NoError(t, hub.Publish(stageEvent("s1", 2)))

	ev := read(t, conn)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, int64(1), ev.Sequence)
	assert.Equal(t, int64(2), read(t, conn).Sequence)
}

func TestStreamReplaysSince(t *testing.T) {
	hub, url := newTestServer(t, broadcast.Config{})
	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, hub.Publish(stageEvent("s1", seq)))
	}

	conn := dial(t, url+"?sessionId=s1&since=1")
	assert.Equal(t, int64(2), read(t, conn).Sequence)
	assert.Equal(t, int64(3), read(t, conn).Sequence)

	require.NoError(t, hub.Publish(stageEvent("s1", 4)))
	assert.Equal(t, int64(4), read(t, conn).Sequence)
}

func TestStreamGlobalSubscriber(t *testing.T) {
	hub, url := newTestServer(t, broadcast.Config{})
	conn := dial(t, url)

	require.NoError(t, hub.Publish(&domain.Event{
		Type:      domain.EventTypeSessionCreated,
		SessionID: "s9",
		Sequence:  1,
		Timestamp: time.Now().UnixMilli(),
	}))

	ev := read(t, conn)
	assert.Equal(t, domain.EventTypeSessionCreated, ev.Type)
	assert.Equal(t, "s9", ev.SessionID)
}

func TestStreamRejectsBadSince(t *testing.T) {
	_, url := newTestServer(t, broadcast.Config{})
	resp, err := http.Get("http" + strings.TrimPrefix(url, "ws") + "?sessionId=s1&since=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamHeartbeat(t *testing.T) {
	hub, url := newTestServer(t, broadcast.Config{
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  100 * time.Millisecond,
	})
	conn := dial(t, url+"?sessionId=s1")

	// Answered pings keep the connection alive.
	for i := 0; i < 3; i++ {
		ev := read(t, conn)
		require.Equal(t, domain.EventTypePing, ev.Type)
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "pong"}))
	}
	assert.Equal(t, 1, hub.ConnectionCount())

	// Stop answering: the server drops the observer.
	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(stageEvent("s1", 1)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
