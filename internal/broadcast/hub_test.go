package broadcast

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	h := NewHub(cfg)
	t.Cleanup(h.Close)
	return h
}

func event(sessionID string, seq int64) *domain.Event {
	return &domain.Event{
		Type:      domain.EventTypeStageCompleted,
		SessionID: sessionID,
		Stage:     "clarify",
		Sequence:  seq,
		Timestamp: time.Now().UnixMilli(),
	}
}

func next(t *testing.T, c *Connection) domain.Event {
	t.Helper()
	select {
	case frame, ok := <-c.Send():
		require.True(t, ok, "connection closed")
		var ev domain.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return domain.Event{}
}

func assertEmpty(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case frame := <-c.Send():
		t.Fatalf("unexpected frame %s", frame)
	default:
	}
}

func counterValue(t *testing.T, reason string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.BroadcastDroppedTotal.WithLabelValues(reason).Write(&m))
	return m.GetCounter().GetValue()
}

func TestPublishDeliversInOrder(t *testing.T) {
	h := newTestHub(t, Config{})
	c, err := h.Subscribe("s1", NoReplay)
	require.NoError(t, err)
	other, err := h.Subscribe("s2", NoReplay)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, h.Publish(event("s1", i)))
	}
	for i := int64(1); i <= 5; i++ {
		assert.Equal(t, i, next(t, c).Sequence)
	}
	assertEmpty(t, other)
}

func TestSlowConnectionDroppedWithoutBlocking(t *testing.T) {
	h := newTestHub(t, Config{SendBuffer: 3})
	slow, err := h.Subscribe("s1", NoReplay)
	require.NoError(t, err)
	fast, err := h.Subscribe("s1", NoReplay)
	require.NoError(t, err)

	before := counterValue(t, reasonBufferFull)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, h.Publish(event("s1", i)))
		assert.Equal(t, i, next(t, fast).Sequence)
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow connection was not dropped")
	}
	assert.Equal(t, 1, h.ConnectionCount())
	assert.Equal(t, before+1, counterValue(t, reasonBufferFull))
}

func TestReplaySince(t *testing.T) {
	h := newTestHub(t, Config{})
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, h.Publish(event("s1", i)))
	}

	c, err := h.Subscribe("s1", 2)
	require.NoError(t, err)
	for _, want := range []int64{3, 4, 5} {
		assert.Equal(t, want, next(t, c).Sequence)
	}
	assertEmpty(t, c)

	// Live events follow the replay.
	require.NoError(t, h.Publish(event("s1", 6)))
	assert.Equal(t, int64(6), next(t, c).Sequence)
}

func TestReplayGapWhenHistoryEvicted(t *testing.T) {
	h := newTestHub(t, Config{ReplaySize: 3})
	for i := int64(1); i <= 6; i++ {
		require.NoError(t, h.Publish(event("s1", i)))
	}

	c, err := h.Subscribe("s1", 1)
	require.NoError(t, err)
	gap := next(t, c)
	assert.Equal(t, domain.EventTypeReplayGap, gap.Type)
	assert.JSONEq(t, `{"since":1,"oldest":4}`, string(gap.Payload))
	for _, want := range []int64{4, 5, 6} {
		assert.Equal(t, want, next(t, c).Sequence)
	}
}

func TestReplayGapAfterPrime(t *testing.T) {
	h := newTestHub(t, Config{})
	h.Prime("s1", 10)

	c, err := h.Subscribe("s1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.EventTypeReplayGap, next(t, c).Type)
	assertEmpty(t, c)

	upToDate, err := h.Subscribe("s1", 10)
	require.NoError(t, err)
	assertEmpty(t, upToDate)
}

func TestGlobalSubscriberSeesAllSessions(t *testing.T) {
	h := newTestHub(t, Config{})
	g, err := h.Subscribe("", NoReplay)
	require.NoError(t, err)

	require.NoError(t, h.Publish(event("s1", 1)))
	require.NoError(t, h.Publish(event("s2", 1)))

	assert.Equal(t, "s1", next(t, g).SessionID)
	assert.Equal(t, "s2", next(t, g).SessionID)
}

func TestHeartbeatRemovesSilentConnection(t *testing.T) {
	h := newTestHub(t, Config{PingInterval: 20 * time.Millisecond, PongTimeout: 20 * time.Millisecond})
	before := counterValue(t, reasonHeartbeat)

	c, err := h.Subscribe("s1", NoReplay)
	require.NoError(t, err)

	select {
	case <-c.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("silent connection was not removed")
	}
	assert.Equal(t, domain.EventTypePing, next(t, c).Type)
	assert.Equal(t, 0, h.ConnectionCount())
	assert.Equal(t, before+1, counterValue(t, reasonHeartbeat))

	assert.NoError(t, h.Publish(event("s1", 1)))
}

func TestHeartbeatAckKeepsConnection(t *testing.T) {
	h := newTestHub(t, Config{PingInterval: 10 * time.Millisecond, PongTimeout: 50 * time.Millisecond})
	c, err := h.Subscribe("s1", NoReplay)
	require.NoError(t, err)

	pings := 0
	deadline := time.After(200 * time.Millisecond)
	for pings < 3 {
		select {
		case frame, ok := <-c.Send():
			require.True(t, ok, "connection dropped despite acks")
			var ev domain.Event
			require.NoError(t, json.Unmarshal(frame, &ev))
			if ev.Type == domain.EventTypePing {
				pings++
				c.Ack()
			}
		case <-deadline:
			t.Fatalf("saw only %d pings", pings)
		}
	}
	assert.Equal(t, 1, h.ConnectionCount())
	assert.WithinDuration(t, time.Now(), c.LastAck(), time.Second)
}

func TestEvictOnlyWithoutObservers(t *testing.T) {
	h := newTestHub(t, Config{})
	c, err := h.Subscribe("s1", NoReplay)
	require.NoError(t, err)

	assert.False(t, h.Evict("s1"))

	c.Close()
	assert.True(t, h.Evict("s1"))

	// A fresh state starts empty.
	fresh, err := h.Subscribe("s1", 0)
	require.NoError(t, err)
	assertEmpty(t, fresh)
}

func TestCloseRejectsNewSubscribers(t *testing.T) {
	h := NewHub(Config{PingInterval: time.Hour})
	for i := 0; i < 3; i++ {
		_, err := h.Subscribe(fmt.Sprintf("s%d", i), NoReplay)
		require.NoError(t, err)
	}
	h.Close()

	assert.Equal(t, 0, h.ConnectionCount())
	_, err := h.Subscribe("s1", NoReplay)
	assert.ErrorIs(t, err, ErrHubClosed)
}
