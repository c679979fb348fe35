package broadcast

import (
	"encoding/json"
	"time"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// heartbeat pings c every PingInterval and removes it when no Ack arrives
// within PongTimeout.
func (h *Hub) heartbeat(c *Connection) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		// Discard acknowledgements of earlier pings.
		select {
		case <-c.pong:
		default:
		}

		if err := c.enqueue(pingFrame(c.SessionID)); err != nil {
			h.remove(c, reasonBufferFull)
			return
		}

		timer := time.NewTimer(h.cfg.PongTimeout)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-c.pong:
			timer.Stop()
		case <-timer.C:
			h.remove(c, reasonHeartbeat)
			return
		}
	}
}

func pingFrame(sessionID string) []byte {
	frame, _ := json.Marshal(&domain.Event{
		Type:      domain.EventTypePing,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	})
	return frame
}
