// Package broadcast fans pipeline events out to live observers.
package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
	"github.com/xiaot623/gogo/eyes/internal/metrics"
)

var (
	// ErrBufferFull is returned when a connection's send queue is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when sending to a removed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrHubClosed is returned by Subscribe after Close.
	ErrHubClosed = errors.New("hub closed")
)

// NoReplay subscribes without replaying buffered events.
const NoReplay int64 = -1

// Drop reasons reported to metrics.
const (
	reasonBufferFull = "buffer_full"
	reasonHeartbeat  = "heartbeat_timeout"
)

// Config holds broadcaster limits.
type Config struct {
	ReplaySize   int
	SendBuffer   int
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Hub manages observer connections. Session state is locked per session;
// there is no hub-wide lock on the publish path of a session.
type Hub struct {
	cfg    Config
	logger zerolog.Logger

	sessions sync.Map // session id -> *sessionState

	globalMu sync.Mutex
	global   map[string]*Connection

	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

type sessionState struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	ring    *ring
	evicted bool
}

// NewHub creates a new Hub.
func NewHub(cfg Config) *Hub {
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = 500
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		cfg:    cfg,
		logger: xlog.WithComponent("broadcast"),
		global: make(map[string]*Connection),
	}
}

// lockState returns the locked state of a session, creating it if needed.
func (h *Hub) lockState(sessionID string) *sessionState {
	for {
		v, ok := h.sessions.Load(sessionID)
		if !ok {
			v, _ = h.sessions.LoadOrStore(sessionID, &sessionState{
				conns: make(map[string]*Connection),
				ring:  newRing(h.cfg.ReplaySize),
			})
		}
		st := v.(*sessionState)
		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// Publish delivers event to every live subscriber of its session and to
// global subscribers. It never blocks; connections whose queue is full are
// dropped.
func (h *Hub) Publish(event *domain.Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var dead []*Connection
	if event.SessionID != "" {
		st := h.lockState(event.SessionID)
		st.ring.push(event.Sequence, frame)
		for _, c := range st.conns {
			if err := c.enqueue(frame); err != nil {
				dead = append(dead, c)
			}
		}
		st.mu.Unlock()
	}

	h.globalMu.Lock()
	for _, c := range h.global {
		if err := c.enqueue(frame); err != nil {
			dead = append(dead, c)
		}
	}
	h.globalMu.Unlock()

	for _, c := range dead {
		h.remove(c, reasonBufferFull)
	}
	return nil
}

// Subscribe registers an observer. An empty sessionID subscribes to every
// session. With since >= 0 the buffered events with a greater sequence are
// queued first; a replay_gap frame precedes them when older events were
// already evicted.
func (h *Hub) Subscribe(sessionID string, since int64) (*Connection, error) {
	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	id := uuid.New().String()
	var c *Connection
	if sessionID == "" {
		c = newConnection(id, "", h.cfg.SendBuffer, h)
		h.globalMu.Lock()
		h.global[id] = c
		h.globalMu.Unlock()
	} else {
		st := h.lockState(sessionID)
		var replay []entry
		gap := false
		if since >= 0 {
			replay = st.ring.since(since)
			gap = st.ring.gap(since)
		}
		c = newConnection(id, sessionID, h.cfg.SendBuffer+len(replay)+1, h)
		if gap {
			_ = c.enqueue(gapFrame(sessionID, since, st.ring.oldest()))
		}
		for _, e := range replay {
			_ = c.enqueue(e.frame)
		}
		st.conns[id] = c
		st.mu.Unlock()
	}

	metrics.ConnectionsActive.Inc()
	h.logger.Debug().Str("conn_id", id).Str("session_id", sessionID).Int64("since", since).Msg("connection registered")

	if h.cfg.PingInterval > 0 {
		h.wg.Add(1)
		go h.heartbeat(c)
	}
	return c, nil
}

// Prime tells the replay buffer of a session about sequences persisted
// before it was created, so late subscribers learn about the gap.
func (h *Hub) Prime(sessionID string, lastSequence int64) {
	st := h.lockState(sessionID)
	st.ring.prime(lastSequence)
	st.mu.Unlock()
}

// Evict drops the in-memory state of a session without observers.
func (h *Hub) Evict(sessionID string) bool {
	v, ok := h.sessions.Load(sessionID)
	if !ok {
		return true
	}
	st := v.(*sessionState)
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.conns) > 0 {
		return false
	}
	st.evicted = true
	h.sessions.Delete(sessionID)
	return true
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.globalMu.Lock()
	n := len(h.global)
	h.globalMu.Unlock()
	h.sessions.Range(func(_, v any) bool {
		st := v.(*sessionState)
		st.mu.Lock()
		n += len(st.conns)
		st.mu.Unlock()
		return true
	})
	return n
}

// Close removes every connection and waits for heartbeat tasks to stop.
func (h *Hub) Close() {
	h.closeMu.Lock()
	h.closed = true
	h.closeMu.Unlock()

	var all []*Connection
	h.globalMu.Lock()
	for _, c := range h.global {
		all = append(all, c)
	}
	h.globalMu.Unlock()
	h.sessions.Range(func(_, v any) bool {
		st := v.(*sessionState)
		st.mu.Lock()
		for _, c := range st.conns {
			all = append(all, c)
		}
		st.mu.Unlock()
		return true
	})
	for _, c := range all {
		h.remove(c, "")
	}
	h.wg.Wait()
}

// remove unregisters c. A non-empty reason counts as a drop.
func (h *Hub) remove(c *Connection, reason string) {
	if c.SessionID == "" {
		h.globalMu.Lock()
		delete(h.global, c.ID)
		h.globalMu.Unlock()
	} else if v, ok := h.sessions.Load(c.SessionID); ok {
		st := v.(*sessionState)
		st.mu.Lock()
		if st.conns[c.ID] == c {
			delete(st.conns, c.ID)
		}
		st.mu.Unlock()
	}

	if !c.shutdown() {
		return
	}
	metrics.ConnectionsActive.Dec()
	if reason != "" {
		metrics.IncBroadcastDrop(reason)
		h.logger.Info().Str("conn_id", c.ID).Str("session_id", c.SessionID).Str("reason", reason).Msg("connection dropped")
		return
	}
	h.logger.Debug().Str("conn_id", c.ID).Str("session_id", c.SessionID).Msg("connection unregistered")
}

func gapFrame(sessionID string, since, oldest int64) []byte {
	payload, _ := json.Marshal(map[string]int64{"since": since, "oldest": oldest})
	frame, _ := json.Marshal(&domain.Event{
		Type:      domain.EventTypeReplayGap,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	return frame
}
