// Package ws serves the pipeline event stream over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/eyes/internal/broadcast"
	"github.com/xiaot623/gogo/eyes/internal/domain"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
)

// Subscriber attaches observers to the broadcaster.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string, since int64) (*broadcast.Connection, error)
}

// Config holds per-connection limits.
type Config struct {
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// Server handles event stream connections.
type Server struct {
	cfg        Config
	subscriber Subscriber
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, subscriber Subscriber) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	return &Server{
		cfg:        cfg,
		subscriber: subscriber,
		logger:     xlog.WithComponent("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the stream endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// HandleWebSocket subscribes the caller and starts the connection pumps.
// sessionId selects a session stream; without it the caller receives
// cross-session notifications. since replays buffered events after that
// sequence.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	since := broadcast.NoReplay
	if raw := c.QueryParam("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be a non-negative integer"})
		}
		since = v
	}

	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	conn, err := s.subscriber.Subscribe(c.Request().Context(), sessionID, since)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("subscribe failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "subscribe failed"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		conn.Close()
		return nil
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	s.logger.Info().Str("conn_id", conn.ID).Str("session_id", sessionID).Int64("since", since).Msg("observer connected")

	go s.writePump(ws, conn)
	go s.readPump(ws, conn)
	return nil
}

// readPump consumes client frames. A pong message acknowledges the latest ping.
func (s *Server) readPump(ws *websocket.Conn, conn *broadcast.Connection) {
	defer conn.Close()

	ws.SetPongHandler(func(string) error {
		conn.Ack()
		return nil
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			return
		}

		var msg struct {
			Type domain.EventType `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == domain.EventTypePong {
			conn.Ack()
		}
	}
}

// writePump drains the connection queue until the broadcaster drops it.
func (s *Server) writePump(ws *websocket.Conn, conn *broadcast.Connection) {
	defer ws.Close()

	for frame := range conn.Send() {
		_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket write failed")
			conn.Close()
			return
		}
	}

	_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.logger.Debug().Str("conn_id", conn.ID).Msg("observer disconnected")
}
