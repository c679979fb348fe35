package domain

import (
	"encoding/json"
	"time"
)

// Session represents a long-lived pipeline context.
type Session struct {
	SessionID      string          `json:"session_id"`
	Status         SessionStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Config         json.RawMessage `json:"config,omitempty"`
}
