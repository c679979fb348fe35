package domain

import "encoding/json"

// Event is the broadcast unit. Sequence is strictly increasing per session
// and doubles as the replay cursor.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// StageEventPayload is the payload of stage_completed and stage_failed events.
type StageEventPayload struct {
	RunID     string    `json:"run_id"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Fallback  bool      `json:"fallback"`
	LatencyMs int64     `json:"latency_ms"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Envelope  *Envelope `json:"envelope"`
}

// SessionEventPayload is the payload of session lifecycle events.
type SessionEventPayload struct {
	Status SessionStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}
