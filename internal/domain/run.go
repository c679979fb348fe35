package domain

import (
	"encoding/json"
	"time"
)

// Run represents one execution of one stage within a session.
type Run struct {
	RunID       string          `json:"run_id"`
	SessionID   string          `json:"session_id"`
	Stage       string          `json:"stage"`
	Input       json.RawMessage `json:"input,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	Model       string          `json:"model,omitempty"`
	Fallback    bool            `json:"fallback"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	LatencyMs   int64           `json:"latency_ms"`
	TokensIn    int             `json:"tokens_in"`
	TokensOut   int             `json:"tokens_out"`
	Envelope    *Envelope       `json:"envelope"`
}
