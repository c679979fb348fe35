package domain

import "encoding/json"

// InvokeStageRequest is the input of a stage invocation.
type InvokeStageRequest struct {
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// CreateSessionRequest creates a session with an optional configuration blob.
type CreateSessionRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// UpdateSessionStatusRequest changes a session lifecycle status.
type UpdateSessionStatusRequest struct {
	Status SessionStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// SetRoutingRequest is the admin payload for a routing update.
type SetRoutingRequest struct {
	PrimaryProvider  string `json:"primary_provider"`
	PrimaryModel     string `json:"primary_model"`
	FallbackProvider string `json:"fallback_provider,omitempty"`
	FallbackModel    string `json:"fallback_model,omitempty"`
}

// StageInfo describes a registered stage.
type StageInfo struct {
	Name         string   `json:"name"`
	Predecessors []string `json:"predecessors"`
	Entry        bool     `json:"entry"`
}
