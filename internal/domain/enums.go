// Package domain defines the core domain models for the eyes orchestrator.
package domain

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusKilled     SessionStatus = "killed"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusInProgress, SessionStatusCompleted, SessionStatusFailed, SessionStatusKilled:
		return true
	}
	return false
}

// Closed reports whether the session refuses further stage admissions.
func (s SessionStatus) Closed() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusKilled
}

// EventType represents the type of a pipeline event.
type EventType string

const (
	EventTypeSessionCreated       EventType = "session_created"
	EventTypeSessionStatusChanged EventType = "session_status_changed"
	EventTypeStageCompleted       EventType = "stage_completed"
	EventTypeStageFailed          EventType = "stage_failed"

	// Stream control frames, never persisted.
	EventTypePing      EventType = "ping"
	EventTypePong      EventType = "pong"
	EventTypeReplayGap EventType = "replay_gap"
)

// NextActionDone is the terminal marker a stage may name as its next action.
const NextActionDone = "DONE"
