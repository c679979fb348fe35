// Package repository defines the persistence interfaces and implementations.
package repository

import (
	"context"
	"errors"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSequenceConflict is returned when an event sequence is already taken.
	ErrSequenceConflict = errors.New("event sequence already exists")
)

// Store defines the interface for session, event, and run persistence.
type Store interface {
	// Session operations
	UpsertSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]domain.Session, error)

	// Event operations
	AppendEvent(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, sessionID string, since int64, limit int) ([]domain.Event, error)
	LastSequence(ctx context.Context, sessionID string) (int64, error)

	// Run operations
	AppendStageResult(ctx context.Context, run *domain.Run, event *domain.Event) error
	ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error)

	// Lifecycle
	Close() error
}

// RoutingStore holds per-stage routing records.
type RoutingStore interface {
	GetRouting(ctx context.Context, stage string) (*domain.Routing, error)
	SetRouting(ctx context.Context, routing *domain.Routing) error
	ListRouting(ctx context.Context) ([]domain.Routing, error)
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Status domain.SessionStatus
	Limit  int
}

var (
	_ Store        = (*SQLiteStore)(nil)
	_ RoutingStore = (*SQLiteStore)(nil)
	_ RoutingStore = (*RedisRoutingStore)(nil)
)
