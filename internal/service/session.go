package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/repository"
)

// CreateSession creates a session and announces it to global observers.
func (s *Service) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	if len(req.Config) > 0 && !json.Valid(req.Config) {
		return nil, fmt.Errorf("%w: config must be valid JSON", ErrInvalidConfig)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}

	e := s.sessions.lock(sessionID)
	defer e.mu.Unlock()

	if e.loaded {
		return nil, ErrSessionExists
	}
	if _, err := s.store.GetSession(ctx, sessionID); err == nil {
		return nil, ErrSessionExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := s.load(ctx, sessionID, e, true, req.Config); err != nil {
		return nil, err
	}
	session := e.session
	return &session, nil
}

// GetSession retrieves a session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions returns recent sessions.
func (s *Service) ListSessions(ctx context.Context, filter repository.SessionFilter) ([]domain.Session, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.store.ListSessions(ctx, filter)
}

// KillSession marks a session killed. Future admissions are refused; an
// in-flight invocation is not aborted.
func (s *Service) KillSession(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	return s.UpdateSessionStatus(ctx, sessionID, domain.UpdateSessionStatusRequest{
		Status: domain.SessionStatusKilled,
		Reason: reason,
	})
}

// UpdateSessionStatus applies an external lifecycle change. Closed sessions
// cannot be reopened.
func (s *Service) UpdateSessionStatus(ctx context.Context, sessionID string, req domain.UpdateSessionStatusRequest) (*domain.Session, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	e := s.sessions.lock(sessionID)
	defer e.mu.Unlock()

	if err := s.load(ctx, sessionID, e, false, nil); err != nil {
		return nil, err
	}
	if e.session.Status != req.Status {
		if e.session.Status.Closed() {
			return nil, fmt.Errorf("%w: session is already %s", ErrInvalidStatus, e.session.Status)
		}
		if err := s.setStatus(ctx, e, req.Status, req.Reason); err != nil {
			return nil, err
		}
	}
	session := e.session
	return &session, nil
}

// load brings an entry in sync with storage the first time a session is
// touched: guard state and the sequence counter are rebuilt from persisted
// events. A missing session is created when create is set.
func (s *Service) load(ctx context.Context, sessionID string, e *sessionEntry, create bool, config json.RawMessage) error {
	now := s.now()
	e.touch(now)
	if e.loaded {
		return nil
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		if !create {
			return ErrSessionNotFound
		}
		session = &domain.Session{
			SessionID:      sessionID,
			Status:         domain.SessionStatusInProgress,
			CreatedAt:      now,
			LastActivityAt: now,
			Config:         config,
		}
		if err := s.store.UpsertSession(ctx, session); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		s.guard.Forget(sessionID)
		e.session = *session
		e.lastSeq = 0
		e.loaded = true

		if _, err := s.emit(ctx, e, domain.EventTypeSessionCreated, "", domain.SessionEventPayload{Status: session.Status}); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record session_created event")
		}
		s.logger.Info().Str("session_id", sessionID).Msg("session created")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	events, err := s.store.ListEvents(ctx, sessionID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to load session events: %w", err)
	}
	var completed []string
	var lastSeq int64
	for _, ev := range events {
		if ev.Type == domain.EventTypeStageCompleted {
			completed = append(completed, ev.Stage)
		}
		lastSeq = ev.Sequence
	}

	s.guard.Forget(sessionID)
	s.guard.Restore(sessionID, completed)
	s.hub.Prime(sessionID, lastSeq)

	e.session = *session
	e.lastSeq = lastSeq
	e.loaded = true

	s.logger.Debug().
		Str("session_id", sessionID).
		Int64("last_sequence", lastSeq).
		Strs("completed", completed).
		Msg("session state restored")
	return nil
}

// setStatus persists a status change and announces it.
func (s *Service) setStatus(ctx context.Context, e *sessionEntry, status domain.SessionStatus, reason string) error {
	prev := e.session
	e.session.Status = status
	e.session.LastActivityAt = s.now()
	if err := s.store.UpsertSession(ctx, &e.session); err != nil {
		e.session = prev
		return fmt.Errorf("failed to update session: %w", err)
	}
	if _, err := s.emit(ctx, e, domain.EventTypeSessionStatusChanged, "", domain.SessionEventPayload{Status: status, Reason: reason}); err != nil {
		return err
	}
	s.logger.Info().
		Str("session_id", e.session.SessionID).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("session status changed")
	return nil
}
