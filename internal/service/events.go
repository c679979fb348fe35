package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/eyes/internal/broadcast"
	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// persist appends an event with the session's next sequence. The counter
// advances only when the write succeeds.
func (s *Service) persist(ctx context.Context, e *sessionEntry, eventType domain.EventType, stage string, payload any) (*domain.Event, error) {
	event, err := s.nextEvent(e, eventType, stage, payload)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	e.lastSeq = event.Sequence
	return event, nil
}

// nextEvent builds the session's next event without reserving its sequence.
func (s *Service) nextEvent(e *sessionEntry, eventType domain.EventType, stage string, payload any) (*domain.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &domain.Event{
		Type:      eventType,
		SessionID: e.session.SessionID,
		Stage:     stage,
		Payload:   data,
		Sequence:  e.lastSeq + 1,
		Timestamp: s.now().UnixMilli(),
	}, nil
}

func (s *Service) publish(event *domain.Event) {
	if err := s.hub.Publish(event); err != nil {
		s.logger.Warn().Err(err).Str("session_id", event.SessionID).Int64("sequence", event.Sequence).Msg("failed to publish event")
	}
}

// emit persists then publishes.
func (s *Service) emit(ctx context.Context, e *sessionEntry, eventType domain.EventType, stage string, payload any) (*domain.Event, error) {
	event, err := s.persist(ctx, e, eventType, stage, payload)
	if err != nil {
		return nil, err
	}
	s.publish(event)
	return event, nil
}

// ListEvents returns persisted events with sequence > since. Observers use
// it when the replay buffer no longer holds what they missed.
func (s *Service) ListEvents(ctx context.Context, sessionID string, since int64, limit int) ([]domain.Event, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if since < 0 {
		since = 0
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.store.ListEvents(ctx, sessionID, since, limit)
}

// ListRuns returns the stage runs of a session.
func (s *Service) ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, sessionID)
}

// Subscribe attaches an observer. For a session subscription the session's
// state is loaded first so replay gaps are detected after a restart.
func (s *Service) Subscribe(ctx context.Context, sessionID string, since int64) (*broadcast.Connection, error) {
	if sessionID == "" {
		return s.hub.Subscribe("", broadcast.NoReplay)
	}

	e, ok := s.sessions.tryLock(sessionID)
	if !ok {
		// The holder may still be loading, so prime from storage directly.
		last, err := s.store.LastSequence(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to read last sequence: %w", err)
		}
		s.hub.Prime(sessionID, last)
		return s.hub.Subscribe(sessionID, since)
	}
	defer e.mu.Unlock()
	// Observers may watch a session before it is created.
	if err := s.load(ctx, sessionID, e, false, nil); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	return s.hub.Subscribe(sessionID, since)
}
