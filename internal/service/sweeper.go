package service

import (
	"context"
	"time"
)

// RunIdleSweeper evicts the in-memory state of idle sessions until ctx is
// done. Evicted sessions reload from storage on their next touch.
func (s *Service) RunIdleSweeper(ctx context.Context) {
	if s.opts.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepIdleSessions()
		}
	}
}

func (s *Service) sweepIdleSessions() int {
	cutoff := s.now().Add(-s.opts.IdleTTL)
	evicted := 0
	for _, sessionID := range s.sessions.idle(cutoff) {
		ok := s.sessions.evict(sessionID, func() bool {
			if !s.hub.Evict(sessionID) {
				return false
			}
			s.guard.Forget(sessionID)
			return true
		})
		if ok {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Int("remaining", s.sessions.Len()).Msg("idle sessions evicted")
	}
	return evicted
}
