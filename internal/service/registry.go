package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// SessionRegistry holds the in-memory state of active sessions. Each entry
// carries the mutex that serializes invocations within its session.
type SessionRegistry struct {
	entries sync.Map // session id -> *sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	evicted bool

	loaded  bool
	session domain.Session
	lastSeq int64

	touched atomic.Int64 // unix millis, read by the sweeper without the lock
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// lock returns the locked entry of a session, creating it if needed.
func (r *SessionRegistry) lock(sessionID string) *sessionEntry {
	for {
		v, _ := r.entries.LoadOrStore(sessionID, &sessionEntry{})
		e := v.(*sessionEntry)
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		e.mu.Unlock()
	}
}

// tryLock is lock without waiting on a busy session.
func (r *SessionRegistry) tryLock(sessionID string) (*sessionEntry, bool) {
	for {
		v, _ := r.entries.LoadOrStore(sessionID, &sessionEntry{})
		e := v.(*sessionEntry)
		if !e.mu.TryLock() {
			return nil, false
		}
		if !e.evicted {
			return e, true
		}
		e.mu.Unlock()
	}
}

// Len returns the number of sessions held in memory.
func (r *SessionRegistry) Len() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// idle lists sessions not touched since cutoff.
func (r *SessionRegistry) idle(cutoff time.Time) []string {
	var out []string
	r.entries.Range(func(k, v any) bool {
		if v.(*sessionEntry).touched.Load() < cutoff.UnixMilli() {
			out = append(out, k.(string))
		}
		return true
	})
	return out
}

// evict removes an idle session when release agrees. Busy sessions are skipped.
func (r *SessionRegistry) evict(sessionID string, release func() bool) bool {
	v, ok := r.entries.Load(sessionID)
	if !ok {
		return false
	}
	e := v.(*sessionEntry)
	if !e.mu.TryLock() {
		return false
	}
	defer e.mu.Unlock()
	if e.evicted || !release() {
		return false
	}
	e.evicted = true
	r.entries.Delete(sessionID)
	return true
}

func (e *sessionEntry) touch(now time.Time) {
	e.touched.Store(now.UnixMilli())
}
