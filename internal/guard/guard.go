package guard

import (
	"fmt"
	"strings"
	"sync"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allow   bool
	Reason  string
	Missing []string
}

// Guard tracks, per session, which stages completed successfully and which
// are currently admitted. The completed set only grows.
type Guard struct {
	table    *Table
	sessions sync.Map // session id -> *sessionState
}

type sessionState struct {
	mu        sync.Mutex
	completed map[string]bool
	order     []string
	pending   map[string]bool
}

// New creates a guard over table.
func New(table *Table) *Guard {
	return &Guard{table: table}
}

// Table returns the transition table.
func (g *Guard) Table() *Table { return g.table }

func (g *Guard) state(sessionID string) *sessionState {
	if v, ok := g.sessions.Load(sessionID); ok {
		return v.(*sessionState)
	}
	v, _ := g.sessions.LoadOrStore(sessionID, &sessionState{
		completed: make(map[string]bool),
		pending:   make(map[string]bool),
	})
	return v.(*sessionState)
}

// Admit decides whether stage may run next in the session. An allowed stage
// is marked pending until Complete or Release is called.
func (g *Guard) Admit(sessionID, stage string) Decision {
	if !g.table.Known(stage) {
		return Decision{Reason: fmt.Sprintf("unknown stage %s", stage)}
	}

	st := g.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pending[stage] {
		return Decision{Reason: fmt.Sprintf("stage %s is already in progress", stage)}
	}

	if stage == g.table.Entry() {
		if len(st.completed) > 0 {
			return Decision{Reason: fmt.Sprintf("entry stage %s cannot run after stages have completed", stage)}
		}
		st.pending[stage] = true
		return Decision{Allow: true}
	}

	preds := g.table.Predecessors(stage)
	for _, p := range preds {
		if st.completed[p] {
			st.pending[stage] = true
			return Decision{Allow: true}
		}
	}
	return Decision{
		Reason:  "missing predecessor " + strings.Join(preds, " or "),
		Missing: preds,
	}
}

// Complete records a successful, persisted run of stage.
func (g *Guard) Complete(sessionID, stage string) {
	st := g.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.pending, stage)
	if !st.completed[stage] {
		st.completed[stage] = true
		st.order = append(st.order, stage)
	}
}

// Release clears a pending admission without marking the stage completed.
func (g *Guard) Release(sessionID, stage string) {
	st := g.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.pending, stage)
}

// Restore replays completed stages recovered from persisted events.
func (g *Guard) Restore(sessionID string, completed []string) {
	st := g.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, stage := range completed {
		if !st.completed[stage] {
			st.completed[stage] = true
			st.order = append(st.order, stage)
		}
	}
}

// Completed returns the session's completed stages in completion order.
func (g *Guard) Completed(sessionID string) []string {
	v, ok := g.sessions.Load(sessionID)
	if !ok {
		return nil
	}
	st := v.(*sessionState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.order...)
}

// Forget drops the in-memory state of a session. It is rebuilt with Restore.
func (g *Guard) Forget(sessionID string) {
	g.sessions.Delete(sessionID)
}
