package eyes

import (
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/guard"
)

// Registry stores stages keyed by name, in registration order.
type Registry struct {
	mu    sync.RWMutex
	entry string
	order []string
	eyes  map[string]Eye
}

// NewRegistry creates an empty registry whose pipeline starts at entry.
func NewRegistry(entry string) *Registry {
	return &Registry{
		entry: entry,
		eyes:  make(map[string]Eye),
	}
}

// Register adds a stage.
func (r *Registry) Register(eye Eye) error {
	if eye == nil {
		return fmt.Errorf("eye is required")
	}
	name := eye.Name()
	if name == "" {
		return fmt.Errorf("stage name is required")
	}
	if name == domain.NextActionDone {
		return fmt.Errorf("stage name %s is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.eyes[name]; exists {
		return fmt.Errorf("stage already registered: %s", name)
	}
	r.eyes[name] = eye
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a stage or panics.
func (r *Registry) MustRegister(eye Eye) {
	if err := r.Register(eye); err != nil {
		panic(err)
	}
}

// Get returns the stage registered under name.
func (r *Registry) Get(name string) (Eye, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eye, ok := r.eyes[name]
	return eye, ok
}

// List describes the registered stages in registration order.
func (r *Registry) List() []domain.StageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StageInfo, 0, len(r.order))
	for _, name := range r.order {
		preds := r.eyes[name].Predecessors()
		out = append(out, domain.StageInfo{
			Name:         name,
			Predecessors: append([]string{}, preds...),
			Entry:        name == r.entry,
		})
	}
	return out
}

// Table derives the order guard's transition table from the registry.
func (r *Registry) Table() (*guard.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	preds := make(map[string][]string, len(r.eyes))
	for name, eye := range r.eyes {
		preds[name] = eye.Predecessors()
	}
	return guard.NewTable(r.entry, preds)
}
