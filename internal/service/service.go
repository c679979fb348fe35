// Package service implements the orchestrator: the single synchronization
// point of every stage invocation.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/eyes/internal/broadcast"
	"github.com/xiaot623/gogo/eyes/internal/eyes"
	"github.com/xiaot623/gogo/eyes/internal/guard"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
	"github.com/xiaot623/gogo/eyes/internal/policy"
	"github.com/xiaot623/gogo/eyes/internal/repository"
	"github.com/xiaot623/gogo/eyes/internal/router"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrInvalidStatus   = errors.New("invalid session status")
	ErrUnknownStage    = errors.New("unknown stage")
	ErrInvalidRouting  = errors.New("invalid routing")
	ErrInvalidConfig   = errors.New("invalid session config")
)

// Deps are the collaborators of the orchestrator, constructed once at startup.
type Deps struct {
	Store    repository.Store
	Routing  repository.RoutingStore
	Router   *router.Router
	Eyes     *eyes.Registry
	Hub      *broadcast.Hub
	Sessions *SessionRegistry
	Policy   *policy.Engine
}

// Options tune session housekeeping.
type Options struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type Service struct {
	store    repository.Store
	routing  repository.RoutingStore
	router   *router.Router
	eyes     *eyes.Registry
	guard    *guard.Guard
	hub      *broadcast.Hub
	sessions *SessionRegistry
	policy   *policy.Engine
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New wires the orchestrator. The order guard's table is derived from the
// stage registry.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Routing == nil || deps.Router == nil || deps.Eyes == nil ||
		deps.Hub == nil || deps.Sessions == nil || deps.Policy == nil {
		return nil, fmt.Errorf("service: missing dependency")
	}
	table, err := deps.Eyes.Table()
	if err != nil {
		return nil, fmt.Errorf("invalid stage pipeline: %w", err)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Service{
		store:    deps.Store,
		routing:  deps.Routing,
		router:   deps.Router,
		eyes:     deps.Eyes,
		guard:    guard.New(table),
		hub:      deps.Hub,
		sessions: deps.Sessions,
		policy:   deps.Policy,
		opts:     opts,
		logger:   xlog.WithComponent("service"),
		now:      time.Now,
	}, nil
}
