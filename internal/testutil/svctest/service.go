// Package svctest builds a fully wired orchestrator for transport tests.
package svctest

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/eyes/internal/adapter/provider"
	"github.com/xiaot623/gogo/eyes/internal/broadcast"
	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/eyes"
	"github.com/xiaot623/gogo/eyes/internal/policy"
	"github.com/xiaot623/gogo/eyes/internal/repository"
	"github.com/xiaot623/gogo/eyes/internal/router"
	"github.com/xiaot623/gogo/eyes/internal/service"
	"github.com/xiaot623/gogo/eyes/internal/testutil"
)

// Fixture is a service backed by in-memory storage and mock providers.
type Fixture struct {
	Service   *service.Service
	Store     *repository.SQLiteStore
	Hub       *broadcast.Hub
	ProviderA *testutil.CountingProvider
	ProviderB *testutil.CountingProvider
}

// New returns a fixture whose stages all route to providerA/modelX.
func New(t *testing.T) *Fixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewTestStore(t)

	a := &testutil.CountingProvider{ID: "providerA"}
	b := &testutil.CountingProvider{ID: "providerB"}
	r := router.New(provider.Set{"providerA": a, "providerB": b}, store, router.Config{
		PrimaryTimeout:  time.Second,
		FallbackTimeout: time.Second,
		RetryMaxTries:   1,
	})
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	hub := broadcast.NewHub(broadcast.Config{})
	t.Cleanup(hub.Close)

	svc, err := service.New(service.Deps{
		Store:    store,
		Routing:  store,
		Router:   r,
		Eyes:     eyes.DefaultRegistry(),
		Hub:      hub,
		Sessions: service.NewSessionRegistry(),
		Policy:   engine,
	}, service.Options{IdleTTL: time.Minute})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	for _, info := range svc.ListStages() {
		_, err := svc.SetRouting(ctx, info.Name, domain.SetRoutingRequest{PrimaryProvider: "providerA", PrimaryModel: "modelX"})
		if err != nil {
			t.Fatalf("failed to seed routing for %s: %v", info.Name, err)
		}
	}

	return &Fixture{Service: svc, Store: store, Hub: hub, ProviderA: a, ProviderB: b}
}
