package routing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/eyes/internal/config"
	"github.com/xiaot623/gogo/eyes/internal/domain"
)

type recordingApplier struct {
	mu     sync.Mutex
	stored map[string]domain.SetRoutingRequest
	reject map[string]bool
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{stored: map[string]domain.SetRoutingRequest{}, reject: map[string]bool{}}
}

func (a *recordingApplier) SetRouting(_ context.Context, stage string, req domain.SetRoutingRequest) (*domain.Routing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reject[stage] {
		return nil, errors.New("unknown stage")
	}
	a.stored[stage] = req
	return &domain.Routing{Stage: stage, PrimaryProvider: req.PrimaryProvider, PrimaryModel: req.PrimaryModel}, nil
}

func (a *recordingApplier) get(stage string) (domain.SetRoutingRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.stored[stage]
	return req, ok
}

func TestApply(t *testing.T) {
	applier := newRecordingApplier()
	applier.reject["bogus"] = true

	applied, err := Apply(context.Background(), applier, []config.RoutingSeed{
		{Stage: "clarify", PrimaryProvider: "providerA", PrimaryModel: "modelX", FallbackProvider: "providerB", FallbackModel: "modelY"},
		{Stage: "bogus", PrimaryProvider: "providerA", PrimaryModel: "modelX"},
		{Stage: "rewrite", PrimaryProvider: "providerA", PrimaryModel: "modelX"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bogus"`)
	assert.Equal(t, 2, applied)

	req, ok := applier.get("clarify")
	require.True(t, ok)
	assert.Equal(t, "providerB", req.FallbackProvider)
	_, ok = applier.get("rewrite")
	assert.True(t, ok)
}

func writeRouting(t *testing.T, path, model string) {
	t.Helper()
	content := "routing:\n" +
		"  - stage: clarify\n" +
		"    primary_provider: providerA\n" +
		"    primary_model: " + model + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyes.yaml")
	writeRouting(t, path, "modelX")

	applier := newRecordingApplier()
	w := NewWatcher(path, applier)
	require.NoError(t, w.Reload(context.Background()))

	req, ok := applier.get("clarify")
	require.True(t, ok)
	assert.Equal(t, "modelX", req.PrimaryModel)
	assert.Equal(t, 1, w.Reloads())
}

func TestWatcherReloadMissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), newRecordingApplier())
	require.Error(t, w.Reload(context.Background()))
}

func TestWatcherAppliesEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyes.yaml")
	writeRouting(t, path, "modelX")

	applier := newRecordingApplier()
	w := NewWatcher(path, applier).WithDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	writeRouting(t, path, "modelZ")

	require.Eventually(t, func() bool {
		req, ok := applier.get("clarify")
		return ok && req.PrimaryModel == "modelZ"
	}, 3*time.Second, 20*time.Millisecond)
}
