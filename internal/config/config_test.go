package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.RoutingBackend)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongTimeout)
	assert.Equal(t, 500, cfg.ReplayBufferSize)
	assert.Equal(t, 3, cfg.RetryMaxTries)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PRIMARY_TIMEOUT_MS", "1500")
	t.Setenv("ROUTING_BACKEND", "Redis")
	t.Setenv("EYES_MODE", "mock")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.PrimaryTimeout)
	assert.Equal(t, "redis", cfg.RoutingBackend)
	assert.Equal(t, ModeMock, cfg.Mode)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("ROUTING_BACKEND", "etcd")
	t.Setenv("REPLAY_BUFFER_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROUTING_BACKEND")
	assert.Contains(t, err.Error(), "REPLAY_BUFFER_SIZE")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eyes.yaml")
	content := `
providers:
  - id: providerA
    base_url: http://a.local
    api_key_env: PROVIDER_A_KEY
  - id: providerB
    base_url: http://b.local
routing:
  - stage: validate_claims
    primary_provider: providerA
    primary_model: modelX
    fallback_provider: providerB
    fallback_model: modelY
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("EYES_CONFIG_FILE", path)
	t.Setenv("PROVIDER_A_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.File.Providers, 2)
	assert.Equal(t, "secret", cfg.File.Providers[0].APIKey())
	require.Len(t, cfg.File.Routing, 1)
	assert.Equal(t, "modelY", cfg.File.Routing[0].FallbackModel)
}

func TestValidateDuplicateProvider(t *testing.T) {
	file, err := ParseFile([]byte(`
providers:
  - id: p
    base_url: http://x
  - id: p
    base_url: http://y
`))
	require.NoError(t, err)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.File = *file
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}
