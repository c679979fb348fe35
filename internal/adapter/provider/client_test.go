package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/eyes/internal/config"
)

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "modelX", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"modelX","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "key")
	got, err := client.Complete(context.Background(), &CompletionRequest{
		Model:    "modelX",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, got.Text)
	assert.Equal(t, 12, got.TokensIn)
	assert.Equal(t, 5, got.TokensOut)
}

func TestClientStatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		retryable bool
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, true},
		{http.StatusBadGateway, `upstream down`, true},
		{http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request"}}`, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		_, err := NewClient(server.URL, "").Complete(context.Background(), &CompletionRequest{Model: "m"})
		server.Close()

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr), "status %d", tc.status)
		assert.Equal(t, tc.status, statusErr.StatusCode)
		assert.Equal(t, tc.retryable, statusErr.Retryable())
	}
}

func TestClientHonoursContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL, "").Complete(ctx, &CompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockClientProducesEnvelope(t *testing.T) {
	m := NewMockClient("mock")
	got, err := m.Complete(context.Background(), &CompletionRequest{
		Model:    "m1",
		Messages: []Message{{Role: "user", Content: "check this"}},
		Metadata: map[string]string{"stage": "clarify", "next_action": "rewrite"},
	})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.Text), &env))
	assert.Equal(t, "clarify", env["stage"])
	assert.Equal(t, true, env["ok"])
	assert.Equal(t, "rewrite", env["next_action"])
}

func TestNewSetMockMode(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeMock,
		File: config.FileConfig{Providers: []config.ProviderConfig{{ID: "providerA"}}},
	}
	set := NewSet(cfg)

	_, ok := set.Get(MockProviderID)
	assert.True(t, ok)
	p, ok := set.Get("providerA")
	require.True(t, ok)
	assert.IsType(t, &MockClient{}, p)
}
