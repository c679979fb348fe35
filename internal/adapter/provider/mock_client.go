package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MockClient answers every request with a well-formed success envelope.
type MockClient struct {
	id string
}

// NewMockClient creates a new mock provider.
func NewMockClient(id string) *MockClient {
	return &MockClient{id: id}
}

// Complete returns a mock envelope for the stage named in req.Metadata.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	start := time.Now()

	stage := req.Metadata["stage"]
	next := req.Metadata["next_action"]
	env := map[string]any{
		"stage":       stage,
		"ok":          true,
		"code":        "OK",
		"message":     fmt.Sprintf("[MOCK] %s via %s/%s: %s", stage, m.id, req.Model, truncate(lastUserMessage(req), 80)),
		"data":        map[string]any{"mock": true},
		"next_action": next,
	}
	text, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text:      string(text),
		TokensIn:  estimateTokens(req),
		TokensOut: len(text) / 4,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func lastUserMessage(req *CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// estimateTokens provides a rough token count estimate.
func estimateTokens(req *CompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
