// Package provider abstracts the external model backends that execute stages.
package provider

import (
	"context"
	"fmt"
	"net/http"
)

// Provider is one external model backend.
type Provider interface {
	// Complete runs a non-streaming chat completion.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingParams holds optional sampling settings.
type SamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// CompletionRequest is the provider-neutral request shape.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Params   SamplingParams
	// Metadata carries hints that never reach the wire (stage name, expected next action).
	Metadata map[string]string
}

// Completion is the raw result of a provider call.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// StatusError is returned when the backend answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider error [%d]: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is a rate-limit or 5xx-class failure.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Set maps provider ids to providers.
type Set map[string]Provider

// Get returns the provider registered under id.
func (s Set) Get(id string) (Provider, bool) {
	p, ok := s[id]
	return p, ok
}

// Ensure implementations satisfy Provider.
var (
	_ Provider = (*Client)(nil)
	_ Provider = (*MockClient)(nil)
)
