package testutil

import (
	"context"
	"sync/atomic"

	"github.com/xiaot623/gogo/eyes/internal/adapter/provider"
)

// CountingProvider counts calls and delegates to Fn, or to a mock client when Fn is nil.
type CountingProvider struct {
	ID    string
	Fn    func(ctx context.Context, req *provider.CompletionRequest) (*provider.Completion, error)
	calls atomic.Int32
}

// Complete implements provider.Provider.
func (p *CountingProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Completion, error) {
	p.calls.Add(1)
	if p.Fn != nil {
		return p.Fn(ctx, req)
	}
	return provider.NewMockClient(p.ID).Complete(ctx, req)
}

// Calls returns the number of calls made so far.
func (p *CountingProvider) Calls() int {
	return int(p.calls.Load())
}

// Hang blocks until the context is done.
func Hang(ctx context.Context, _ *provider.CompletionRequest) (*provider.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// Reply returns a provider function answering with text.
func Reply(text string) func(context.Context, *provider.CompletionRequest) (*provider.Completion, error) {
	return func(context.Context, *provider.CompletionRequest) (*provider.Completion, error) {
		return &provider.Completion{Text: text, TokensIn: 1, TokensOut: 1}, nil
	}
}
