// Package router resolves the provider for a stage and executes the call
// with bounded retry and a single primary to fallback escalation.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/eyes/internal/adapter/provider"
	"github.com/xiaot623/gogo/eyes/internal/domain"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
	"github.com/xiaot623/gogo/eyes/internal/metrics"
	"github.com/xiaot623/gogo/eyes/internal/repository"
)

// Source reads routing records. Missing stages report repository.ErrNotFound.
type Source interface {
	GetRouting(ctx context.Context, stage string) (*domain.Routing, error)
}

// Config holds the timeout and retry policy.
type Config struct {
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	RetryMaxTries   uint
	RetryInitial    time.Duration
	RetryMaxDelay   time.Duration
}

// CheckFunc inspects a raw completion. A non-nil error marks the attempt malformed.
type CheckFunc func(*provider.Completion) error

// Result is a successful execution.
type Result struct {
	Completion *provider.Completion
	Provider   string
	Model      string
	Fallback   bool
	LatencyMs  int64
	Attempts   []Attempt
}

// Router executes stage calls against providers.
type Router struct {
	providers provider.Set
	source    Source
	cfg       Config
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// New creates a new router.
func New(providers provider.Set, source Source, cfg Config) *Router {
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = 1
	}
	return &Router{
		providers: providers,
		source:    source,
		cfg:       cfg,
		logger:    xlog.WithComponent("router"),
		tracer:    otel.Tracer("github.com/xiaot623/gogo/eyes/internal/router"),
	}
}

// HasProvider reports whether id names a registered provider.
func (r *Router) HasProvider(id string) bool {
	_, ok := r.providers.Get(id)
	return ok
}

// Resolve returns the routing for stage, re-read on every call.
func (r *Router) Resolve(ctx context.Context, stage string) (*domain.Routing, error) {
	routing, err := r.source.GetRouting(ctx, stage)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no routing for stage %s", ErrRoutingNotConfigured, stage)
		}
		return nil, fmt.Errorf("failed to read routing: %w", err)
	}
	if routing == nil || routing.PrimaryProvider == "" || routing.PrimaryModel == "" {
		return nil, fmt.Errorf("%w: stage %s has no primary target", ErrRoutingNotConfigured, stage)
	}
	return routing, nil
}

// Execute runs req against the primary target and, if that attempt fails,
// against the fallback exactly once. It returns *Failure when both fail.
func (r *Router) Execute(ctx context.Context, routing *domain.Routing, req *provider.CompletionRequest, check CheckFunc) (*Result, error) {
	primary, ok := r.providers.Get(routing.PrimaryProvider)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %s", ErrRoutingNotConfigured, routing.PrimaryProvider)
	}
	var fallback provider.Provider
	if routing.HasFallback() {
		if fallback, ok = r.providers.Get(routing.FallbackProvider); !ok {
			return nil, fmt.Errorf("%w: unknown provider %s", ErrRoutingNotConfigured, routing.FallbackProvider)
		}
	}

	ctx, span := r.tracer.Start(ctx, "router.execute", trace.WithAttributes(
		attribute.String("eyes.stage", routing.Stage),
		attribute.String("eyes.primary", routing.PrimaryProvider+"/"+routing.PrimaryModel),
	))
	defer span.End()

	logger := xlog.WithContext(ctx, r.logger).With().Str("stage", routing.Stage).Logger()

	completion, attempt := r.attempt(ctx, primary, routing.PrimaryProvider, routing.PrimaryModel, r.cfg.PrimaryTimeout, req, check)
	attempts := []Attempt{attempt}
	if attempt.Class == "" {
		return &Result{
			Completion: completion,
			Provider:   routing.PrimaryProvider,
			Model:      routing.PrimaryModel,
			LatencyMs:  attempt.LatencyMs,
			Attempts:   attempts,
		}, nil
	}

	logger.Warn().
		Str("provider", attempt.Provider).
		Str("model", attempt.Model).
		Str("class", string(attempt.Class)).
		Str("error", attempt.Error).
		Msg("primary attempt failed")

	if fallback == nil || ctx.Err() != nil {
		span.SetStatus(codes.Error, "primary failed without fallback")
		return nil, &Failure{Stage: routing.Stage, Attempts: attempts}
	}

	metrics.FallbacksTotal.WithLabelValues(routing.Stage).Inc()
	span.AddEvent("fallback", trace.WithAttributes(attribute.String("eyes.fallback", routing.FallbackProvider+"/"+routing.FallbackModel)))

	completion, attempt = r.attempt(ctx, fallback, routing.FallbackProvider, routing.FallbackModel, r.cfg.FallbackTimeout, req, check)
	attempt.Fallback = true
	attempts = append(attempts, attempt)
	if attempt.Class == "" {
		logger.Info().Str("provider", attempt.Provider).Str("model", attempt.Model).Msg("fallback attempt succeeded")
		return &Result{
			Completion: completion,
			Provider:   routing.FallbackProvider,
			Model:      routing.FallbackModel,
			Fallback:   true,
			LatencyMs:  attempt.LatencyMs,
			Attempts:   attempts,
		}, nil
	}

	logger.Error().
		Str("provider", attempt.Provider).
		Str("model", attempt.Model).
		Str("class", string(attempt.Class)).
		Str("error", attempt.Error).
		Msg("fallback attempt failed")
	span.SetStatus(codes.Error, "all attempts failed")
	return nil, &Failure{Stage: routing.Stage, Attempts: attempts}
}

// attempt performs one bounded attempt. Rate-limit and 5xx responses are
// retried with exponential backoff inside the attempt's timeout.
func (r *Router) attempt(ctx context.Context, p provider.Provider, providerID, model string, timeout time.Duration, req *provider.CompletionRequest, check CheckFunc) (*provider.Completion, Attempt) {
	ctx, span := r.tracer.Start(ctx, "router.attempt", trace.WithAttributes(
		attribute.String("eyes.provider", providerID),
		attribute.String("eyes.model", model),
	))
	defer span.End()

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	call := *req
	call.Model = model

	tries := 0
	op := func() (*provider.Completion, error) {
		tries++
		completion, err := p.Complete(attemptCtx, &call)
		if err == nil {
			return completion, nil
		}
		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) && statusErr.Retryable() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	start := time.Now()
	completion, err := backoff.Retry(attemptCtx, op,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.cfg.RetryMaxTries),
	)
	if err == nil && check != nil {
		if checkErr := check(completion); checkErr != nil {
			err = &MalformedError{Err: checkErr}
			completion = nil
		}
	}

	attempt := Attempt{
		Provider:  providerID,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
		Tries:     tries,
	}
	if err != nil {
		attempt.Class = classify(attemptCtx, err)
		attempt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(attempt.Class))
		metrics.ObserveAttempt(providerID, string(attempt.Class))
		return nil, attempt
	}

	metrics.ObserveAttempt(providerID, "success")
	return completion, attempt
}

func (r *Router) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitial
	b.Multiplier = 2
	b.MaxInterval = r.cfg.RetryMaxDelay
	b.RandomizationFactor = 0.1
	return b
}

// classify derives the raw error class of a failed attempt.
func classify(ctx context.Context, err error) Class {
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return ClassMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassTransport
}

// MalformedError wraps a check failure on otherwise successful provider output.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return "malformed output: " + e.Err.Error() }

func (e *MalformedError) Unwrap() error { return e.Err }
