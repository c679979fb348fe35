package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/eyes/internal/adapter/provider"
	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/envelope"
	"github.com/xiaot623/gogo/eyes/internal/eyes"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
	"github.com/xiaot623/gogo/eyes/internal/metrics"
	"github.com/xiaot623/gogo/eyes/internal/policy"
	"github.com/xiaot623/gogo/eyes/internal/router"
)

// InvokeStage runs one stage of a session and returns its envelope. Every
// outcome, including failures, is an envelope. Invocations of one session
// are serialized; different sessions run in parallel.
func (s *Service) InvokeStage(ctx context.Context, req domain.InvokeStageRequest) *domain.Envelope {
	env := s.invokeStage(ctx, req)
	metrics.ObserveStage(req.Stage, string(env.Code))
	return env
}

func (s *Service) invokeStage(ctx context.Context, req domain.InvokeStageRequest) *domain.Envelope {
	stage := strings.TrimSpace(req.Stage)
	if req.SessionID == "" {
		return domain.NewFailureEnvelope(stage, domain.CodeInvalidRequest, "session_id is required", nil)
	}
	if stage == "" {
		return domain.NewFailureEnvelope(stage, domain.CodeInvalidRequest, "stage is required", nil)
	}
	eye, ok := s.eyes.Get(stage)
	if !ok {
		return domain.NewFailureEnvelope(stage, domain.CodeUnknownStage, fmt.Sprintf("unknown stage %s", stage), nil)
	}
	call, err := eye.Request(req.Payload)
	if err != nil {
		return domain.NewFailureEnvelope(stage, domain.CodeInvalidRequest, err.Error(), nil)
	}

	// The caller cannot cancel an admitted stage mid-flight.
	ctx = context.WithoutCancel(xlog.ContextWithSessionID(ctx, req.SessionID))
	logger := xlog.WithContext(ctx, s.logger).With().Str("stage", stage).Logger()

	e := s.sessions.lock(req.SessionID)
	defer e.mu.Unlock()

	if err := s.load(ctx, req.SessionID, e, true, nil); err != nil {
		logger.Error().Err(err).Msg("failed to load session")
		return domain.NewFailureEnvelope(stage, domain.CodeInternalError, "failed to load session", nil)
	}

	decision, reason, err := s.policy.Evaluate(ctx, policy.Input{
		SessionID:     req.SessionID,
		SessionStatus: string(e.session.Status),
		Stage:         stage,
	})
	if err != nil {
		logger.Error().Err(err).Msg("policy evaluation failed")
		return domain.NewFailureEnvelope(stage, domain.CodeInternalError, "policy evaluation failed", nil)
	}
	if decision == policy.DecisionBlock {
		if reason == "" {
			reason = fmt.Sprintf("session is %s", e.session.Status)
		}
		return domain.NewFailureEnvelope(stage, domain.CodeSessionClosed, reason, map[string]any{
			"status": string(e.session.Status),
		})
	}

	admission := s.guard.Admit(req.SessionID, stage)
	if !admission.Allow {
		logger.Info().Str("reason", admission.Reason).Msg("stage rejected by order guard")
		data := map[string]any{"completed": s.guard.Completed(req.SessionID)}
		if len(admission.Missing) > 0 {
			data["missing"] = admission.Missing
		}
		return domain.NewFailureEnvelope(stage, domain.CodeOrderViolation, admission.Reason, data)
	}

	run := &domain.Run{
		RunID:     "run_" + uuid.New().String()[:8],
		SessionID: req.SessionID,
		Stage:     stage,
		Input:     req.Payload,
		StartedAt: s.now(),
	}
	env := s.execute(ctx, stage, eye, call, run)
	run.CompletedAt = s.now()
	run.Envelope = env

	eventType := domain.EventTypeStageFailed
	if env.OK {
		eventType = domain.EventTypeStageCompleted
	}
	event, err := s.nextEvent(e, eventType, stage, domain.StageEventPayload{
		RunID:     run.RunID,
		Provider:  run.Provider,
		Model:     run.Model,
		Fallback:  run.Fallback,
		LatencyMs: run.LatencyMs,
		TokensIn:  run.TokensIn,
		TokensOut: run.TokensOut,
		Envelope:  env,
	})
	if err == nil {
		err = s.store.AppendStageResult(ctx, run, event)
	}
	if err != nil {
		s.guard.Release(req.SessionID, stage)
		logger.Error().Err(err).Str("run_id", run.RunID).Msg("failed to persist stage result")
		return domain.NewFailureEnvelope(stage, domain.CodeInternalError, "failed to persist stage result", nil)
	}
	e.lastSeq = event.Sequence

	if env.OK {
		s.guard.Complete(req.SessionID, stage)
	} else {
		s.guard.Release(req.SessionID, stage)
	}
	s.publish(event)

	if env.OK && env.NextAction == domain.NextActionDone {
		if err := s.setStatus(ctx, e, domain.SessionStatusCompleted, fmt.Sprintf("stage %s finished the pipeline", stage)); err != nil {
			logger.Error().Err(err).Msg("failed to complete session")
		}
	} else {
		e.session.LastActivityAt = s.now()
		if err := s.store.UpsertSession(ctx, &e.session); err != nil {
			logger.Warn().Err(err).Msg("failed to record session activity")
		}
	}

	logger.Info().
		Str("run_id", run.RunID).
		Str("code", string(env.Code)).
		Str("provider", run.Provider).
		Bool("fallback", run.Fallback).
		Int64("sequence", event.Sequence).
		Int64("latency_ms", run.LatencyMs).
		Msg("stage finished")
	return env
}

// execute resolves routing and runs the stage through the router. The
// envelope check runs inside each attempt, so malformed output escalates
// to the fallback exactly like a transport failure.
func (s *Service) execute(ctx context.Context, stage string, eye eyes.Eye, call *provider.CompletionRequest, run *domain.Run) *domain.Envelope {
	routing, err := s.router.Resolve(ctx, stage)
	if err != nil {
		return s.routerFailure(ctx, stage, err)
	}

	table := s.guard.Table()
	var validated *domain.Envelope
	check := func(c *provider.Completion) error {
		candidate, err := eye.Interpret(c.Text)
		if err != nil {
			return err
		}
		env, err := envelope.Validate(stage, candidate, table)
		if err != nil {
			return err
		}
		validated = env
		return nil
	}

	result, err := s.router.Execute(ctx, routing, call, check)
	if err != nil {
		return s.routerFailure(ctx, stage, err)
	}

	run.Provider = result.Provider
	run.Model = result.Model
	run.Fallback = result.Fallback
	run.LatencyMs = result.LatencyMs
	run.TokensIn = result.Completion.TokensIn
	run.TokensOut = result.Completion.TokensOut
	return validated
}

func (s *Service) routerFailure(ctx context.Context, stage string, err error) *domain.Envelope {
	logger := xlog.WithContext(ctx, s.logger).With().Str("stage", stage).Logger()

	var failure *router.Failure
	switch {
	case errors.Is(err, router.ErrRoutingNotConfigured):
		logger.Error().Err(err).Msg("routing not configured")
		return domain.NewFailureEnvelope(stage, domain.CodeRoutingNotConfigured, err.Error(), nil)
	case errors.As(err, &failure):
		for _, a := range failure.Attempts {
			logger.Warn().
				Str("provider", a.Provider).
				Str("model", a.Model).
				Bool("fallback", a.Fallback).
				Str("class", string(a.Class)).
				Int("tries", a.Tries).
				Str("error", a.Error).
				Msg("provider attempt failed")
		}
		return domain.NewFailureEnvelope(stage, failure.Code(), failure.Message(), nil)
	default:
		logger.Error().Err(err).Msg("router error")
		return domain.NewFailureEnvelope(stage, domain.CodeInternalError, "failed to execute stage", nil)
	}
}
