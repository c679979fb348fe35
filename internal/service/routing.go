package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/repository"
)

// ListStages describes the registered pipeline.
func (s *Service) ListStages() []domain.StageInfo {
	return s.eyes.List()
}

// ListRouting returns every routing record.
func (s *Service) ListRouting(ctx context.Context) ([]domain.Routing, error) {
	return s.routing.ListRouting(ctx)
}

// GetRouting returns the routing of one stage.
func (s *Service) GetRouting(ctx context.Context, stage string) (*domain.Routing, error) {
	routing, err := s.routing.GetRouting(ctx, stage)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get routing: %w", err)
	}
	return routing, nil
}

// SetRouting validates and stores the routing of a stage. Invocations pick
// it up on their next resolve.
func (s *Service) SetRouting(ctx context.Context, stage string, req domain.SetRoutingRequest) (*domain.Routing, error) {
	routing := &domain.Routing{
		Stage:            stage,
		PrimaryProvider:  strings.TrimSpace(req.PrimaryProvider),
		PrimaryModel:     strings.TrimSpace(req.PrimaryModel),
		FallbackProvider: strings.TrimSpace(req.FallbackProvider),
		FallbackModel:    strings.TrimSpace(req.FallbackModel),
		UpdatedAt:        s.now(),
	}
	if err := s.ValidateRouting(routing); err != nil {
		return nil, err
	}
	if err := s.routing.SetRouting(ctx, routing); err != nil {
		return nil, fmt.Errorf("failed to set routing: %w", err)
	}
	s.logger.Info().
		Str("stage", stage).
		Str("primary", routing.PrimaryProvider+"/"+routing.PrimaryModel).
		Str("fallback", routing.FallbackProvider+"/"+routing.FallbackModel).
		Msg("routing updated")
	return routing, nil
}

// ValidateRouting checks a routing record against the registered stages and providers.
func (s *Service) ValidateRouting(routing *domain.Routing) error {
	if _, ok := s.eyes.Get(routing.Stage); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStage, routing.Stage)
	}
	if routing.PrimaryProvider == "" || routing.PrimaryModel == "" {
		return fmt.Errorf("%w: primary_provider and primary_model are required", ErrInvalidRouting)
	}
	if (routing.FallbackProvider == "") != (routing.FallbackModel == "") {
		return fmt.Errorf("%w: fallback_provider and fallback_model must be set together", ErrInvalidRouting)
	}
	if !s.router.HasProvider(routing.PrimaryProvider) {
		return fmt.Errorf("%w: unknown provider %s", ErrInvalidRouting, routing.PrimaryProvider)
	}
	if routing.HasFallback() && !s.router.HasProvider(routing.FallbackProvider) {
		return fmt.Errorf("%w: unknown provider %s", ErrInvalidRouting, routing.FallbackProvider)
	}
	return nil
}
