// Package routing applies routing seeds from the YAML config file and keeps
// the routing store in sync when the file is edited.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/eyes/internal/config"
	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// Applier validates and stores a routing record.
type Applier interface {
	SetRouting(ctx context.Context, stage string, req domain.SetRoutingRequest) (*domain.Routing, error)
}

// Apply stores every seed. Invalid seeds are reported together and do not
// prevent the remaining seeds from being applied.
func Apply(ctx context.Context, applier Applier, seeds []config.RoutingSeed) (int, error) {
	var errs []error
	applied := 0
	for _, seed := range seeds {
		_, err := applier.SetRouting(ctx, seed.Stage, domain.SetRoutingRequest{
			PrimaryProvider:  seed.PrimaryProvider,
			PrimaryModel:     seed.PrimaryModel,
			FallbackProvider: seed.FallbackProvider,
			FallbackModel:    seed.FallbackModel,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("routing seed %q: %w", seed.Stage, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}
