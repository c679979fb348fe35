package provider

import (
	"github.com/xiaot623/gogo/eyes/internal/config"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
)

// MockProviderID is always registered in mock mode.
const MockProviderID = "mock"

// NewSet builds the provider set from configuration. With EYES_MODE=MOCK
// every configured id is backed by a MockClient.
func NewSet(cfg *config.Config) Set {
	logger := xlog.WithComponent("provider")
	set := make(Set, len(cfg.File.Providers)+1)

	if cfg.Mode == config.ModeMock {
		logger.Info().Msg("EYES_MODE=MOCK detected, using mock providers")
		set[MockProviderID] = NewMockClient(MockProviderID)
		for _, p := range cfg.File.Providers {
			set[p.ID] = NewMockClient(p.ID)
		}
		return set
	}

	for _, p := range cfg.File.Providers {
		set[p.ID] = NewClient(p.BaseURL, p.APIKey())
		logger.Info().Str("provider", p.ID).Str("base_url", p.BaseURL).Msg("provider registered")
	}
	return set
}
