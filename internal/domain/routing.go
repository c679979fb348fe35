package domain

import "time"

// Routing is the per-stage provider selection.
type Routing struct {
	Stage            string    `json:"stage" yaml:"stage"`
	PrimaryProvider  string    `json:"primary_provider" yaml:"primary_provider"`
	PrimaryModel     string    `json:"primary_model" yaml:"primary_model"`
	FallbackProvider string    `json:"fallback_provider,omitempty" yaml:"fallback_provider"`
	FallbackModel    string    `json:"fallback_model,omitempty" yaml:"fallback_model"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"-"`
}

// HasFallback reports whether a fallback target is configured.
func (r *Routing) HasFallback() bool {
	return r.FallbackProvider != "" && r.FallbackModel != ""
}
