// Package metrics holds the Prometheus collectors of the eyes service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyes",
		Name:      "stage_invocations_total",
		Help:      "Stage invocations by stage and resulting envelope code",
	}, []string{"stage", "code"})

	ProviderAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyes",
		Name:      "provider_attempts_total",
		Help:      "Provider attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyes",
		Name:      "fallbacks_total",
		Help:      "Escalations from the primary to the fallback provider",
	}, []string{"stage"})

	BroadcastDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eyes",
		Name:      "broadcast_dropped_total",
		Help:      "Observer connections dropped by the broadcaster, by reason",
	}, []string{"reason"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eyes",
		Name:      "connections_active",
		Help:      "Live event stream connections",
	})
)

// IncBroadcastDrop records a dropped connection with a concrete reason.
func IncBroadcastDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BroadcastDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveStage records the outcome of one stage invocation.
func ObserveStage(stage, code string) {
	if stage == "" {
		stage = "unknown"
	}
	StageInvocationsTotal.WithLabelValues(stage, code).Inc()
}

// ObserveAttempt records the outcome of one provider attempt.
func ObserveAttempt(provider, outcome string) {
	ProviderAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}
