// Package metrics exposes Prometheus instruments for the orchestration loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultTimeout = "timeout"
)

var (
	// OperationsTotal counts completed phase operations by phase and result.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoclaude_operations_total",
		Help: "Completed phase operations by phase and result.",
	}, []string{"phase", "result"})

	// OperationDuration tracks phase operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoclaude_operation_duration_seconds",
		Help:    "Phase operation duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"phase"})

	// InFlightOperations gauges currently executing operations.
	InFlightOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoclaude_in_flight_operations",
		Help: "Operations currently executing under the resource manager.",
	})

	// AgentRestartsTotal counts feedback-triggered interrupt-and-restart cycles.
	AgentRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoclaude_agent_restarts_total",
		Help: "Agent invocations restarted to inject pending feedback.",
	})

	// RecoveryAttemptsTotal counts recovery attempts by outcome.
	RecoveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoclaude_recovery_attempts_total",
		Help: "Recovery attempts by outcome.",
	}, []string{"outcome"})

	// RateLimitWaitsTotal counts rate-limit cooldown periods entered.
	RateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoclaude_rate_limit_waits_total",
		Help: "Rate-limit cooldown periods entered.",
	})

	// PromptTokens tracks estimated token counts of prompts sent to the agent.
	PromptTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoclaude_prompt_tokens",
		Help:    "Estimated token count of prompts sent to the agent.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	})

	// FeedbackPending gauges feedback entries waiting for injection.
	FeedbackPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoclaude_feedback_pending",
		Help: "Feedback entries waiting for injection.",
	})
)
