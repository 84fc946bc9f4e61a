// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OracleCalls counts schedule oracle outcomes: ok, empty, transient, fatal.
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustfirst",
		Name:      "schedule_oracle_calls_total",
		Help:      "Schedule oracle calls by outcome.",
	}, []string{"outcome"})

	// AgreementTransitions counts agreement mutations by operation.
	AgreementTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustfirst",
		Name:      "agreement_mutations_total",
		Help:      "Agreement mutations applied, by operation.",
	}, []string{"operation"})

	// VersionConflicts counts optimistic concurrency retries on agreements.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trustfirst",
		Name:      "agreement_version_conflicts_total",
		Help:      "Optimistic version conflicts retried on agreement writes.",
	})

	// Contributions counts Contribute outcomes: accepted, overdrawn, inactive.
	Contributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustfirst",
		Name:      "money_request_contributions_total",
		Help:      "Money request contributions by outcome.",
	}, []string{"outcome"})

	// BestEffortFailures counts swallowed collaborator failures by kind.
	BestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustfirst",
		Name:      "best_effort_failures_total",
		Help:      "Logged but not propagated collaborator failures.",
	}, []string{"kind"})

	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trustfirst",
		Name:      "rpc_requests_total",
		Help:      "Connect RPC calls by procedure and code.",
	}, []string{"procedure", "code"})

	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trustfirst",
		Name:      "rpc_duration_seconds",
		Help:      "Connect RPC latency by procedure.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"procedure"})
)
