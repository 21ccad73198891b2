// Package metrics declares the Prometheus instruments shared by the three
// services. Registration is on the default registry; each service exposes
// it via its HTTP handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsConsumed counts bus deliveries by consumer and outcome
	// (ok, schema_invalid, error).
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backplane_events_consumed_total",
		Help: "Bus deliveries processed, by consumer and outcome.",
	}, []string{"consumer", "outcome"})

	// EventsEnriched counts published enriched events by event type.
	EventsEnriched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backplane_events_enriched_total",
		Help: "Enriched events published, by event type.",
	}, []string{"event_type"})

	// AlertsCreated counts alerts by severity.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backplane_alerts_created_total",
		Help: "Alerts persisted and published, by severity.",
	}, []string{"severity"})

	// DecisionsCreated counts decisions by recommended action.
	DecisionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backplane_decisions_created_total",
		Help: "Decisions recorded, by recommended action.",
	}, []string{"action"})

	// PlaybookExecutions counts executor outcomes
	// (success, failed, cooldown, locked, preconditions).
	PlaybookExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backplane_playbook_executions_total",
		Help: "Playbook execution attempts, by outcome.",
	}, []string{"outcome"})

	// IntelLookups counts outbound intel calls by provider and result
	// (hit means served from cache).
	IntelLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backplane_intel_lookups_total",
		Help: "Threat-intel lookups, by provider and result.",
	}, []string{"provider", "result"})
)
