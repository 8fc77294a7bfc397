// Package metrics holds planguard's Prometheus collectors. They register with
// the default registry on package init.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planguard_validations_total",
		Help: "Plan validations by result (valid, invalid)",
	}, []string{"result"})

	ValidationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planguard_validation_errors_total",
		Help: "Structural validation errors by kind",
	}, []string{"kind"})

	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "planguard_validation_duration_seconds",
		Help:    "Duration of a single plan validation",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})

	RevisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planguard_revisions_total",
		Help: "Revision passes by outcome (noop, proposed, rejected, applied, apply_failed)",
	}, []string{"outcome"})

	RevisionActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planguard_revision_actions_total",
		Help: "Proposed revision actions by kind",
	}, []string{"kind"})

	DaemonRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planguard_daemon_requests_total",
		Help: "Daemon requests by command and response code",
	}, []string{"command", "code"})

	DaemonRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planguard_daemon_request_duration_seconds",
		Help:    "Time from reading a daemon request to answering it",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"command"})

	RuleReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "planguard_rule_reloads_total",
		Help: "Failure rule file reloads by result (ok, error)",
	}, []string{"result"})
)

// WriteTextfile dumps the default registry in the text exposition format, for
// pickup by a node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
