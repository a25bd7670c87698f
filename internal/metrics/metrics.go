// Package metrics exposes Prometheus instrumentation for the alerting service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the service's Prometheus metrics. A nil Collector is
// valid and records nothing.
type Collector struct {
	alertsCreated     *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	dedupHits         *prometheus.CounterVec
	ruleFailures      *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	sweepAlertsRaised prometheus.Counter
	activeSessions    prometheus.Gauge
	broadcasts        *prometheus.CounterVec
}

// NewCollector registers the alerting metrics on the given registerer
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		alertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imos_alerts_created_total",
			Help: "Alerts created, by type, priority and origin",
		}, []string{"type", "priority", "auto"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imos_alert_transitions_total",
			Help: "Alert state transitions applied, by action",
		}, []string{"action"}),
		dedupHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imos_alert_dedup_hits_total",
			Help: "Automated alert proposals suppressed by deduplication",
		}, []string{"type"}),
		ruleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imos_rule_failures_total",
			Help: "Automated rule evaluations that failed",
		}, []string{"rule"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imos_rule_sweep_duration_seconds",
			Help:    "Duration of full automated rule sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		sweepAlertsRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "imos_rule_sweep_alerts_raised_total",
			Help: "New alerts raised by automated rule sweeps",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imos_ws_sessions",
			Help: "Currently connected websocket sessions",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imos_ws_broadcasts_total",
			Help: "Events broadcast to websocket sessions, by event type",
		}, []string{"event"}),
	}
}

// AlertCreated records a created alert
func (c *Collector) AlertCreated(alertType, priority string, auto bool) {
	if c == nil {
		return
	}
	c.alertsCreated.WithLabelValues(alertType, priority, strconv.FormatBool(auto)).Inc()
}

// TransitionApplied records an applied state transition
func (c *Collector) TransitionApplied(action string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(action).Inc()
}

// DedupHit records an automated proposal suppressed by dedup
func (c *Collector) DedupHit(alertType string) {
	if c == nil {
		return
	}
	c.dedupHits.WithLabelValues(alertType).Inc()
}

// RuleFailed records a failed rule evaluation
func (c *Collector) RuleFailed(rule string) {
	if c == nil {
		return
	}
	c.ruleFailures.WithLabelValues(rule).Inc()
}

// SweepCompleted records the duration and yield of a rule sweep
func (c *Collector) SweepCompleted(elapsed time.Duration, created int) {
	if c == nil {
		return
	}
	c.sweepDuration.Observe(elapsed.Seconds())
	c.sweepAlertsRaised.Add(float64(created))
}

// SessionOpened increments the connected session gauge
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionClosed decrements the connected session gauge
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

// EventBroadcast records one fan-out of an event type
func (c *Collector) EventBroadcast(event string) {
	if c == nil {
		return
	}
	c.broadcasts.WithLabelValues(event).Inc()
}
