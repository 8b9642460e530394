// Package metrics exposes Heron's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heron"

var (
	// eventsProcessed counts queue events by type and outcome (ok, invalid, error).
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "events_processed_total",
		Help:      "Queue events processed by type and outcome",
	}, []string{"type", "status"})

	infractionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "infractions_applied_total",
		Help:      "Infractions applied to users by severity",
	}, []string{"severity"})

	riskScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	manualOverrides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manual_overrides_total",
		Help:      "Manual risk score overrides by outcome (accepted, rejected)",
	}, []string{"status"})

	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Escalation decisions by action",
	}, []string{"action"})

	actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_actions_total",
		Help:      "Recorded moderation actions by kind and source",
	}, []string{"kind", "source"})

	ruleAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "alerts_total",
		Help:      "Users flagged by at least one rule",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by tier (local, redis) and result (hit, miss)",
	}, []string{"tier", "result"})

	rewardPoints = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rewards",
		Name:      "points_awarded_total",
		Help:      "Reputation points awarded",
	})

	milestones = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rewards",
		Name:      "milestones_reached_total",
		Help:      "Reputation milestones reached by threshold",
	}, []string{"milestone"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "websocket_clients",
		Help:      "Connected dashboard WebSocket clients",
	})
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a processed queue event.
func RecordEvent(eventType, status string) {
	eventsProcessed.WithLabelValues(eventType, status).Inc()
}

// RecordInfraction records an applied infraction and the resulting score.
func RecordInfraction(severity string, score int) {
	infractionsApplied.WithLabelValues(severity).Inc()
	riskScores.Observe(float64(score))
}

// RecordScore records a recomputed risk score.
func RecordScore(score int) {
	riskScores.Observe(float64(score))
}

// RecordOverride records a manual score override attempt.
func RecordOverride(accepted bool) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	manualOverrides.WithLabelValues(status).Inc()
}

// RecordEscalation records an escalation decision.
func RecordEscalation(action string) {
	escalations.WithLabelValues(action).Inc()
}

// RecordAction records a stored moderation action.
func RecordAction(kind, source string) {
	actions.WithLabelValues(kind, source).Inc()
}

// RecordAlert records a rule alert.
func RecordAlert() {
	ruleAlerts.Inc()
}

// ObserveRequest records the latency of an HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordCacheLookup records a cache lookup on tier.
func RecordCacheLookup(tier string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordReward records awarded points and the milestones they crossed.
func RecordReward(points int, reached ...int) {
	rewardPoints.Add(float64(points))
	for _, m := range reached {
		milestones.WithLabelValues(strconv.Itoa(m)).Inc()
	}
}

// ClientConnected tracks a WebSocket client joining.
func ClientConnected() { wsClients.Inc() }

// ClientDisconnected tracks a WebSocket client leaving.
func ClientDisconnected() { wsClients.Dec() }
