package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Credential metrics
	CodesIssued     *prometheus.CounterVec
	CodeVerdicts    *prometheus.CounterVec
	DeliveryResults *prometheus.CounterVec

	// Emergency session metrics
	EmergencyGrants  prometheus.Counter
	EmergencyDenials *prometheus.CounterVec
	SessionsRevoked  prometheus.Counter
	SessionsExpired  prometheus.Counter
	AccessDecisions  *prometheus.CounterVec
	AuthorizeLatency prometheus.Histogram

	// Audit metrics
	AuditEventsWritten prometheus.Counter
	AuditWriteFailures prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Worker metrics
	SweeperRuns   *prometheus.CounterVec
	SweptSessions prometheus.Counter
	PurgedEvents  prometheus.Counter
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CodesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_issued_total",
			Help:      "Total number of one-time codes issued",
		}, []string{"purpose"}),
		CodeVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_verifications_total",
			Help:      "Total number of one-time code verification attempts",
		}, []string{"purpose", "verdict"}),
		DeliveryResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_deliveries_total",
			Help:      "Total number of out-of-band code delivery attempts",
		}, []string{"channel", "status"}),

		EmergencyGrants: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_grants_total",
			Help:      "Total number of emergency access sessions granted",
		}),
		EmergencyDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_denials_total",
			Help:      "Total number of denied emergency access requests",
		}, []string{"reason"}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Total number of emergency sessions revoked",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of emergency sessions expired",
		}),
		AccessDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_decisions_total",
			Help:      "Total number of access decisions on patient resources",
		}, []string{"outcome", "reason"}),
		AuthorizeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authorize_duration_seconds",
			Help:      "Time spent evaluating access decisions",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		AuditEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_written_total",
			Help:      "Total number of audit events written",
		}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Total number of audit writes that failed and were swallowed",
		}),

		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		SweeperRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_runs_total",
			Help:      "Total number of background sweeper runs",
		}, []string{"sweeper", "status"}),
		SweptSessions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_sessions_total",
			Help:      "Total number of overdue sessions flipped to expired by the sweeper",
		}),
		PurgedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_audit_events_total",
			Help:      "Total number of audit events purged by retention",
		}),
	}
}
