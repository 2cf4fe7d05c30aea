// Package telemetry holds the Prometheus metrics for a log-server
// process and the HTTP endpoint that exposes them, mirroring the
// teacher's internal/metrics/prometheus.go plus
// internal/server/metrics_server.go.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric this subsystem exposes.
type Metrics struct {
	PushRequestsTotal      prometheus.Counter
	PushRequestsDuration   prometheus.Histogram
	PushAntiQuorumWait     prometheus.Histogram
	PushBytesTotal         prometheus.Counter
	PushQuorumFailuresTotal prometheus.Counter

	PeekCursorsActive  prometheus.Gauge
	PeekMessagesTotal  prometheus.Counter
	PeekGetMoreDuration prometheus.Histogram

	PolicySelectionFailuresTotal prometheus.CounterVec

	RecoveryDuration       prometheus.Histogram
	RecoveryFencedServers  prometheus.Counter
	RecoveryEpochsTotal    prometheus.Counter

	MembershipPresentServers prometheus.Gauge
	MembershipAbsentServers  prometheus.Gauge
}

// NewMetrics creates and registers every metric, tagged with this
// process's node ID the way the teacher's NewMetrics does.
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		PushRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "push",
			Name:        "requests_total",
			Help:        "Total number of push commits accepted",
			ConstLabels: labels,
		}),
		PushRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "txlog",
			Subsystem:   "push",
			Name:        "duration_seconds",
			Help:        "Histogram of push commit durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		PushAntiQuorumWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "txlog",
			Subsystem:   "push",
			Name:        "anti_quorum_wait_seconds",
			Help:        "Histogram of time spent waiting for a log set's read quorum of acks",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		PushBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "push",
			Name:        "bytes_total",
			Help:        "Total bytes pushed across all log servers",
			ConstLabels: labels,
		}),
		PushQuorumFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "push",
			Name:        "quorum_failures_total",
			Help:        "Total number of pushes that failed to reach a log set's read quorum",
			ConstLabels: labels,
		}),

		PeekCursorsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txlog",
			Subsystem:   "peek",
			Name:        "cursors_active",
			Help:        "Current number of open peek cursors",
			ConstLabels: labels,
		}),
		PeekMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "peek",
			Name:        "messages_total",
			Help:        "Total number of messages served to peek cursors",
			ConstLabels: labels,
		}),
		PeekGetMoreDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "txlog",
			Subsystem:   "peek",
			Name:        "get_more_duration_seconds",
			Help:        "Histogram of GetMore round-trip durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		PolicySelectionFailuresTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "policy",
			Name:        "selection_failures_total",
			Help:        "Total number of placement or quorum selections the policy engine could not satisfy, by locality",
			ConstLabels: labels,
		}, []string{"locality"}),

		RecoveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "txlog",
			Subsystem:   "recovery",
			Name:        "duration_seconds",
			Help:        "Histogram of epoch recovery durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RecoveryFencedServers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "recovery",
			Name:        "fenced_servers_total",
			Help:        "Total number of log servers successfully fenced during recovery",
			ConstLabels: labels,
		}),
		RecoveryEpochsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "txlog",
			Subsystem:   "recovery",
			Name:        "epochs_total",
			Help:        "Total number of epoch transitions completed",
			ConstLabels: labels,
		}),

		MembershipPresentServers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txlog",
			Subsystem:   "membership",
			Name:        "present_servers",
			Help:        "Current number of log servers considered present",
			ConstLabels: labels,
		}),
		MembershipAbsentServers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txlog",
			Subsystem:   "membership",
			Name:        "absent_servers",
			Help:        "Current number of log servers considered absent",
			ConstLabels: labels,
		}),
	}
}

// RecordPush records metrics for one completed push commit.
func (m *Metrics) RecordPush(durationSeconds, antiQuorumWaitSeconds float64, bytes int) {
	m.PushRequestsTotal.Inc()
	m.PushRequestsDuration.Observe(durationSeconds)
	m.PushAntiQuorumWait.Observe(antiQuorumWaitSeconds)
	m.PushBytesTotal.Add(float64(bytes))
}

// RecordPushQuorumFailure records a push that could not reach a log
// set's read quorum.
func (m *Metrics) RecordPushQuorumFailure() {
	m.PushQuorumFailuresTotal.Inc()
}

// RecordPeekMessage records one message served to a peek cursor.
func (m *Metrics) RecordPeekMessage() {
	m.PeekMessagesTotal.Inc()
}

// RecordGetMore records one GetMore round trip's duration.
func (m *Metrics) RecordGetMore(durationSeconds float64) {
	m.PeekGetMoreDuration.Observe(durationSeconds)
}

// RecordPolicySelectionFailure records a placement or quorum selection
// the policy engine could not satisfy for the given locality.
func (m *Metrics) RecordPolicySelectionFailure(locality string) {
	m.PolicySelectionFailuresTotal.WithLabelValues(locality).Inc()
}

// RecordRecovery records one completed epoch recovery.
func (m *Metrics) RecordRecovery(durationSeconds float64, fencedServers int) {
	m.RecoveryDuration.Observe(durationSeconds)
	m.RecoveryFencedServers.Add(float64(fencedServers))
	m.RecoveryEpochsTotal.Inc()
}

// UpdateMembership updates the current present/absent server gauges.
func (m *Metrics) UpdateMembership(present, absent int) {
	m.MembershipPresentServers.Set(float64(present))
	m.MembershipAbsentServers.Set(float64(absent))
}
