package prometheus

import (
	"time"

	"wallet-engine/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	authorizations *prometheus.CounterVec
	authLatency    prometheus.Histogram
	circuitState   prometheus.Gauge
	circuitOpens   prometheus.Counter

	notifications       *prometheus.CounterVec
	notificationLatency prometheus.Histogram
	droppedNotifies     prometheus.Counter
	queueDepth          prometheus.Gauge

	directoryLookups *prometheus.CounterVec
	directoryLatency prometheus.Histogram
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total engine operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
			[]string{"operation"},
		),
		authorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorizations_total",
				Help:      "Total authorization gate calls by outcome",
			},
			[]string{"outcome"},
		),
		authLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authorization_duration_seconds",
				Help:      "Authorization gate round-trip latency including retries",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "authorizer_circuit_state",
				Help:      "Authorizer circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		circuitOpens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorizer_circuit_opens_total",
				Help:      "Total authorizer circuit breaker opens",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total completion notifications by delivery status",
			},
			[]string{"status"},
		),
		notificationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Completion notification delivery latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		droppedNotifies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Total notifications dropped due to queue backpressure",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_queue_depth",
				Help:      "Current completion notifier queue depth",
			},
		),
		directoryLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "directory_lookups_total",
				Help:      "Total account directory lookups by cache result",
			},
			[]string{"result"},
		),
		directoryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "directory_lookup_duration_seconds",
				Help:      "Account directory lookup latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		pc.operations,
		pc.operationLatency,
		pc.authorizations,
		pc.authLatency,
		pc.circuitState,
		pc.circuitOpens,
		pc.notifications,
		pc.notificationLatency,
		pc.droppedNotifies,
		pc.queueDepth,
		pc.directoryLookups,
		pc.directoryLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordOperation records one completed engine operation.
func (pc *PrometheusCollector) RecordOperation(op string, outcome string, duration time.Duration) {
	pc.operations.WithLabelValues(op, outcome).Inc()
	pc.operationLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAuthorization records one authorization gate round trip.
func (pc *PrometheusCollector) RecordAuthorization(outcome string, duration time.Duration) {
	pc.authorizations.WithLabelValues(outcome).Inc()
	pc.authLatency.Observe(duration.Seconds())
}

// RecordCircuitState records the authorizer circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(state metrics.CircuitState) {
	pc.circuitState.Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.Inc()
	}
}

// RecordNotification records one notification delivery attempt outcome.
func (pc *PrometheusCollector) RecordNotification(success bool, duration time.Duration) {
	status := "delivered"
	if !success {
		status = "failed"
	}
	pc.notifications.WithLabelValues(status).Inc()
	pc.notificationLatency.Observe(duration.Seconds())
}

// RecordNotificationDropped records a notification dropped under backpressure.
func (pc *PrometheusCollector) RecordNotificationDropped() {
	pc.droppedNotifies.Inc()
}

// RecordQueueDepth records the current notifier queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(depth int) {
	pc.queueDepth.Set(float64(depth))
}

// RecordDirectoryLookup records an account directory lookup.
func (pc *PrometheusCollector) RecordDirectoryLookup(hit bool, duration time.Duration) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	pc.directoryLookups.WithLabelValues(result).Inc()
	pc.directoryLatency.Observe(duration.Seconds())
}
