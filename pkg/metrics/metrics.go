// Package metrics defines the collector interface the wallet engine
// reports into. Implementations export to Prometheus or keep counts
// in memory for tests.
package metrics

import (
	"time"
)

// MetricsCollector receives operational measurements from the engine
// and its collaborators.
type MetricsCollector interface {
	// RecordOperation records one completed engine operation
	// (op: "deposit" or "transfer") with its outcome label.
	RecordOperation(op string, outcome string, duration time.Duration)

	// RecordAuthorization records one authorization gate round trip
	// (outcome: "approved", "denied" or "unavailable").
	RecordAuthorization(outcome string, duration time.Duration)

	// Circuit breaker on the authorization gate.
	RecordCircuitState(state CircuitState)

	// Completion notifier.
	RecordNotification(success bool, duration time.Duration)
	RecordNotificationDropped()
	RecordQueueDepth(depth int)

	// Account directory lookups.
	RecordDirectoryLookup(hit bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means requests are flowing through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means requests are being rejected.
	CircuitOpen
	// CircuitHalfOpen means the breaker is probing for recovery.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is the default collector when metrics are not wired.
type NoOpCollector struct{}

// RecordOperation does nothing.
func (NoOpCollector) RecordOperation(op string, outcome string, duration time.Duration) {}

// RecordAuthorization does nothing.
func (NoOpCollector) RecordAuthorization(outcome string, duration time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(state CircuitState) {}

// RecordNotification does nothing.
func (NoOpCollector) RecordNotification(success bool, duration time.Duration) {}

// RecordNotificationDropped does nothing.
func (NoOpCollector) RecordNotificationDropped() {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(depth int) {}

// RecordDirectoryLookup does nothing.
func (NoOpCollector) RecordDirectoryLookup(hit bool, duration time.Duration) {}
