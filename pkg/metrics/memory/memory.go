// Package memory provides an in-memory metrics collector for asserting
// on recorded samples in tests.
package memory

import (
	"sync"
	"time"

	"wallet-engine/pkg/metrics"
)

// MemoryCollector implements metrics.MetricsCollector with plain counters.
type MemoryCollector struct {
	mu sync.RWMutex

	operations     map[string]map[string]int64 // operation -> outcome -> count
	authorizations map[string]int64            // outcome -> count
	circuitState   metrics.CircuitState
	circuitOpens   int64

	notificationsDelivered int64
	notificationsFailed    int64
	notificationsDropped   int64
	queueDepth             int

	directoryHits   int64
	directoryMisses int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		operations:     make(map[string]map[string]int64),
		authorizations: make(map[string]int64),
	}
}

// RecordOperation records one completed engine operation.
func (mc *MemoryCollector) RecordOperation(op string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, ok := mc.operations[op]; !ok {
		mc.operations[op] = make(map[string]int64)
	}
	mc.operations[op][outcome]++
}

// RecordAuthorization records one authorization gate round trip.
func (mc *MemoryCollector) RecordAuthorization(outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.authorizations[outcome]++
}

// RecordCircuitState records the circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.circuitState = state
	if state == metrics.CircuitOpen {
		mc.circuitOpens++
	}
}

// RecordNotification records one notification delivery outcome.
func (mc *MemoryCollector) RecordNotification(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if success {
		mc.notificationsDelivered++
	} else {
		mc.notificationsFailed++
	}
}

// RecordNotificationDropped records a dropped notification.
func (mc *MemoryCollector) RecordNotificationDropped() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.notificationsDropped++
}

// RecordQueueDepth records the current notifier queue depth.
func (mc *MemoryCollector) RecordQueueDepth(depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.queueDepth = depth
}

// RecordDirectoryLookup records an account directory lookup.
func (mc *MemoryCollector) RecordDirectoryLookup(hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if hit {
		mc.directoryHits++
	} else {
		mc.directoryMisses++
	}
}

// OperationCount returns the recorded count for an operation/outcome pair.
func (mc *MemoryCollector) OperationCount(op, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if m, ok := mc.operations[op]; ok {
		return m[outcome]
	}
	return 0
}

// AuthorizationCount returns the recorded count for an authorization outcome.
func (mc *MemoryCollector) AuthorizationCount(outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.authorizations[outcome]
}

// NotificationCounts returns delivered, failed and dropped totals.
func (mc *MemoryCollector) NotificationCounts() (delivered, failed, dropped int64) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.notificationsDelivered, mc.notificationsFailed, mc.notificationsDropped
}

// DirectoryCounts returns hit and miss totals.
func (mc *MemoryCollector) DirectoryCounts() (hits, misses int64) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.directoryHits, mc.directoryMisses
}
