package health

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/c360/semconnect/metric"
)

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	metrics  *metric.Metrics
	system   string
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMetrics records every update on the health gauge of registry.
func WithMetrics(registry *metric.MetricsRegistry) MonitorOption {
	return func(m *Monitor) {
		if registry != nil {
			m.metrics = registry.CoreMetrics()
		}
	}
}

// WithSystemName sets the component name of the aggregate served over HTTP.
func WithSystemName(name string) MonitorOption {
	return func(m *Monitor) { m.system = name }
}

// NewMonitor creates a new health monitor
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{statuses: make(map[string]Status), system: "semconnect"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update stores status under name. The component name is forced to name
// and a missing timestamp is set.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
	m.metrics.RecordHealthStatus(name, status.IsHealthy())
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.statuses)
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := slices.Collect(maps.Values(m.statuses))
	m.mu.RUnlock()
	return Aggregate(systemName, subs)
}

// ListComponents returns the sorted names of all monitored components.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.statuses))
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Clear removes all components from monitoring
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.statuses = make(map[string]Status)
	m.mu.Unlock()
}

// ServeHTTP writes the aggregate status as JSON. Unhealthy systems answer
// with 503.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.AggregateHealth(m.system)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
