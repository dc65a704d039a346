package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semconnect"

// Metrics contains all platform-level metrics of the connectivity runtime.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connector metrics
	ConnectorConnected *prometheus.GaugeVec
	ConnectorReads     *prometheus.CounterVec
	ConnectorWrites    *prometheus.CounterVec
	ConnectorErrors    *prometheus.CounterVec
	IdleCleanups       *prometheus.CounterVec
	WriteDuration      *prometheus.HistogramVec

	// Service metrics
	ServiceState     *prometheus.GaugeVec
	Reconfigurations *prometheus.CounterVec

	// Heartbeat metrics
	TrackedDevices   prometheus.Gauge
	DevicesEvicted   prometheus.Counter
	HealthCheckState *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectorConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connector",
				Name:      "connected",
				Help:      "Connector session status (0=disconnected, 1=connected)",
			},
			[]string{"connector"},
		),

		ConnectorReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connector",
				Name:      "records_received_total",
				Help:      "Total number of records delivered to the reception callback",
			},
			[]string{"connector", "source"},
		),

		ConnectorWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connector",
				Name:      "records_written_total",
				Help:      "Total number of records written to the device",
			},
			[]string{"connector"},
		),

		ConnectorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connector",
				Name:      "errors_total",
				Help:      "Total number of errors reported through the connector error hook",
			},
			[]string{"connector", "operation"},
		),

		IdleCleanups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connector",
				Name:      "idle_cleanups_total",
				Help:      "Total number of idle resource reclamations",
			},
			[]string{"connector"},
		),

		WriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "connector",
				Name:      "write_duration_seconds",
				Help:      "Time spent in adapter translation and driver write",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"connector"},
		),

		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "state",
				Help:      "Current service state as ordinal of the service state enumeration",
			},
			[]string{"service"},
		),

		Reconfigurations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "reconfigurations_total",
				Help:      "Total number of reconfiguration requests",
			},
			[]string{"service", "status"},
		),

		TrackedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "heartbeat",
				Name:      "tracked_devices",
				Help:      "Number of devices currently tracked by the heartbeat watcher",
			},
		),

		DevicesEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "heartbeat",
				Name:      "devices_evicted_total",
				Help:      "Total number of devices evicted for missing heartbeats",
			},
		),

		HealthCheckState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectorConnected,
		c.ConnectorReads,
		c.ConnectorWrites,
		c.ConnectorErrors,
		c.IdleCleanups,
		c.WriteDuration,
		c.ServiceState,
		c.Reconfigurations,
		c.TrackedDevices,
		c.DevicesEvicted,
		c.HealthCheckState,
	}
}

// RecordConnected updates the connector session gauge
func (c *Metrics) RecordConnected(connector string, connected bool) {
	if c == nil {
		return
	}
	c.ConnectorConnected.WithLabelValues(connector).Set(boolValue(connected))
}

// RecordReceived increments the reception counter, source is "poll", "notification" or "request"
func (c *Metrics) RecordReceived(connector, source string) {
	if c == nil {
		return
	}
	c.ConnectorReads.WithLabelValues(connector, source).Inc()
}

// RecordWrite increments the write counter and observes the write duration
func (c *Metrics) RecordWrite(connector string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ConnectorWrites.WithLabelValues(connector).Inc()
	c.WriteDuration.WithLabelValues(connector).Observe(duration.Seconds())
}

// RecordError increments the connector error counter
func (c *Metrics) RecordError(connector, operation string) {
	if c == nil {
		return
	}
	c.ConnectorErrors.WithLabelValues(connector, operation).Inc()
}

// RecordIdleCleanup increments the idle cleanup counter
func (c *Metrics) RecordIdleCleanup(connector string) {
	if c == nil {
		return
	}
	c.IdleCleanups.WithLabelValues(connector).Inc()
}

// RecordServiceState updates the service state gauge
func (c *Metrics) RecordServiceState(service string, state int) {
	if c == nil {
		return
	}
	c.ServiceState.WithLabelValues(service).Set(float64(state))
}

// RecordReconfiguration counts a reconfiguration request with its outcome
func (c *Metrics) RecordReconfiguration(service string, success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	c.Reconfigurations.WithLabelValues(service, status).Inc()
}

// RecordTrackedDevices updates the tracked device gauge
func (c *Metrics) RecordTrackedDevices(count int) {
	if c == nil {
		return
	}
	c.TrackedDevices.Set(float64(count))
}

// RecordEviction increments the eviction counter
func (c *Metrics) RecordEviction() {
	if c == nil {
		return
	}
	c.DevicesEvicted.Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthCheckState.WithLabelValues(component).Set(boolValue(healthy))
}

func boolValue(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
