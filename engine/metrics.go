package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semconnect/metric"
)

// engineMetrics holds Prometheus metrics for instance lifecycle operations.
type engineMetrics struct {
	deploys *prometheus.CounterVec // By instance and status (success/failure)
	starts  *prometheus.CounterVec
	stops   *prometheus.CounterVec

	startDuration *prometheus.HistogramVec // By instance

	bridged *prometheus.CounterVec // By instance and direction (out/in)

	activeInstances prometheus.Gauge
}

// newEngineMetrics creates and registers the engine metrics with registry.
func newEngineMetrics(registry metric.MetricsRegistrar) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semconnect",
			Subsystem: "engine",
			Name:      "deploys_total",
			Help:      "Total number of instance deploy operations",
		}, []string{"instance", "status"}),

		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semconnect",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Total number of instance start operations",
		}, []string{"instance", "status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semconnect",
			Subsystem: "engine",
			Name:      "stops_total",
			Help:      "Total number of instance stop operations",
		}, []string{"instance", "status"}),

		startDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semconnect",
			Subsystem: "engine",
			Name:      "start_duration_seconds",
			Help:      "Instance start duration in seconds, including connect retries",
			Buckets:   []float64{0.01, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"instance"}),

		bridged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semconnect",
			Subsystem: "engine",
			Name:      "bridged_messages_total",
			Help:      "Messages moved between connectors and the bus",
		}, []string{"instance", "direction"}),

		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semconnect",
			Subsystem: "engine",
			Name:      "active_instances",
			Help:      "Current number of running connector instances",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "deploys", m.deploys); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "start_duration", m.startDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "bridged", m.bridged); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "active_instances", m.activeInstances); err != nil {
		return nil, err
	}

	return m, nil
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *engineMetrics) recordDeploy(id string, success bool) {
	if m == nil {
		return
	}
	m.deploys.WithLabelValues(id, status(success)).Inc()
}

func (m *engineMetrics) recordStart(id string, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(id, status(success)).Inc()
	m.startDuration.WithLabelValues(id).Observe(seconds)
	if success {
		m.activeInstances.Inc()
	}
}

func (m *engineMetrics) recordStop(id string, success bool) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(id, status(success)).Inc()
	if success {
		m.activeInstances.Dec()
	}
}

func (m *engineMetrics) recordBridged(id, direction string) {
	if m == nil {
		return
	}
	m.bridged.WithLabelValues(id, direction).Inc()
}
