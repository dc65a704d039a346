package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/semconnect/errors"
)

// MetricsRegistrar defines the interface for registering connector-specific metrics
type MetricsRegistrar interface {
	RegisterCounter(owner, metricName string, counter prometheus.Counter) error
	RegisterGauge(owner, metricName string, gauge prometheus.Gauge) error
	RegisterCounterVec(owner, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(owner, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(owner, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(owner, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with the core platform metrics
// and the Go runtime collectors registered.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
		Metrics:            NewMetrics(),
	}

	registry.prometheusRegistry.MustRegister(registry.Metrics.collectors()...)
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core platform metrics. Safe on a nil registry.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// RegisterCounter registers a counter metric for an owner (connector or service name)
func (r *MetricsRegistry) RegisterCounter(owner, metricName string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", owner, metricName, counter)
}

// RegisterGauge registers a gauge metric for an owner
func (r *MetricsRegistry) RegisterGauge(owner, metricName string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", owner, metricName, gauge)
}

// RegisterCounterVec registers a counter vector metric for an owner
func (r *MetricsRegistry) RegisterCounterVec(owner, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", owner, metricName, counterVec)
}

// RegisterGaugeVec registers a gauge vector metric for an owner
func (r *MetricsRegistry) RegisterGaugeVec(owner, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", owner, metricName, gaugeVec)
}

// RegisterHistogramVec registers a histogram vector metric for an owner
func (r *MetricsRegistry) RegisterHistogramVec(owner, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", owner, metricName, histogramVec)
}

func (r *MetricsRegistry) register(method, owner, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", metricName, owner),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "prometheus registration")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a metric from the registry
func (r *MetricsRegistry) Unregister(owner, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, metricName)

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	if !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.registeredMetrics, key)
	return true
}
