package metric

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().RecordConnected("plc", true)
	names := gatheredNames(t, registry)
	assert.True(t, names["semconnect_connector_connected"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("snmp", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("svc", "dup_gauge", gauge))

	err := registry.RegisterGauge("svc", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	err = registry.RegisterGauge("other", "dup_gauge", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vec_total", Help: "vec"}, []string{"l"})
	require.NoError(t, registry.RegisterCounterVec("svc", "vec_total", vec))

	assert.True(t, registry.Unregister("svc", "vec_total"))
	assert.False(t, registry.Unregister("svc", "vec_total"))

	// can register again after removal
	require.NoError(t, registry.RegisterCounterVec("svc", "vec_total", vec))
}

func TestMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordReceived("plc", "poll")
	m.RecordReceived("plc", "poll")
	m.RecordWrite("plc", 10*time.Millisecond)
	m.RecordError("plc", "read")
	m.RecordIdleCleanup("plc")
	m.RecordServiceState("svc", 4)
	m.RecordReconfiguration("svc", false)
	m.RecordTrackedDevices(3)
	m.RecordEviction()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectorReads.WithLabelValues("plc", "poll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectorWrites.WithLabelValues("plc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectorErrors.WithLabelValues("plc", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdleCleanups.WithLabelValues("plc")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ServiceState.WithLabelValues("svc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconfigurations.WithLabelValues("svc", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrackedDevices))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DevicesEvicted))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConnected("x", true)
		m.RecordReceived("x", "poll")
		m.RecordWrite("x", time.Second)
		m.RecordError("x", "write")
		m.RecordIdleCleanup("x")
		m.RecordServiceState("x", 1)
		m.RecordReconfiguration("x", true)
		m.RecordTrackedDevices(1)
		m.RecordEviction()
		m.RecordHealthStatus("x", true)
	})

	var r *MetricsRegistry
	assert.Nil(t, r.CoreMetrics())
}

func TestServer_StartStop(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordEviction()

	server := NewServer("127.0.0.1:0", "/metrics", registry)
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop(time.Second) }()

	require.Error(t, server.Start())

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "semconnect_heartbeat_devices_evicted_total")
}
