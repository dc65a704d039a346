package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/metric"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.Update("press1", Status{Component: "other", Status: LevelHealthy})

	s, ok := m.Get("press1")
	require.True(t, ok)
	assert.Equal(t, "press1", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	m.UpdateDegraded("snmp", "slow")
	m.UpdateUnhealthy("serial", "closed")
	assert.Equal(t, []string{"press1", "serial", "snmp"}, m.ListComponents())
	assert.Equal(t, 3, m.Count())

	all := m.GetAll()
	delete(all, "press1")
	assert.Equal(t, 3, m.Count(), "GetAll returns a copy")

	m.Remove("serial")
	assert.True(t, m.AggregateHealth("sys").IsDegraded())
	m.Clear()
	assert.Zero(t, m.Count())
}

func TestMonitor_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := NewMonitor(WithMetrics(registry))
	m.UpdateHealthy("press1", "ok")
	gauge := registry.CoreMetrics().HealthCheckState.WithLabelValues("press1")
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))
	m.UpdateUnhealthy("press1", "down")
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge))
}

func TestMonitor_ServeHTTP(t *testing.T) {
	m := NewMonitor(WithSystemName("edge-1"))
	m.UpdateHealthy("press1", "ok")

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var s Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "edge-1", s.Component)
	assert.True(t, s.Healthy)

	m.UpdateUnhealthy("snmp", "down")
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("device-%d", i%5)
			m.UpdateHealthy(name, "ok")
			_ = m.AggregateHealth("sys")
			_, _ = m.Get(name)
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, m.Count())
}
