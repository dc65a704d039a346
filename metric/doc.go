// Package metric provides Prometheus-based metrics collection and an HTTP
// endpoint for the connectivity runtime.
//
// A MetricsRegistry owns a private Prometheus registry with the core platform
// metrics (connector sessions, receptions, writes, errors, idle cleanups,
// service states, reconfigurations and heartbeat tracking) already registered.
// Drivers that want additional metrics register them via MetricsRegistrar.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(5 * time.Second)
//
//	registry.CoreMetrics().RecordConnected("snmp-1", true)
//
// A nil *Metrics is a valid no-op, so components accept an optional registry
// and call the Record helpers unconditionally.
package metric
