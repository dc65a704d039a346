// Package health tracks the health of connectors, connector services and
// monitored devices.
//
// A Status is healthy, degraded or unhealthy and carries a message, a
// timestamp and optional sub-statuses. The Monitor keeps the latest status
// per name, aggregates them into a system status and serves that status as
// JSON over HTTP:
//
//	monitor := health.NewMonitor(health.WithMetrics(registry))
//	monitor.UpdateHealthy("opcua-press1", "Connected")
//	monitor.Update("snmp-switch", health.FromError("snmp-switch", err))
//	http.Handle("/health", monitor)
//
// Aggregation is pessimistic: one unhealthy sub-status makes the aggregate
// unhealthy, otherwise one degraded sub-status makes it degraded.
//
// Error messages passed through FromError are sanitized. URLs, file paths,
// IP addresses, ports and credential assignments are replaced with
// placeholders, since device addresses and secrets end up in connection
// errors and health output is commonly exposed without authentication.
package health
