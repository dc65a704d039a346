// Package engine runs configured connectors as services and bridges them to
// NATS.
//
// Each enabled entry of config.Config.Connectors becomes an Instance. Deploy
// resolves the factory entry for the connector parameters, creates the
// connector and wraps it in a service.ConnectorWrapper, which is then walked
// from UNKNOWN to CREATED. Start subscribes the input subject and connects
// with retries; a failed connect leaves the service FAILED and the next
// attempt passes it through STOPPING again.
//
// # Subjects
//
// Device data is encoded by the instance's Codec and published on
//
//	semconnect.<platform>.<id>.out
//
// and payloads received on semconnect.<platform>.<id>.in are decoded and
// written to the device. Both subjects can be replaced through the outPath and
// inPath service parameters, from the connector configuration or from
// SEMCONNECT_CONNECTOR_<ID>_OUTPATH and _INPATH. Requests on the input subject
// are answered with "ok" or the error text.
//
// Every published datum is followed by a heartbeat.MetricsRecord on
// heartbeat.StreamServiceMetrics; start and stop publish ADDED and REMOVED
// status messages on heartbeat.StreamStatus.
//
// # Binding
//
// The engine knows nothing about concrete connector types. A Binder is
// registered per factory entry name with Bind and produces the typed instance:
//
//	e.Bind("machine", engine.Bind(engine.JSONCodec[machine.Data, machine.Command]()))
//
// Deploying a connector whose factory entry has no binder fails with
// errors.ErrUnknownType.
package engine
