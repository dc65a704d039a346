// Package semconnect is an edge connectivity runtime. It attaches to devices
// through their native protocols, converts their data into typed platform
// values and runs every device connection as a lifecycle-controlled service
// bridged to NATS.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          Engine                     │  Deploy, start, stop,
//	│  (engine, connectorregistry)        │  undeploy instances
//	└─────────────────────────────────────┘
//	           ↓ runs
//	┌─────────────────────────────────────┐
//	│     Connector services              │  State machine,
//	│  (service.ConnectorWrapper)         │  reconfiguration
//	└─────────────────────────────────────┘
//	           ↓ wraps
//	┌─────────────────────────────────────┐
//	│         Connectors                  │  machine, serial, nats,
//	│  (connector, types, model)          │  websocket, snmp
//	└─────────────────────────────────────┘
//
// Device data flows out of a connector through its protocol adapter, is
// encoded by the engine and published on semconnect.<platform>.<id>.out.
// Payloads received on semconnect.<platform>.<id>.in travel the reverse way
// and are written to the device.
//
// # Packages
//
//   - connector: connector lifecycle, registry, polling and idle cleanup
//     runtime, and the factory that selects implementations by parameters
//   - connector/model: qualified-name access to device information models
//   - connector/types: type translators and protocol adapters
//   - connector/machine, serial, natsconn, wsconn, snmp: connector
//     implementations
//   - service: service states, transactional reconfiguration and the
//     connector wrapper
//   - heartbeat: last-seen tracking of devices with timeout eviction
//   - engine: instance deployment and bus bridging
//   - connectorregistry: registration of all built-in connectors
//   - config: YAML configuration with environment overrides
//   - natsclient, metric, health: bus client, Prometheus metrics and
//     health reporting
//
// # Running
//
//	semconnect --config configs/semconnect.yaml
//
// Run semconnect --help for all flags and environment variables.
package semconnect
