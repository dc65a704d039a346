// Package config loads the semconnect configuration.
//
// A configuration names the platform, the NATS connection, the metrics and
// health endpoints, the heartbeat watcher and the connector instances to run.
// Files are JSON or YAML, chosen by extension, and are merged in layers with
// last-wins semantics before environment overrides are applied.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/site.json") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Connectors
//
// Each entry under "connectors" is keyed by instance id and selects a factory
// entry by type:
//
//	connectors:
//	  press-1:
//	    type: serial
//	    enabled: true
//	    host: /dev/ttyUSB0
//	    notification_interval: 0s
//	    specific:
//	      baudrate: 19200
//	      delimiter: "\r\n"
//
// ConnectorConfig.Parameter turns a section into connector.Parameter.
// Durations are strings such as "500ms" or "2d"; an omitted duration keeps the
// connector default.
//
// # Environment Variable Overrides
//
//	export SEMCONNECT_PLATFORM_ID="plant-7"
//	export SEMCONNECT_NATS_URLS="nats://a:4222,nats://b:4222"
//	export SEMCONNECT_METRICS_PORT=9191
//	export SEMCONNECT_HEARTBEAT_TIMEOUT=10s
//
// # Security
//
// Files larger than 10MB, JSON nested deeper than 100 levels, non-regular
// files and relative paths escaping the working directory are rejected.
package config
