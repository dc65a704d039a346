// Package service provides the service lifecycle used to run connectors.
//
// A service moves through the states of State along the transitions returned
// by State.Targets. Base implements the state machine: entering a state runs
// the hook registered for it, and a hook may name a follow-up state. A failing
// hook moves the service to FAILED where that transition is allowed.
//
// The usual path of a deployed connector is
//
//	UNKNOWN → AVAILABLE → DEPLOYING → CREATED → STARTING → RUNNING
//	RUNNING → STOPPING → STOPPED → UNDEPLOYING
//
// Activate and Passivate cycle a running service through PASSIVATING and
// ACTIVATING.
//
// # Parameters
//
// Runtime parameters are set through Configurers. A ParameterConfigurer
// converts the textual value with a type translator before applying it and
// can fall back to an environment variable:
//
//	b.AddConfigurers(
//	    service.NewParameterConfigurer("rate", types.Int(), setRate).
//	        WithEnv("SEMCONNECT_RATE"),
//	)
//	err := b.Reconfigure(service.Values{{Name: "rate", Value: "5"}})
//
// With rollback enabled, the default, Reconfigure applies all values or none
// of them.
//
// # Connector services
//
// ConnectorWrapper runs a connector as a service: STARTING connects,
// STOPPING disconnects and UNDEPLOYING disposes the connector. The wrapper
// adds the inPath and outPath parameters naming the bus subjects of the
// service.
package service
