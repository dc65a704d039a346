// Package connectorregistry registers the built-in connectors with an engine:
// their factory entries and the codecs bridging them to the bus.
package connectorregistry

import (
	"errors"
	"strings"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/machine"
	"github.com/c360/semconnect/connector/natsconn"
	"github.com/c360/semconnect/connector/serial"
	"github.com/c360/semconnect/connector/snmp"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/connector/wsconn"
	"github.com/c360/semconnect/engine"
	pkgerrors "github.com/c360/semconnect/errors"
)

// KeyOIDs is the specific setting listing the OIDs an SNMP connector
// monitors, comma separated.
const KeyOIDs = "oids"

// Deps supplies the device access of the built-in connectors. Nil fields
// select the real implementations; the machine connector is only
// registered with a Machine.
type Deps struct {
	Machine      *machine.Machine
	SerialOpener serial.Opener
	SNMPDialer   snmp.Dialer
}

// Register registers the built-in connectors with e. Entries are matched in
// registration order:
//
//   - machine (connector "machine"), JSON machine.Data and machine.Command
//   - serial (connector "serial"), text lines
//   - nats (connector "nats"), raw payloads
//   - websocket (schema ws or wss), JSON objects
//   - snmp and snmp-v3 (connector "snmp" or unset), JSON snmp.Sample and
//     snmp.Variable lists
//
// The SNMP entries accept unversioned parameters and come last.
func Register(e *engine.Engine, deps Deps) error {
	// Nil engine is a programming error (fatal), not invalid input
	if e == nil {
		return pkgerrors.WrapFatal(
			errors.New("engine cannot be nil"),
			"ConnectorRegistry", "Register", "engine validation")
	}
	f := e.Factory()

	if deps.Machine != nil {
		if err := machine.Register(f, deps.Machine); err != nil {
			return pkgerrors.WrapInvalid(err, "ConnectorRegistry", "Register", "machine connector registration")
		}
		e.Bind(machine.Name, engine.Bind(engine.JSONCodec[machine.Data, machine.Command]()))
	}

	open := deps.SerialOpener
	if open == nil {
		open = serial.OpenPort
	}
	if err := serial.Register(f, open); err != nil {
		return pkgerrors.WrapInvalid(err, "ConnectorRegistry", "Register", "serial connector registration")
	}
	e.Bind(serial.Name, engine.Bind(engine.StringCodec()))

	if err := natsconn.Register(f); err != nil {
		return pkgerrors.WrapInvalid(err, "ConnectorRegistry", "Register", "NATS connector registration")
	}
	e.Bind(natsconn.Name, engine.Bind(engine.BytesCodec()))

	if err := wsconn.Register(f); err != nil {
		return pkgerrors.WrapInvalid(err, "ConnectorRegistry", "Register", "websocket connector registration")
	}
	e.Bind(wsconn.Name, engine.Bind(engine.JSONCodec[map[string]any, map[string]any]()))

	dial := deps.SNMPDialer
	if dial == nil {
		dial = snmp.DialGoSNMP
	}
	if err := snmp.Register(f, dial, snmpAdapter); err != nil {
		return pkgerrors.WrapInvalid(err, "ConnectorRegistry", "Register", "SNMP connector registration")
	}
	codec := engine.Bind(engine.JSONCodec[snmp.Sample, []snmp.Variable]())
	e.Bind(snmp.Name, codec)
	e.Bind(snmp.Name+"-v3", codec)

	return nil
}

func snmpAdapter(params connector.Parameter) types.ProtocolAdapter[snmp.Sample, []snmp.Variable, snmp.Sample, []snmp.Variable] {
	return types.NewTranslatingProtocolAdapter(
		types.OutputTranslator[snmp.Sample, snmp.Sample](snmp.MonitorOutput(OIDs(params)...)), snmp.VariablesInput())
}

// OIDs returns the monitored OIDs of params.
func OIDs(params connector.Parameter) []string {
	v, _ := params.Specific(KeyOIDs)
	var oids []string
	for _, oid := range strings.Split(v, ",") {
		if oid = strings.TrimSpace(oid); oid != "" {
			oids = append(oids, oid)
		}
	}
	return oids
}
