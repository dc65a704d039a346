package connectorregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/config"
	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/machine"
	"github.com/c360/semconnect/engine"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/service"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	m, err := machine.New(nil)
	require.NoError(t, err)
	reg := connector.NewRegistry()
	e, err := engine.NewEngine(engine.Deps{Factory: connector.NewFactory(reg), Registry: reg, Platform: "test"})
	require.NoError(t, err)
	require.NoError(t, Register(e, Deps{Machine: m}))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func TestRegister_NilEngine(t *testing.T) {
	err := Register(nil, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestRegister_Order(t *testing.T) {
	e := newEngine(t)
	assert.Equal(t, []string{"machine", "serial", "nats", "websocket", "snmp-v3", "snmp"}, e.Factory().Names())

	err := Register(e, Deps{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig, "entries are registered once")
}

func TestRegister_WithoutMachine(t *testing.T) {
	e, err := engine.NewEngine(engine.Deps{Factory: connector.NewFactory(nil)})
	require.NoError(t, err)
	require.NoError(t, Register(e, Deps{}))
	assert.NotContains(t, e.Factory().Names(), "machine")
}

func TestRegister_DeployEveryType(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	configs := map[string]struct {
		cc    config.ConnectorConfig
		entry string
	}{
		"press":  {config.ConnectorConfig{Type: "machine"}, "machine"},
		"scale":  {config.ConnectorConfig{Type: "serial", Host: "/dev/ttyUSB0"}, "serial"},
		"mirror": {config.ConnectorConfig{Type: "nats", Host: "bus", Subjects: []string{"plant.>"}}, "nats"},
		"hmi":    {config.ConnectorConfig{Type: "websocket", Host: "hmi", Port: 8081}, "websocket"},
		"switch": {config.ConnectorConfig{Type: "snmp", Host: "10.0.0.2", ProtocolVersion: "2c"}, "snmp"},
		"router": {config.ConnectorConfig{Type: "snmp", Host: "10.0.0.3", ProtocolVersion: "3", Username: "ops"}, "snmp-v3"},
	}
	for id, tt := range configs {
		t.Run(id, func(t *testing.T) {
			entry, ok := e.Factory().Resolve(tt.cc.Parameter())
			require.True(t, ok)
			assert.Equal(t, tt.entry, entry)

			require.NoError(t, e.Deploy(ctx, id, tt.cc))
			inst, ok := e.Instance(id)
			require.True(t, ok)
			assert.Equal(t, service.StateCreated, inst.State())
		})
	}

	err := e.Deploy(ctx, "plc", config.ConnectorConfig{Type: "opcua", Host: "plc"})
	assert.ErrorIs(t, err, errors.ErrUnknownType)
}

func TestOIDs(t *testing.T) {
	params := connector.NewParameterBuilder("h", 161).Specific(KeyOIDs, " .1.3.6.1.2.1.1.5.0, ,.1.3.6.1.2.1.1.3.0").Build()
	assert.Equal(t, []string{".1.3.6.1.2.1.1.5.0", ".1.3.6.1.2.1.1.3.0"}, OIDs(params))
	assert.Empty(t, OIDs(connector.NewParameterBuilder("h", 161).Build()))
}
