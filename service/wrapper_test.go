package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/machine"
	"github.com/c360/semconnect/errors"
)

func newMachineWrapper(t *testing.T, params connector.Parameter) (*ConnectorWrapper[machine.Data, machine.Command], *machine.Connector) {
	t.Helper()
	m, err := machine.New(nil)
	require.NoError(t, err)
	c, err := machine.NewConnector(m, true, connector.WithRegistry(connector.NewRegistry()))
	require.NoError(t, err)
	w := NewConnectorWrapper[machine.Data, machine.Command](
		Descriptor{ID: "press1", Name: "press", Kind: KindSource},
		c, func() connector.Parameter { return params })
	deploy(t, w.Base)
	return w, c
}

func TestConnectorWrapper_Lifecycle(t *testing.T) {
	params := connector.NewParameterBuilder("localhost", 0).NotificationInterval(0).Build()
	w, c := newMachineWrapper(t, params)

	var mu sync.Mutex
	var states []string
	w.SetReceptionCallback(func(d machine.Data) {
		mu.Lock()
		states = append(states, d.State)
		mu.Unlock()
	})
	var sent []machine.Command
	w.SetInputCallback(func(cmd machine.Command) { sent = append(sent, cmd) })

	ctx := context.Background()
	require.NoError(t, w.SetState(ctx, StateStarting))
	assert.Equal(t, StateRunning, w.State())
	assert.True(t, c.IsConnected())
	assert.False(t, c.IsPolling(), "notifications with a zero interval")

	require.NoError(t, w.Send(ctx, machine.Command{Start: true}))
	assert.Len(t, sent, 1)
	mu.Lock()
	assert.Contains(t, states, machine.StateRunning)
	mu.Unlock()

	require.NoError(t, w.SetState(ctx, StateStopping))
	assert.Equal(t, StateStopped, w.State())
	assert.False(t, c.IsConnected())

	err := w.Send(ctx, machine.Command{Stop: true})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.Len(t, sent, 1)

	require.NoError(t, w.SetState(ctx, StateUndeploying))
	assert.ErrorIs(t, c.Connect(ctx, params), errors.ErrDisposed)
}

func TestConnectorWrapper_PollingWithInterval(t *testing.T) {
	params := connector.NewParameterBuilder("localhost", 0).Build()
	w, c := newMachineWrapper(t, params)
	require.NoError(t, w.SetState(context.Background(), StateStarting))
	defer c.Dispose()
	assert.True(t, c.IsPolling())

	require.NoError(t, w.EnableNotifications(true))
	assert.False(t, c.IsPolling())
	require.NoError(t, w.EnablePolling(true))
	assert.True(t, c.IsPolling())
}

func TestConnectorWrapper_ConnectFailure(t *testing.T) {
	params := connector.NewParameterBuilder("localhost", 0).Build()
	w, c := newMachineWrapper(t, params)
	require.NoError(t, c.Dispose())

	err := w.SetState(context.Background(), StateStarting)
	assert.ErrorIs(t, err, errors.ErrDisposed)
	assert.Equal(t, StateFailed, w.State())
}

func TestConnectorWrapper_Paths(t *testing.T) {
	w, _ := newMachineWrapper(t, connector.NewParameterBuilder("localhost", 0).Build())
	assert.Equal(t, "cfg/in", w.InPath("cfg/in"))
	assert.Equal(t, "cfg/out", w.OutPath("cfg/out"))

	require.NoError(t, w.Reconfigure(ValuesFromMap(map[string]string{ParamInPath: "plant/in", ParamOutPath: "plant/out"})))
	assert.Equal(t, "plant/in", w.InPath("cfg/in"))
	assert.Equal(t, "plant/out", w.OutPath("cfg/out"))

	require.NoError(t, w.Reconfigure(Values{{ParamOutPath, ""}}))
	assert.Equal(t, "plant/out", w.OutPath("cfg/out"), "empty paths are ignored")

	t.Setenv("SEMCONNECT_CONNECTOR_PRESS1_INPATH", "env/in")
	require.NoError(t, w.ApplyEnvironment())
	assert.Equal(t, "env/in", w.InPath("cfg/in"))
}
