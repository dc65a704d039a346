package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/config"
	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/machine"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/health"
	"github.com/c360/semconnect/heartbeat"
	"github.com/c360/semconnect/metric"
	"github.com/c360/semconnect/natsclient"
	"github.com/c360/semconnect/pkg/retry"
	"github.com/c360/semconnect/service"
)

// flakyDriver fails the first failures connects.
type flakyDriver struct {
	mu       sync.Mutex
	failures int
	connects int
	written  []string
}

func (d *flakyDriver) Name() string { return "flaky" }

func (d *flakyDriver) ConnectImpl(context.Context, connector.Parameter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.connects <= d.failures {
		return fmt.Errorf("device busy (attempt %d)", d.connects)
	}
	return nil
}

func (d *flakyDriver) DisconnectImpl() error { return nil }

func (d *flakyDriver) WriteImpl(_ context.Context, _ string, data string) error {
	d.mu.Lock()
	d.written = append(d.written, data)
	d.mu.Unlock()
	return nil
}

func (d *flakyDriver) Read(context.Context) (connector.Record[string], bool, error) {
	return connector.Record[string]{}, false, nil
}

func (d *flakyDriver) Dispose() error { return nil }

func (d *flakyDriver) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func registerFlaky(t *testing.T, f *connector.Factory, d *flakyDriver) {
	t.Helper()
	require.NoError(t, f.Register("flaky", "test",
		func(p connector.Parameter) bool {
			v, _ := p.Specific("connector")
			return v == "flaky"
		},
		func(_ connector.Parameter, opts ...connector.Option) (connector.Connector, error) {
			adapter := types.NewTranslatingProtocolAdapter[string, string, string, string](
				types.IdentityOutputTranslator[string](), types.IdentityInputTranslator[string]())
			return connector.NewBase[string, string, string, string](d,
				[]types.ProtocolAdapter[string, string, string, string]{adapter}, opts...)
		}))
}

type fixture struct {
	engine  *Engine
	client  *natsclient.Client
	monitor *health.Monitor
	metrics *metric.MetricsRegistry
}

func newFixture(t *testing.T, withNATS bool) *fixture {
	t.Helper()
	reg := connector.NewRegistry()
	factory := connector.NewFactory(reg)
	m, err := machine.New(nil)
	require.NoError(t, err)
	require.NoError(t, machine.Register(factory, m))

	fx := &fixture{monitor: health.NewMonitor(), metrics: metric.NewMetricsRegistry()}
	if withNATS {
		fx.client = natsclient.NewTestClient(t).Client
	}
	e, err := NewEngine(Deps{
		Factory:  factory,
		Registry: reg,
		Client:   fx.client,
		Monitor:  fx.monitor,
		Metrics:  fx.metrics,
		Platform: "plant",
		Retry:    retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	e.Bind(machine.Name, Bind(JSONCodec[machine.Data, machine.Command]()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	fx.engine = e
	return fx
}

func machineConfig() config.ConnectorConfig {
	zero := time.Duration(0)
	return config.ConnectorConfig{Type: "machine", Enabled: true, Host: "localhost", NotificationInterval: &zero}
}

func request(ctx context.Context, client *natsclient.Client, subject string, data []byte) ([]byte, error) {
	msg, err := client.Conn().RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func collect(t *testing.T, client *natsclient.Client, subject string) func() [][]byte {
	t.Helper()
	var mu sync.Mutex
	var got [][]byte
	sub, err := client.Subscribe(context.Background(), subject, func(_ context.Context, msg *nats.Msg) {
		mu.Lock()
		got = append(got, msg.Data)
		mu.Unlock()
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return append([][]byte(nil), got...)
	}
}

func TestNewEngine_RequiresFactory(t *testing.T) {
	_, err := NewEngine(Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestEngine_Lifecycle(t *testing.T) {
	fx := newFixture(t, false)
	e := fx.engine
	ctx := context.Background()

	require.NoError(t, e.Deploy(ctx, "press", machineConfig()))
	inst, ok := e.Instance("press")
	require.True(t, ok)
	assert.Equal(t, service.StateCreated, inst.State())
	assert.Equal(t, "semconnect.plant.press.out", inst.OutSubject())
	assert.Equal(t, "semconnect.plant.press.in", inst.InSubject())
	assert.Equal(t, []string{"press"}, e.IDs())

	err := e.Deploy(ctx, "press", machineConfig())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig, "duplicate ids are rejected")

	require.NoError(t, e.Start(ctx, "press"))
	assert.Equal(t, service.StateRunning, inst.State())
	status, ok := fx.monitor.Get("connector/press")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())

	require.NoError(t, e.Stop(ctx, "press"))
	assert.Equal(t, service.StateStopped, inst.State())
	require.NoError(t, e.Stop(ctx, "press"), "stopping a stopped instance is a no-op")

	require.NoError(t, e.Start(ctx, "press"), "restart from STOPPED")
	require.NoError(t, e.Undeploy(ctx, "press"))
	assert.Equal(t, service.StateUndeploying, inst.State())
	assert.Empty(t, e.IDs())
	_, ok = fx.monitor.Get("connector/press")
	assert.False(t, ok)

	err = e.Start(ctx, "press")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.deploys.WithLabelValues("press", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.deploys.WithLabelValues("press", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.starts.WithLabelValues("press", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.activeInstances))
}

func TestEngine_DeployErrors(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	err := fx.engine.Deploy(ctx, "x", config.ConnectorConfig{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	err = fx.engine.Deploy(ctx, "x", config.ConnectorConfig{Type: "opcua"})
	assert.ErrorIs(t, err, errors.ErrUnknownType)

	d := &flakyDriver{}
	registerFlaky(t, fx.engine.Factory(), d)
	err = fx.engine.Deploy(ctx, "x", config.ConnectorConfig{Type: "flaky"})
	assert.ErrorIs(t, err, errors.ErrUnknownType, "entry without binder")

	fx.engine.Bind("flaky", Bind(JSONCodec[machine.Data, machine.Command]()))
	err = fx.engine.Deploy(ctx, "x", config.ConnectorConfig{Type: "flaky"})
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
	assert.Empty(t, fx.engine.IDs())
}

func TestEngine_DeployAllAndPaths(t *testing.T) {
	t.Setenv("SEMCONNECT_CONNECTOR_B_OUTPATH", "env.b.out")
	fx := newFixture(t, false)
	ctx := context.Background()

	a := machineConfig()
	a.InPath = "cfg.a.in"
	disabled := machineConfig()
	disabled.Enabled = false
	cfg := &config.Config{Connectors: map[string]config.ConnectorConfig{
		"b": machineConfig(),
		"a": a,
		"c": disabled,
	}}
	require.NoError(t, fx.engine.DeployAll(ctx, cfg))
	assert.Equal(t, []string{"a", "b"}, fx.engine.IDs())

	ia, _ := fx.engine.Instance("a")
	ib, _ := fx.engine.Instance("b")
	assert.Equal(t, "cfg.a.in", ia.InSubject())
	assert.Equal(t, "env.b.out", ib.OutSubject())

	require.NoError(t, fx.engine.Reconfigure("a", service.Values{{Name: service.ParamOutPath, Value: "moved.a.out"}}))
	assert.Equal(t, "moved.a.out", ia.OutSubject())

	require.NoError(t, fx.engine.StartAll(ctx))
	require.NoError(t, fx.engine.StopAll(ctx))
	assert.Equal(t, service.StateStopped, ia.State())
	assert.Equal(t, service.StateStopped, ib.State())
}

func TestEngine_StartRetries(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()
	d := &flakyDriver{failures: 2}
	registerFlaky(t, fx.engine.Factory(), d)
	fx.engine.Bind("flaky", Bind(StringCodec()))

	require.NoError(t, fx.engine.Deploy(ctx, "f", config.ConnectorConfig{Type: "flaky"}))
	require.NoError(t, fx.engine.Start(ctx, "f"))
	assert.Equal(t, 3, d.attempts())
	inst, _ := fx.engine.Instance("f")
	assert.Equal(t, service.StateRunning, inst.State())

	require.NoError(t, fx.engine.Send(ctx, "f", []byte("hello")))
	assert.Equal(t, []string{"hello"}, d.written)
}

func TestEngine_StartGivesUp(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()
	d := &flakyDriver{failures: 10}
	registerFlaky(t, fx.engine.Factory(), d)
	fx.engine.Bind("flaky", Bind(StringCodec()))

	require.NoError(t, fx.engine.Deploy(ctx, "f", config.ConnectorConfig{Type: "flaky"}))
	err := fx.engine.Start(ctx, "f")
	require.Error(t, err)
	assert.Equal(t, 3, d.attempts())

	inst, _ := fx.engine.Instance("f")
	assert.Equal(t, service.StateFailed, inst.State())
	status, _ := fx.monitor.Get("connector/f")
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.engine.metrics.starts.WithLabelValues("f", "failure")))

	require.NoError(t, fx.engine.Undeploy(ctx, "f"), "failed instances can be undeployed")
}

func TestEngine_Bridging(t *testing.T) {
	fx := newFixture(t, true)
	e := fx.engine
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var seen sync.Map
	e.onData = func(id string, payload []byte) { seen.Store(id, payload) }

	out := collect(t, fx.client, "semconnect.plant.press.out")
	records := collect(t, fx.client, heartbeat.StreamServiceMetrics)
	statuses := collect(t, fx.client, heartbeat.StreamStatus)

	require.NoError(t, e.Deploy(ctx, "press", machineConfig()))
	require.NoError(t, e.Start(ctx, "press"))

	require.NoError(t, e.Send(ctx, "press", []byte(`{"start": true}`)))
	require.Eventually(t, func() bool { return len(out()) > 0 }, 2*time.Second, 10*time.Millisecond)

	var d machine.Data
	msgs := out()
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &d))
	assert.Equal(t, machine.StateRunning, d.State)
	_, ok := seen.Load("press")
	assert.True(t, ok)

	require.Eventually(t, func() bool { return len(records()) > 0 }, 2*time.Second, 10*time.Millisecond)
	var rec heartbeat.MetricsRecord
	require.NoError(t, json.Unmarshal(records()[0], &rec))
	assert.Equal(t, "press", rec.ID)

	// bus to device, answered as a request
	reply, err := request(ctx, fx.client, "semconnect.plant.press.in", []byte(`{"lot_size": 7}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(reply))
	require.Eventually(t, func() bool {
		var last machine.Data
		msgs := out()
		return json.Unmarshal(msgs[len(msgs)-1], &last) == nil && last.LotSize == 7
	}, 2*time.Second, 10*time.Millisecond)

	reply, err = request(ctx, fx.client, "semconnect.plant.press.in", []byte(`not json`))
	require.NoError(t, err)
	assert.Contains(t, string(reply), "error:")

	assert.GreaterOrEqual(t, testutil.ToFloat64(e.metrics.bridged.WithLabelValues("press", "in")), 2.0)

	require.NoError(t, e.Stop(ctx, "press"))
	require.Eventually(t, func() bool { return len(statuses()) == 2 }, 2*time.Second, 10*time.Millisecond)
	var added, removed heartbeat.StatusMessage
	require.NoError(t, json.Unmarshal(statuses()[0], &added))
	require.NoError(t, json.Unmarshal(statuses()[1], &removed))
	assert.Equal(t, heartbeat.ActionAdded, added.Action)
	assert.Equal(t, "press", added.DeviceID)
	assert.Equal(t, machine.Name, added.ComponentType)
	assert.Equal(t, "plant", added.ID)
	assert.Equal(t, heartbeat.ActionRemoved, removed.Action)
}

func TestEngine_InPathMovesSubscription(t *testing.T) {
	fx := newFixture(t, true)
	e := fx.engine
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, e.Deploy(ctx, "press", machineConfig()))
	require.NoError(t, e.Start(ctx, "press"))
	require.NoError(t, e.Reconfigure("press", service.Values{{Name: service.ParamInPath, Value: "line1.press.cmd"}}))

	reply, err := request(ctx, fx.client, "line1.press.cmd", []byte(`{"start": true}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(reply))

	tctx, tcancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer tcancel()
	_, err = request(tctx, fx.client, "semconnect.plant.press.in", []byte(`{}`))
	assert.Error(t, err, "old subject has no responder")
}
