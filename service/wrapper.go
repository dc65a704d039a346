package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/types"
)

// Names of the path parameters of a ConnectorWrapper.
const (
	ParamInPath  = "inPath"
	ParamOutPath = "outPath"
)

// ParameterSupplier returns the connection parameters to use on start.
type ParameterSupplier func() connector.Parameter

// ConnectorWrapper runs a connector as a service. Entering STARTING
// connects, STOPPING disconnects and UNDEPLOYING disposes the connector.
type ConnectorWrapper[CO, CI any] struct {
	*Base

	conn   connector.TypedConnector[CO, CI]
	params ParameterSupplier

	mu      sync.RWMutex
	inPath  string
	outPath string
	input   func(CI)
}

// NewConnectorWrapper wraps conn. The in and out path parameters fall back to
// SEMCONNECT_CONNECTOR_<ID>_INPATH and _OUTPATH in the environment.
func NewConnectorWrapper[CO, CI any](
	desc Descriptor, conn connector.TypedConnector[CO, CI], params ParameterSupplier, opts ...Option,
) *ConnectorWrapper[CO, CI] {
	w := &ConnectorWrapper[CO, CI]{conn: conn, params: params}
	w.Base = NewBase(desc, opts...)

	envPrefix := "SEMCONNECT_CONNECTOR_" + strings.ToUpper(desc.ID) + "_"
	w.AddConfigurers(
		NewParameterConfigurer(ParamOutPath, types.String(), w.setOutPath).
			WithGetter(w.currentOutPath).WithEnv(envPrefix+"OUTPATH"),
		NewParameterConfigurer(ParamInPath, types.String(), w.setInPath).
			WithGetter(w.currentInPath).WithEnv(envPrefix+"INPATH"),
	)
	w.SetHook(StateStarting, w.start)
	w.SetHook(StateStopping, w.stop)
	w.SetHook(StateUndeploying, w.undeploy)
	return w
}

// Connector returns the wrapped connector.
func (w *ConnectorWrapper[CO, CI]) Connector() connector.TypedConnector[CO, CI] {
	return w.conn
}

func (w *ConnectorWrapper[CO, CI]) start(ctx context.Context) (State, error) {
	params := w.params()
	if err := w.conn.Connect(ctx, params); err != nil {
		return 0, err
	}
	if err := w.conn.EnableNotifications(params.NotificationInterval() == 0); err != nil {
		return 0, err
	}
	w.logger.Info("Connector service started", "connector", w.conn.Name(), "polling", w.conn.IsPolling())
	return StateRunning, nil
}

func (w *ConnectorWrapper[CO, CI]) stop(context.Context) (State, error) {
	if err := w.conn.Disconnect(); err != nil {
		return 0, err
	}
	return StateStopped, nil
}

func (w *ConnectorWrapper[CO, CI]) undeploy(context.Context) (State, error) {
	return 0, w.conn.Dispose()
}

// Send writes data to the device and passes it to the input callback.
func (w *ConnectorWrapper[CO, CI]) Send(ctx context.Context, data CI) error {
	if err := w.conn.Write(ctx, data); err != nil {
		w.logger.Error("Data loss, cannot send data", "error", err)
		return fmt.Errorf("service %s send: %w", w.desc.ID, err)
	}
	w.mu.RLock()
	input := w.input
	w.mu.RUnlock()
	if input != nil {
		input(data)
	}
	return nil
}

// SetReceptionCallback sets the callback for device data.
func (w *ConnectorWrapper[CO, CI]) SetReceptionCallback(cb connector.ReceptionCallback[CO]) {
	w.conn.SetReceptionCallback(cb)
}

// SetInputCallback sets the callback for platform data sent to the device.
func (w *ConnectorWrapper[CO, CI]) SetInputCallback(cb func(CI)) {
	w.mu.Lock()
	w.input = cb
	w.mu.Unlock()
}

// EnablePolling switches the connector's poll task.
func (w *ConnectorWrapper[CO, CI]) EnablePolling(enabled bool) error {
	return w.conn.EnablePolling(enabled)
}

// EnableNotifications switches the connector's notification mode.
func (w *ConnectorWrapper[CO, CI]) EnableNotifications(enabled bool) error {
	return w.conn.EnableNotifications(enabled)
}

// setters ignore empty paths, so a path once set can not be cleared.
func (w *ConnectorWrapper[CO, CI]) setInPath(path string) error {
	if path != "" {
		w.mu.Lock()
		w.inPath = path
		w.mu.Unlock()
	}
	return nil
}

func (w *ConnectorWrapper[CO, CI]) setOutPath(path string) error {
	if path != "" {
		w.mu.Lock()
		w.outPath = path
		w.mu.Unlock()
	}
	return nil
}

func (w *ConnectorWrapper[CO, CI]) currentInPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.inPath
}

func (w *ConnectorWrapper[CO, CI]) currentOutPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.outPath
}

// InPath returns the reconfigured input path, or cfgPath if none is set.
func (w *ConnectorWrapper[CO, CI]) InPath(cfgPath string) string {
	if p := w.currentInPath(); p != "" {
		return p
	}
	return cfgPath
}

// OutPath returns the reconfigured output path, or cfgPath if none is set.
func (w *ConnectorWrapper[CO, CI]) OutPath(cfgPath string) string {
	if p := w.currentOutPath(); p != "" {
		return p
	}
	return cfgPath
}
