package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360/semconnect/config"
	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/health"
	"github.com/c360/semconnect/metric"
	"github.com/c360/semconnect/natsclient"
	"github.com/c360/semconnect/pkg/retry"
	"github.com/c360/semconnect/service"
)

// Deps holds the collaborators of an Engine. Only Factory is required.
type Deps struct {
	Factory  *connector.Factory
	Registry *connector.Registry // live connector instances, Default() if nil
	Client   *natsclient.Client  // nil disables bus bridging
	Monitor  *health.Monitor
	Metrics  *metric.MetricsRegistry
	Logger   *slog.Logger
	Platform string
	Retry    retry.Config // connect retries, retry.Quick() if zero

	// OnData, if set, sees every encoded device payload.
	OnData func(id string, payload []byte)
}

// Engine deploys connector instances from configuration and runs each as a
// service bridged to the bus.
type Engine struct {
	factory         *connector.Factory
	registry        *connector.Registry
	client          *natsclient.Client
	monitor         *health.Monitor
	metricsRegistry *metric.MetricsRegistry
	metrics         *engineMetrics
	logger          *slog.Logger
	platform        string
	retry           retry.Config
	onData          func(id string, payload []byte)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	binders   map[string]Binder
	instances map[string]Instance
	order     []string
}

// NewEngine creates an engine.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Factory == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: factory", errors.ErrMissingConfig), "Engine", "NewEngine", "dependency check")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.Quick()
	}
	platform := deps.Platform
	if platform == "" {
		platform = "default"
	}

	e := &Engine{
		factory:         deps.Factory,
		registry:        deps.Registry,
		client:          deps.Client,
		monitor:         deps.Monitor,
		metricsRegistry: deps.Metrics,
		logger:          logger.With("component", "engine"),
		platform:        platform,
		retry:           cfg,
		onData:          deps.OnData,
		binders:         make(map[string]Binder),
		instances:       make(map[string]Instance),
	}
	if deps.Metrics != nil {
		m, err := newEngineMetrics(deps.Metrics)
		if err != nil {
			e.logger.Error("Failed to initialize engine metrics", "error", err)
		}
		e.metrics = m
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Factory returns the connector factory.
func (e *Engine) Factory() *connector.Factory { return e.factory }

// Bind sets the binder for connectors created by the named factory entry.
func (e *Engine) Bind(entry string, b Binder) {
	e.mu.Lock()
	e.binders[entry] = b
	e.mu.Unlock()
}

func (e *Engine) subject(id, direction string) string {
	return fmt.Sprintf("semconnect.%s.%s.%s", e.platform, id, direction)
}

func healthName(id string) string { return "connector/" + id }

// Deploy creates the connector for cc and brings its service to CREATED.
func (e *Engine) Deploy(ctx context.Context, id string, cc config.ConnectorConfig) (err error) {
	defer func() { e.metrics.recordDeploy(id, err == nil) }()

	if err := cc.Validate(); err != nil {
		return errors.Wrap(err, "Engine", "Deploy", "validate "+id)
	}
	e.mu.RLock()
	_, exists := e.instances[id]
	e.mu.RUnlock()
	if exists {
		return errors.WrapInvalid(fmt.Errorf("%w: instance %s already deployed", errors.ErrInvalidConfig, id),
			"Engine", "Deploy", "duplicate check")
	}

	params := cc.Parameter()
	entry, ok := e.factory.Resolve(params)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownType, cc.Type), "Engine", "Deploy", "resolve "+id)
	}
	e.mu.RLock()
	bind := e.binders[entry]
	e.mu.RUnlock()
	if bind == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: no binding for %s", errors.ErrUnknownType, entry), "Engine", "Deploy", "bind "+id)
	}

	conn, err := e.factory.Create(params, e.connectorOptions(id, cc)...)
	if err != nil {
		return errors.Wrap(err, "Engine", "Deploy", "create "+id)
	}
	inst, err := bind(e, id, cc, conn)
	if err != nil {
		_ = conn.Dispose()
		return err
	}
	if err := inst.deploy(ctx, cc); err != nil {
		_ = conn.Dispose()
		return errors.Wrap(err, "Engine", "Deploy", "deploy "+id)
	}

	e.mu.Lock()
	e.instances[id] = inst
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.updateHealth(inst)
	e.logger.Info("Deployed connector instance", "instance", id, "entry", entry,
		"out", inst.OutSubject(), "in", inst.InSubject())
	return nil
}

func (e *Engine) connectorOptions(id string, cc config.ConnectorConfig) []connector.Option {
	opts := []connector.Option{
		connector.WithLogger(e.logger.With("instance", id)),
		connector.WithErrorHandler(func(message string, err error) {
			if e.monitor != nil {
				e.monitor.Update(healthName(id), health.NewDegraded(healthName(id), fmt.Sprintf("%s %v", message, err)))
			}
		}),
	}
	if e.metricsRegistry != nil {
		opts = append(opts, connector.WithMetrics(e.metricsRegistry))
	}
	if e.registry != nil {
		opts = append(opts, connector.WithRegistry(e.registry))
	}
	if cc.IdleCleanup > 0 {
		opts = append(opts, connector.WithIdleCleanup(cc.IdleCleanup, func() {
			e.logger.Debug("Released idle connector resources", "instance", id)
		}))
	}
	return opts
}

// DeployAll deploys the enabled connectors of cfg in id order. It stops at
// the first failure.
func (e *Engine) DeployAll(ctx context.Context, cfg *config.Config) error {
	for _, id := range cfg.EnabledConnectors() {
		if err := e.Deploy(ctx, id, cfg.Connectors[id]); err != nil {
			return err
		}
	}
	return nil
}

// Instance returns a deployed instance.
func (e *Engine) Instance(id string) (Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	return inst, ok
}

// IDs returns the deployed instance ids in deployment order.
func (e *Engine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

func (e *Engine) lookup(id, method string) (Instance, error) {
	inst, ok := e.Instance(id)
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: instance %s", errors.ErrNotFound, id), "Engine", method, "instance lookup")
	}
	return inst, nil
}

// Start connects an instance, retrying failed connects.
func (e *Engine) Start(ctx context.Context, id string) error {
	inst, err := e.lookup(id, "Start")
	if err != nil {
		return err
	}
	begin := time.Now()
	err = inst.start(ctx)
	e.metrics.recordStart(id, err == nil, time.Since(begin).Seconds())
	e.updateHealth(inst)
	if err != nil {
		return errors.Wrap(err, "Engine", "Start", "start "+id)
	}
	e.logger.Info("Started connector instance", "instance", id, "took", time.Since(begin))
	return nil
}

// StartAll starts all instances in deployment order. Failing instances are
// logged and left FAILED; the joined errors are returned.
func (e *Engine) StartAll(ctx context.Context) error {
	var errs []error
	for _, id := range e.IDs() {
		if err := e.Start(ctx, id); err != nil {
			e.logger.Error("Connector instance did not start", "instance", id, "error", err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Stop disconnects an instance.
func (e *Engine) Stop(ctx context.Context, id string) error {
	inst, err := e.lookup(id, "Stop")
	if err != nil {
		return err
	}
	running := inst.State() == service.StateRunning
	err = inst.stop(ctx)
	if running {
		e.metrics.recordStop(id, err == nil)
	}
	e.updateHealth(inst)
	if err != nil {
		return errors.Wrap(err, "Engine", "Stop", "stop "+id)
	}
	return nil
}

// StopAll stops all instances in reverse deployment order.
func (e *Engine) StopAll(ctx context.Context) error {
	ids := e.IDs()
	slices.Reverse(ids)
	var errs []error
	for _, id := range ids {
		if err := e.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Undeploy stops an instance if needed, disposes its connector and forgets
// it.
func (e *Engine) Undeploy(ctx context.Context, id string) error {
	inst, err := e.lookup(id, "Undeploy")
	if err != nil {
		return err
	}
	if inst.State() == service.StateRunning {
		if err := e.Stop(ctx, id); err != nil {
			return err
		}
	}
	if err := inst.undeploy(ctx); err != nil {
		return errors.Wrap(err, "Engine", "Undeploy", "undeploy "+id)
	}

	e.mu.Lock()
	delete(e.instances, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	e.mu.Unlock()
	if e.monitor != nil {
		e.monitor.Remove(healthName(id))
	}
	e.logger.Info("Undeployed connector instance", "instance", id)
	return nil
}

// Shutdown undeploys all instances in reverse order and releases the engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	ids := e.IDs()
	slices.Reverse(ids)
	var errs []error
	for _, id := range ids {
		if err := e.Undeploy(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	e.cancel()
	return stderrors.Join(errs...)
}

// Reconfigure applies parameter values to an instance's service.
func (e *Engine) Reconfigure(id string, values service.Values) error {
	inst, err := e.lookup(id, "Reconfigure")
	if err != nil {
		return err
	}
	return inst.Reconfigure(values)
}

// Send writes a bus payload to an instance's device.
func (e *Engine) Send(ctx context.Context, id string, payload []byte) error {
	inst, err := e.lookup(id, "Send")
	if err != nil {
		return err
	}
	return inst.Send(ctx, payload)
}

// RefreshHealth reports every instance's service health to the monitor.
func (e *Engine) RefreshHealth() {
	e.mu.RLock()
	insts := make([]Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		insts = append(insts, inst)
	}
	e.mu.RUnlock()
	for _, inst := range insts {
		e.updateHealth(inst)
	}
}

func (e *Engine) updateHealth(inst Instance) {
	if e.monitor == nil {
		return
	}
	status := inst.Health()
	status.Component = healthName(inst.ID())
	e.monitor.Update(status.Component, status)
}
