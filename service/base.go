package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/health"
	"github.com/c360/semconnect/metric"
)

// Kind classifies a service.
type Kind string

// Service kinds
const (
	KindSource    Kind = "source"
	KindTransform Kind = "transform"
	KindSink      Kind = "sink"
	KindProbe     Kind = "probe"
)

// Descriptor holds the static description of a service.
type Descriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`
	Deployable  bool   `json:"deployable"`
	TopLevel    bool   `json:"top_level"`
}

// Info holds runtime information for a service
type Info struct {
	Descriptor
	State     State         `json:"state"`
	Uptime    time.Duration `json:"uptime"`
	StartTime time.Time     `json:"start_time"`
	LastError string        `json:"last_error,omitempty"`
}

// Hook runs on entering a state. It returns the follow-up state, or 0 to
// stay. Hooks must not call SetState.
type Hook func(ctx context.Context) (State, error)

// ReconfigureListener is notified about every reconfigured parameter.
type ReconfigureListener func(name, value string)

// Option is a functional option for configuring Base
type Option func(*Base)

// Service is a lifecycle-controlled unit.
type Service interface {
	Descriptor() Descriptor
	State() State
	SetState(ctx context.Context, state State) error
	Activate(ctx context.Context) error
	Passivate(ctx context.Context) error
	Migrate(resourceID string) error
	Update(location string) error
	SwitchTo(serviceID string) error
	Reconfigure(values Values) error
	Health() health.Status
	GetStatus() Info
}

// Base implements Service on the state machine. Behavior is attached with
// hooks per state and with parameter configurers.
type Base struct {
	desc     Descriptor
	metrics  *metric.Metrics
	logger   *slog.Logger
	rollback bool

	// transition serializes state changes including their hooks
	transition sync.Mutex

	mu          sync.RWMutex
	state       State
	startTime   time.Time
	lastErr     error
	hooks       map[State]Hook
	configurers Configurers
	listeners   []ReconfigureListener
}

var _ Service = (*Base)(nil)

// NewBase creates a service in state UNKNOWN.
func NewBase(desc Descriptor, opts ...Option) *Base {
	b := &Base{
		desc:        desc,
		logger:      slog.Default().With("service", desc.Name),
		rollback:    true,
		state:       StateUnknown,
		hooks:       make(map[State]Hook),
		configurers: make(Configurers),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.metrics.RecordServiceState(b.desc.ID, int(StateUnknown))
	return b
}

// WithMetrics sets the metrics registry for the service
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Base) {
		if registry != nil {
			b.metrics = registry.CoreMetrics()
		}
	}
}

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger.With("service", b.desc.Name)
		}
	}
}

// WithHook runs hook whenever the service enters state.
func WithHook(state State, hook Hook) Option {
	return func(b *Base) { b.hooks[state] = hook }
}

// WithRollback sets whether Reconfigure rolls back on failure. The default
// is true.
func WithRollback(rollback bool) Option {
	return func(b *Base) { b.rollback = rollback }
}

// WithConfigurers registers parameter configurers.
func WithConfigurers(configurers ...Configurer) Option {
	return func(b *Base) { b.configurers.Add(configurers...) }
}

// Descriptor returns the static description.
func (b *Base) Descriptor() Descriptor { return b.desc }

// ID returns the service id.
func (b *Base) ID() string { return b.desc.ID }

// State returns the current state.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetHook attaches hook to state, replacing an existing one.
func (b *Base) SetHook(state State, hook Hook) {
	b.mu.Lock()
	b.hooks[state] = hook
	b.mu.Unlock()
}

// AddConfigurers registers parameter configurers.
func (b *Base) AddConfigurers(configurers ...Configurer) {
	b.mu.Lock()
	b.configurers.Add(configurers...)
	b.mu.Unlock()
}

// Configurer implements Provider.
func (b *Base) Configurer(name string) Configurer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.configurers[name]
}

// ParameterValue returns the current encoded value of a parameter.
func (b *Base) ParameterValue(name string) (string, error) {
	cfg := b.Configurer(name)
	if cfg == nil {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownParameter, name), "Service", "ParameterValue", "configurer lookup")
	}
	v, ok, err := cfg.Current()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %s has no getter", errors.ErrNotSupported, name), "Service", "ParameterValue", "read parameter")
	}
	return v, nil
}

// OnReconfigured adds a listener for applied parameters.
func (b *Base) OnReconfigured(listener ReconfigureListener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, listener)
	b.mu.Unlock()
}

// SetState validates and applies a transition, then runs the hook of the
// new state. A follow-up state returned by the hook is applied the same way.
// If the hook fails the service moves to FAILED where that is allowed.
func (b *Base) SetState(ctx context.Context, state State) error {
	b.transition.Lock()
	defer b.transition.Unlock()
	return b.enter(ctx, state)
}

func (b *Base) enter(ctx context.Context, state State) error {
	for state != 0 {
		if err := b.apply(state); err != nil {
			return err
		}
		b.mu.RLock()
		hook := b.hooks[state]
		b.mu.RUnlock()
		if hook == nil {
			return nil
		}

		next, err := hook(ctx)
		if err != nil {
			b.fail(state, err)
			return errors.Wrap(err, "Service", "SetState", fmt.Sprintf("enter %s", state))
		}
		state = next
	}
	return nil
}

// apply changes the state without running hooks.
func (b *Base) apply(state State) error {
	b.mu.Lock()
	from := b.state
	if err := ValidateTransition(from, state); err != nil {
		b.mu.Unlock()
		return err
	}
	b.state = state
	switch state {
	case StateRunning:
		if from != StateReconfiguring {
			b.startTime = time.Now()
		}
		b.lastErr = nil
	case StateStopped:
		b.startTime = time.Time{}
	}
	b.mu.Unlock()

	b.metrics.RecordServiceState(b.desc.ID, int(state))
	b.logger.Debug("Service state changed", "from", from.String(), "to", state.String())
	return nil
}

func (b *Base) fail(during State, err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	b.logger.Error("Service transition failed", "state", during.String(), "error", err)
	if CanTransition(during, StateFailed) {
		_ = b.apply(StateFailed)
	}
}

// Activate resumes a passivated service through ACTIVATING and the start
// hook. Other states are left unchanged.
func (b *Base) Activate(ctx context.Context) error {
	b.transition.Lock()
	defer b.transition.Unlock()
	if b.State() != StatePassivated {
		return nil
	}
	return b.cycle(ctx, StateActivating, StateStarting)
}

// Passivate suspends a running service through PASSIVATING and the stop
// hook. Other states are left unchanged.
func (b *Base) Passivate(ctx context.Context) error {
	b.transition.Lock()
	defer b.transition.Unlock()
	if b.State() != StateRunning {
		return nil
	}
	return b.cycle(ctx, StatePassivating, StateStopping)
}

// cycle enters via, runs the hook registered for the state whose work it
// borrows, and completes to the state following via.
func (b *Base) cycle(ctx context.Context, via, borrow State) error {
	if err := b.apply(via); err != nil {
		return err
	}
	b.mu.RLock()
	hook := b.hooks[borrow]
	b.mu.RUnlock()
	if hook != nil {
		if _, err := hook(ctx); err != nil {
			b.fail(via, err)
			return errors.Wrap(err, "Service", "cycle", fmt.Sprintf("enter %s", via))
		}
	}
	target := StateRunning
	if via == StatePassivating {
		target = StatePassivated
	}
	return b.apply(target)
}

// Migrate is not supported by default and does nothing.
func (b *Base) Migrate(string) error { return nil }

// Update is not supported by default and does nothing.
func (b *Base) Update(string) error { return nil }

// SwitchTo is not supported by default and does nothing.
func (b *Base) SwitchTo(string) error { return nil }

// Reconfigure applies values through the registered configurers and
// notifies the listeners about each value once all are applied. A running
// service passes through RECONFIGURING.
func (b *Base) Reconfigure(values Values) error {
	b.transition.Lock()
	defer b.transition.Unlock()

	running := b.State() == StateRunning
	if running {
		if err := b.apply(StateReconfiguring); err != nil {
			return err
		}
	}
	err := Reconfigure(values, b, b.rollback)
	if running {
		if aerr := b.apply(StateRunning); aerr != nil {
			b.logger.Error("Leaving reconfiguration failed", "error", aerr)
		}
	}
	b.metrics.RecordReconfiguration(b.desc.ID, err == nil)
	if err != nil {
		b.logger.Warn("Reconfiguration failed", "rollback", b.rollback, "error", err)
		return err
	}

	b.mu.RLock()
	listeners := append([]ReconfigureListener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, v := range values {
		for _, l := range listeners {
			l(v.Name, v.Value)
		}
	}
	return nil
}

// ApplyEnvironment applies the environment fallback of every configurer
// that has one set.
func (b *Base) ApplyEnvironment() error {
	b.mu.RLock()
	var values Values
	for name, cfg := range b.configurers {
		if v, ok := cfg.Environment(); ok {
			values = append(values, Value{Name: name, Value: v})
		}
	}
	b.mu.RUnlock()
	if len(values) == 0 {
		return nil
	}
	return b.Reconfigure(ValuesFromMap(values.Map()))
}

// Health maps the state onto a health status.
func (b *Base) Health() health.Status {
	b.mu.RLock()
	state, lastErr := b.state, b.lastErr
	b.mu.RUnlock()

	name := b.desc.Name
	var status health.Status
	switch state {
	case StateRunning:
		status = health.NewHealthy(name, "Service running")
	case StateFailed:
		status = health.FromError(name, lastErr)
	case StateStarting, StateReconfiguring, StateRecovering, StateRecovered, StateActivating,
		StatePassivating, StatePassivated, StateMigrating, StateStopping:
		status = health.NewDegraded(name, "Service is "+state.String())
	default:
		status = health.NewUnhealthy(name, "Service is "+state.String())
	}
	b.metrics.RecordHealthStatus(name, status.IsHealthy())
	return status
}

// GetStatus returns the current service information
func (b *Base) GetStatus() Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info := Info{Descriptor: b.desc, State: b.state, StartTime: b.startTime}
	if !b.startTime.IsZero() {
		info.Uptime = time.Since(b.startTime)
	}
	if b.lastErr != nil {
		info.LastError = b.lastErr.Error()
	}
	return info
}
