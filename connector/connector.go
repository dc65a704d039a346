package connector

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/metric"
)

// Connector is the type-independent view on a connector used by registries
// and service wrappers.
type Connector interface {
	Name() string
	Connect(ctx context.Context, params Parameter) error
	Disconnect() error
	Dispose() error
	IsConnected() bool
	EnablePolling(enabled bool) error
	EnableNotifications(enabled bool) error
	IsPolling() bool
	Parameter() Parameter
}

// TypedConnector adds the platform data surface.
type TypedConnector[CO, CI any] interface {
	Connector
	Write(ctx context.Context, data CI) error
	Request(ctx context.Context) (bool, error)
	SetReceptionCallback(cb ReceptionCallback[CO])
	ProtocolOutputType() reflect.Type
	ProtocolInputType() reflect.Type
}

// ReceptionCallback receives platform output.
type ReceptionCallback[CO any] func(data CO)

// Record is data read from a device together with its channel. Model-based
// drivers leave Channel empty.
type Record[O any] struct {
	Channel string
	Data    O
}

// Driver is the transport part of a connector.
type Driver[O, I any] interface {
	Name() string
	ConnectImpl(ctx context.Context, params Parameter) error
	DisconnectImpl() error
	WriteImpl(ctx context.Context, channel string, data I) error

	// Read returns buffered data without blocking longer than a poll
	// interval. ok is false if nothing is available, which is not an error.
	Read(ctx context.Context) (rec Record[O], ok bool, err error)

	Dispose() error
}

// Receiver accepts data pushed by event-driven drivers.
type Receiver[O any] interface {
	Trigger(channel string, data O) error
}

// Binder is implemented by drivers that push data. Bind is called once
// when the connector is created.
type Binder[O any] interface {
	Bind(r Receiver[O])
}

// IdleReleaser is implemented by drivers holding resources that can be
// reclaimed while idle.
type IdleReleaser interface {
	ReleaseIdle()
}

// ModelAccessSupplier creates a model access session. The listener must be
// informed about UseNotifications changes.
type ModelAccessSupplier func(listener model.NotificationChangedListener) (model.ModelAccess, error)

// ErrorHandler is called for every reported error.
type ErrorHandler func(message string, err error)

// AdapterSelector picks the adapter for received and written data.
type AdapterSelector[O, CI any] interface {
	SelectOutput(channel string, data O) int
	SelectInput(data CI) int
}

// FirstAdapter always selects the first adapter.
type FirstAdapter[O, CI any] struct{}

// SelectOutput implements AdapterSelector.
func (FirstAdapter[O, CI]) SelectOutput(string, O) int { return 0 }

// SelectInput implements AdapterSelector.
func (FirstAdapter[O, CI]) SelectInput(CI) int { return 0 }

// ChannelSelector selects output adapters by channel and input adapters by
// a caller-supplied function.
type ChannelSelector[O, CI any] struct {
	outputs map[string]int
	input   func(CI) int
}

// NewChannelSelector maps each adapter's output channel to its index. input
// may be nil to always write through the first adapter.
func NewChannelSelector[O, I, CO, CI any](
	adapters []types.ProtocolAdapter[O, I, CO, CI], input func(CI) int,
) *ChannelSelector[O, CI] {
	outputs := make(map[string]int, len(adapters))
	for i, a := range adapters {
		if _, dup := outputs[a.OutputChannel()]; !dup {
			outputs[a.OutputChannel()] = i
		}
	}
	return &ChannelSelector[O, CI]{outputs: outputs, input: input}
}

// SelectOutput implements AdapterSelector, unknown channels select -1.
func (s *ChannelSelector[O, CI]) SelectOutput(channel string, _ O) int {
	if i, ok := s.outputs[channel]; ok {
		return i
	}
	return -1
}

// SelectInput implements AdapterSelector.
func (s *ChannelSelector[O, CI]) SelectInput(data CI) int {
	if s.input == nil {
		return 0
	}
	return s.input(data)
}

// Options holds the type-independent connector settings.
type Options struct {
	Logger        *slog.Logger
	Metrics       *metric.MetricsRegistry
	Registry      *Registry
	ModelAccess   ModelAccessSupplier
	IdleCleanup   time.Duration
	OnIdleCleanup func()
	ErrorHandler  ErrorHandler
}

// Option configures a connector.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics records connector metrics on registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *Options) { o.Metrics = registry }
}

// WithRegistry registers connected instances in r instead of Default().
func WithRegistry(r *Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithModelAccess makes the connector model-based.
func WithModelAccess(supplier ModelAccessSupplier) Option {
	return func(o *Options) { o.ModelAccess = supplier }
}

// WithIdleCleanup enables idle resource reclamation after period without
// activity. onCleanup may be nil.
func WithIdleCleanup(period time.Duration, onCleanup func()) Option {
	return func(o *Options) {
		o.IdleCleanup = period
		o.OnIdleCleanup = onCleanup
	}
}

// WithErrorHandler installs an additional error hook.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *Options) { o.ErrorHandler = h }
}

// Base is the generic connector. O and I are the driver's native types, CO
// and CI the platform types.
type Base[O, I, CO, CI any] struct {
	driver   Driver[O, I]
	adapters []types.ProtocolAdapter[O, I, CO, CI]
	opts     Options
	logger   *slog.Logger
	metrics  *metric.Metrics
	limiter  *rate.Limiter

	// lifecycle serializes Connect, Disconnect and Dispose
	lifecycle sync.Mutex

	mu        sync.Mutex
	selector  AdapterSelector[O, CI]
	callback  ReceptionCallback[CO]
	params    Parameter
	connected bool
	disposed  bool
	session   context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	poll      context.CancelFunc

	notifications    bool
	notificationsSet bool

	maMu sync.Mutex
	ma   model.ModelAccess

	idle *idleTracker
}

var _ TypedConnector[any, any] = (*Base[any, any, any, any])(nil)

// NewBase creates a connector from driver and adapters. At least one adapter
// is required.
func NewBase[O, I, CO, CI any](
	driver Driver[O, I], adapters []types.ProtocolAdapter[O, I, CO, CI], opts ...Option,
) (*Base[O, I, CO, CI], error) {
	if driver == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Connector", "NewBase", "driver validation")
	}
	if len(adapters) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNoAdapter, "Connector", "NewBase", "adapter validation")
	}
	for _, a := range adapters {
		if a == nil {
			return nil, errors.WrapInvalid(errors.ErrNoAdapter, "Connector", "NewBase", "adapter validation")
		}
	}

	o := Options{Registry: Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Base[O, I, CO, CI]{
		driver:   driver,
		adapters: adapters,
		opts:     o,
		logger:   logger.With("component", "connector", "connector", driver.Name()),
		metrics:  o.Metrics.CoreMetrics(),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		selector: FirstAdapter[O, CI]{},
	}
	if o.IdleCleanup > 0 {
		b.idle = newIdleTracker(o.IdleCleanup, time.Now)
	}
	if binder, ok := driver.(Binder[O]); ok {
		binder.Bind(b)
	}
	return b, nil
}

// SetAdapterSelector replaces the default FirstAdapter selector.
func (b *Base[O, I, CO, CI]) SetAdapterSelector(s AdapterSelector[O, CI]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil {
		s = FirstAdapter[O, CI]{}
	}
	b.selector = s
}

// Name returns the driver name.
func (b *Base[O, I, CO, CI]) Name() string {
	return b.driver.Name()
}

// Driver returns the transport driver.
func (b *Base[O, I, CO, CI]) Driver() Driver[O, I] {
	return b.driver
}

// Parameter returns the parameter of the last Connect.
func (b *Base[O, I, CO, CI]) Parameter() Parameter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params
}

// IsConnected reports whether a session is established.
func (b *Base[O, I, CO, CI]) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// ProtocolOutputType returns the platform output type.
func (b *Base[O, I, CO, CI]) ProtocolOutputType() reflect.Type {
	return b.adapters[0].ProtocolOutputType()
}

// ProtocolInputType returns the platform input type.
func (b *Base[O, I, CO, CI]) ProtocolInputType() reflect.Type {
	return b.adapters[0].ProtocolInputType()
}

// SetReceptionCallback sets the single callback for platform output.
func (b *Base[O, I, CO, CI]) SetReceptionCallback(cb ReceptionCallback[CO]) {
	b.mu.Lock()
	b.callback = cb
	b.mu.Unlock()
}

// ModelAccess returns the current model access, creating it if it was
// reclaimed while idle. nil for channel-based connectors.
func (b *Base[O, I, CO, CI]) ModelAccess() (model.ModelAccess, error) {
	return b.ensureModelAccess()
}

func (b *Base[O, I, CO, CI]) ensureModelAccess() (model.ModelAccess, error) {
	if b.opts.ModelAccess == nil {
		return nil, nil
	}
	b.maMu.Lock()
	defer b.maMu.Unlock()
	if b.ma != nil {
		return b.ma, nil
	}
	ma, err := b.opts.ModelAccess(b)
	if err != nil {
		return nil, errors.Wrap(err, "Connector", "ensureModelAccess", "model access creation")
	}
	b.ma = ma
	for _, a := range b.adapters {
		a.SetModelAccess(ma)
	}
	return ma, nil
}

func (b *Base[O, I, CO, CI]) disposeModelAccess() {
	b.maMu.Lock()
	defer b.maMu.Unlock()
	if b.ma == nil {
		return
	}
	b.ma.Dispose()
	b.ma = nil
	for _, a := range b.adapters {
		a.SetModelAccess(nil)
	}
}

// Connect establishes the session, initializes the model access and
// registers the connector.
func (b *Base[O, I, CO, CI]) Connect(ctx context.Context, params Parameter) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	switch {
	case b.disposed:
		b.mu.Unlock()
		return errors.WrapFatal(errors.ErrDisposed, "Connector", "Connect", "lifecycle check")
	case b.connected:
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyConnected, "Connector", "Connect", "lifecycle check")
	}
	b.params = params
	b.mu.Unlock()

	if err := b.driver.ConnectImpl(ctx, params); err != nil {
		b.reportError("connect", "While connecting.", err)
		return errors.WrapTransient(err, "Connector", "Connect", fmt.Sprintf("connect %s", b.Name()))
	}

	if err := b.initializeModelAccess(); err != nil {
		b.reportError("connect", "While initializing model access.", err)
		b.disposeModelAccess()
		if derr := b.driver.DisconnectImpl(); derr != nil {
			b.reportError("disconnect", "While disconnecting after failed initialization.", derr)
		}
		return err
	}

	session, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.connected = true
	b.session = session
	b.cancel = cancel
	b.group = &errgroup.Group{}
	if b.idle != nil {
		b.idle.reset()
		b.group.Go(func() error {
			b.cleanupLoop(session)
			return nil
		})
	}
	b.mu.Unlock()

	b.opts.Registry.Register(b)
	b.metrics.RecordConnected(b.Name(), true)
	b.logger.Info("Connector connected", "host", params.Host(), "port", params.Port(),
		"schema", params.Schema(), "idle_cleanup", b.opts.IdleCleanup)
	return nil
}

func (b *Base[O, I, CO, CI]) initializeModelAccess() error {
	if _, err := b.ensureModelAccess(); err != nil {
		return err
	}
	if b.opts.ModelAccess == nil {
		return nil
	}
	for _, a := range b.adapters {
		if err := a.InitializeModelAccess(); err != nil {
			return errors.Wrap(err, "Connector", "Connect", "model access initialization")
		}
	}
	return nil
}

// Disconnect unregisters the connector, closes the session and waits for the
// poll and cleanup goroutines. It must not be called from the reception
// callback.
func (b *Base[O, I, CO, CI]) Disconnect() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.disconnect()
}

func (b *Base[O, I, CO, CI]) disconnect() error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	b.opts.Registry.Unregister(b)
	implErr := b.driver.DisconnectImpl()

	b.mu.Lock()
	b.connected = false
	cancel, group := b.cancel, b.group
	b.cancel, b.group, b.poll, b.session = nil, nil, nil, nil
	b.mu.Unlock()

	cancel()
	_ = group.Wait()

	b.metrics.RecordConnected(b.Name(), false)
	if implErr != nil {
		b.reportError("disconnect", "While disconnecting.", implErr)
		return errors.WrapTransient(implErr, "Connector", "Disconnect", fmt.Sprintf("disconnect %s", b.Name()))
	}
	b.logger.Info("Connector disconnected")
	return nil
}

// Dispose disconnects if needed and releases all resources permanently.
func (b *Base[O, I, CO, CI]) Dispose() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	disconnectErr := b.disconnect()
	b.disposeModelAccess()
	disposeErr := b.driver.Dispose()

	b.mu.Lock()
	b.disposed = true
	b.mu.Unlock()

	if disposeErr != nil {
		b.reportError("dispose", "While disposing.", disposeErr)
		return errors.Wrap(disposeErr, "Connector", "Dispose", fmt.Sprintf("dispose %s", b.Name()))
	}
	return disconnectErr
}

func (b *Base[O, I, CO, CI]) checkConnected(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return errors.WrapFatal(errors.ErrDisposed, "Connector", method, "lifecycle check")
	}
	if !b.connected {
		return errors.WrapInvalid(errors.ErrNotConnected, "Connector", method, "lifecycle check")
	}
	return nil
}

// Write sends platform input through the selected adapter to the device.
func (b *Base[O, I, CO, CI]) Write(ctx context.Context, data CI) error {
	if err := b.checkConnected("Write"); err != nil {
		return err
	}
	if err := b.beginActivity(); err != nil {
		return err
	}
	defer b.endActivity()

	start := time.Now()
	b.mu.Lock()
	idx := b.selector.SelectInput(data)
	b.mu.Unlock()
	adapter, err := b.adapter(idx, "Write")
	if err != nil {
		return err
	}

	native, err := adapter.AdaptInput(data)
	if err != nil {
		b.reportError("write", "While translating input.", err)
		return errors.Wrap(err, "Connector", "Write", "input translation")
	}
	if err := b.driver.WriteImpl(ctx, adapter.InputChannel(), native); err != nil {
		b.reportError("write", "While writing.", err)
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrWriteFailed, err), "Connector", "Write", "device write")
	}
	b.metrics.RecordWrite(b.Name(), time.Since(start))
	return nil
}

// Request reads once from the driver and delivers the result. It returns
// whether data was available.
func (b *Base[O, I, CO, CI]) Request(ctx context.Context) (bool, error) {
	if err := b.checkConnected("Request"); err != nil {
		return false, err
	}
	if err := b.beginActivity(); err != nil {
		return false, err
	}
	defer b.endActivity()

	rec, ok, err := b.driver.Read(ctx)
	if err != nil {
		b.reportError("read", "While requesting.", err)
		return false, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrReadFailed, err), "Connector", "Request", "device read")
	}
	if !ok {
		return false, nil
	}
	return true, b.deliver(rec, "request")
}

// Trigger injects native data into the reception path as if it had been
// received. Event-driven drivers and model notifications use it.
func (b *Base[O, I, CO, CI]) Trigger(channel string, data O) error {
	if err := b.checkConnected("Trigger"); err != nil {
		return err
	}
	if err := b.beginActivity(); err != nil {
		return err
	}
	defer b.endActivity()
	return b.deliver(Record[O]{Channel: channel, Data: data}, "notification")
}

func (b *Base[O, I, CO, CI]) adapter(idx int, method string) (types.ProtocolAdapter[O, I, CO, CI], error) {
	if idx < 0 || idx >= len(b.adapters) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: index %d", errors.ErrNoAdapter, idx), "Connector", method, "adapter selection")
	}
	return b.adapters[idx], nil
}

func (b *Base[O, I, CO, CI]) deliver(rec Record[O], source string) error {
	b.mu.Lock()
	idx := b.selector.SelectOutput(rec.Channel, rec.Data)
	cb := b.callback
	b.mu.Unlock()

	adapter, err := b.adapter(idx, "deliver")
	if err != nil {
		b.reportError("receive", "While receiving. Data discarded.", err)
		return err
	}
	out, err := adapter.AdaptOutput(rec.Channel, rec.Data)
	if err != nil {
		b.reportError("receive", "While receiving. Data discarded.", err)
		return errors.Wrap(err, "Connector", "deliver", "output translation")
	}
	if cb != nil {
		cb(out)
	}
	b.metrics.RecordReceived(b.Name(), source)
	return nil
}

// reportError is the connector's error hook.
func (b *Base[O, I, CO, CI]) reportError(operation, message string, err error) {
	b.metrics.RecordError(b.Name(), operation)
	if b.limiter.Allow() {
		b.logger.Error(message, "operation", operation, "error", err)
	}
	if b.opts.ErrorHandler != nil {
		b.opts.ErrorHandler(message, err)
	}
}
