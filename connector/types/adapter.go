package types

import (
	"reflect"
	"sync"

	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/errors"
)

// ProtocolAdapter converts between connector-native and platform data.
type ProtocolAdapter[O, I, CO, CI any] interface {
	// AdaptOutput turns data received on channel into platform output.
	// Model-based adapters ignore channel.
	AdaptOutput(channel string, data O) (CO, error)

	// AdaptInput turns platform input into data to be written.
	AdaptInput(data CI) (I, error)

	// InputChannel is the channel AdaptInput results are written to,
	// empty for model-based adapters.
	InputChannel() string

	// OutputChannel is the channel this adapter consumes, empty for
	// model-based adapters.
	OutputChannel() string

	SetModelAccess(ma model.ModelAccess)
	ModelAccess() model.ModelAccess

	// InitializeModelAccess runs the output translator's initialization
	// once for the current model access. Repeated calls are no-ops until a
	// different model access is set.
	InitializeModelAccess() error

	ConnectorOutputType() reflect.Type
	ConnectorInputType() reflect.Type
	ProtocolOutputType() reflect.Type
	ProtocolInputType() reflect.Type
}

// TranslatingProtocolAdapter is the model-based adapter. Both translators
// share one model access.
type TranslatingProtocolAdapter[O, I, CO, CI any] struct {
	out OutputTranslator[O, CO]
	in  InputTranslator[I, CI]

	initMu      sync.Mutex
	mu          sync.Mutex
	ma          model.ModelAccess
	initialized model.ModelAccess
}

var _ ProtocolAdapter[any, any, any, any] = (*TranslatingProtocolAdapter[any, any, any, any])(nil)

// NewTranslatingProtocolAdapter creates a model-based adapter.
func NewTranslatingProtocolAdapter[O, I, CO, CI any](
	out OutputTranslator[O, CO], in InputTranslator[I, CI],
) *TranslatingProtocolAdapter[O, I, CO, CI] {
	return &TranslatingProtocolAdapter[O, I, CO, CI]{out: out, in: in}
}

// AdaptOutput implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) AdaptOutput(_ string, data O) (CO, error) {
	if err := a.InitializeModelAccess(); err != nil {
		var zero CO
		return zero, err
	}
	return a.out.To(data)
}

// AdaptInput implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) AdaptInput(data CI) (I, error) {
	if err := a.InitializeModelAccess(); err != nil {
		var zero I
		return zero, err
	}
	return a.in.From(data)
}

// InputChannel implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) InputChannel() string { return "" }

// OutputChannel implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) OutputChannel() string { return "" }

// SetModelAccess implements ProtocolAdapter and hands ma to both translators.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) SetModelAccess(ma model.ModelAccess) {
	a.mu.Lock()
	a.ma = ma
	a.mu.Unlock()
	a.out.SetModelAccess(ma)
	a.in.SetModelAccess(ma)
}

// ModelAccess implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) ModelAccess() model.ModelAccess {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ma
}

// InitializeModelAccess implements ProtocolAdapter. The access counts as
// initialized while the translator runs, so notifications raised during
// initialization do not re-enter it.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) InitializeModelAccess() error {
	if a.isInitialized() {
		return nil
	}

	a.initMu.Lock()
	defer a.initMu.Unlock()

	a.mu.Lock()
	ma := a.ma
	done := ma != nil && a.initialized == ma
	if ma != nil {
		a.initialized = ma
	}
	a.mu.Unlock()

	if ma == nil {
		return errors.WrapInvalid(errors.ErrNoModelAccess, "TranslatingProtocolAdapter",
			"InitializeModelAccess", "model access lookup")
	}
	if done {
		return nil
	}
	if err := a.out.InitializeModelAccess(); err != nil {
		a.mu.Lock()
		if a.initialized == ma {
			a.initialized = nil
		}
		a.mu.Unlock()
		return errors.Wrap(err, "TranslatingProtocolAdapter", "InitializeModelAccess", "translator initialization")
	}
	return nil
}

func (a *TranslatingProtocolAdapter[O, I, CO, CI]) isInitialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ma != nil && a.initialized == a.ma
}

// ConnectorOutputType implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) ConnectorOutputType() reflect.Type {
	return reflect.TypeFor[O]()
}

// ConnectorInputType implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) ConnectorInputType() reflect.Type {
	return reflect.TypeFor[I]()
}

// ProtocolOutputType implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) ProtocolOutputType() reflect.Type {
	return reflect.TypeFor[CO]()
}

// ProtocolInputType implements ProtocolAdapter.
func (a *TranslatingProtocolAdapter[O, I, CO, CI]) ProtocolInputType() reflect.Type {
	return reflect.TypeFor[CI]()
}

// ChannelTranslatingProtocolAdapter routes payloads over named channels and
// has no model.
type ChannelTranslatingProtocolAdapter[O, I, CO, CI any] struct {
	outputChannel string
	inputChannel  string
	out           OutputTranslator[O, CO]
	in            InputTranslator[I, CI]
	once          sync.Once
	initErr       error
}

var _ ProtocolAdapter[any, any, any, any] = (*ChannelTranslatingProtocolAdapter[any, any, any, any])(nil)

// NewChannelTranslatingProtocolAdapter creates a channel-based adapter that
// consumes outputChannel and writes to inputChannel.
func NewChannelTranslatingProtocolAdapter[O, I, CO, CI any](
	outputChannel string, out OutputTranslator[O, CO],
	inputChannel string, in InputTranslator[I, CI],
) *ChannelTranslatingProtocolAdapter[O, I, CO, CI] {
	return &ChannelTranslatingProtocolAdapter[O, I, CO, CI]{
		outputChannel: outputChannel,
		inputChannel:  inputChannel,
		out:           out,
		in:            in,
	}
}

// AdaptOutput implements ProtocolAdapter. Data from other channels is rejected.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) AdaptOutput(channel string, data O) (CO, error) {
	var zero CO
	if channel != a.outputChannel {
		return zero, errors.WrapInvalid(errors.ErrInvalidData, "ChannelTranslatingProtocolAdapter", "AdaptOutput",
			"channel "+channel+" routing")
	}
	if err := a.InitializeModelAccess(); err != nil {
		return zero, err
	}
	return a.out.To(data)
}

// AdaptInput implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) AdaptInput(data CI) (I, error) {
	return a.in.From(data)
}

// InputChannel implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) InputChannel() string {
	return a.inputChannel
}

// OutputChannel implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) OutputChannel() string {
	return a.outputChannel
}

// SetModelAccess implements ProtocolAdapter, channel adapters ignore models.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) SetModelAccess(model.ModelAccess) {}

// ModelAccess implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) ModelAccess() model.ModelAccess { return nil }

// InitializeModelAccess implements ProtocolAdapter. The output translator is
// initialized once without a model.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) InitializeModelAccess() error {
	a.once.Do(func() {
		a.initErr = a.out.InitializeModelAccess()
	})
	return a.initErr
}

// ConnectorOutputType implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) ConnectorOutputType() reflect.Type {
	return reflect.TypeFor[O]()
}

// ConnectorInputType implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) ConnectorInputType() reflect.Type {
	return reflect.TypeFor[I]()
}

// ProtocolOutputType implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) ProtocolOutputType() reflect.Type {
	return reflect.TypeFor[CO]()
}

// ProtocolInputType implements ProtocolAdapter.
func (a *ChannelTranslatingProtocolAdapter[O, I, CO, CI]) ProtocolInputType() reflect.Type {
	return reflect.TypeFor[CI]()
}
