package types

import (
	"sync"

	"github.com/c360/semconnect/connector/model"
)

// ModelAccessor is implemented by translators that use a model.
type ModelAccessor interface {
	SetModelAccess(ma model.ModelAccess)
	ModelAccess() model.ModelAccess
}

// OutputTranslator turns connector output into platform output.
type OutputTranslator[O, CO any] interface {
	ModelAccessor

	To(source O) (CO, error)

	// InitializeModelAccess prepares the model, e.g. registers custom types
	// and arms monitors. Called once per model access before the first To.
	InitializeModelAccess() error
}

// InputTranslator turns platform input into connector input.
type InputTranslator[I, CI any] interface {
	ModelAccessor

	From(data CI) (I, error)
}

// ModelAccessHolder is embedded by translators to satisfy ModelAccessor.
type ModelAccessHolder struct {
	mu sync.RWMutex
	ma model.ModelAccess
}

// SetModelAccess implements ModelAccessor.
func (h *ModelAccessHolder) SetModelAccess(ma model.ModelAccess) {
	h.mu.Lock()
	h.ma = ma
	h.mu.Unlock()
}

// ModelAccess implements ModelAccessor.
func (h *ModelAccessHolder) ModelAccess() model.ModelAccess {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ma
}

// OutputFunc is an OutputTranslator backed by functions. Init may be nil.
type OutputFunc[O, CO any] struct {
	ModelAccessHolder
	Fn   func(ma model.ModelAccess, source O) (CO, error)
	Init func(ma model.ModelAccess) error
}

// NewOutputFunc creates an output translator from fn.
func NewOutputFunc[O, CO any](fn func(ma model.ModelAccess, source O) (CO, error)) *OutputFunc[O, CO] {
	return &OutputFunc[O, CO]{Fn: fn}
}

// To implements OutputTranslator.
func (t *OutputFunc[O, CO]) To(source O) (CO, error) {
	return t.Fn(t.ModelAccess(), source)
}

// InitializeModelAccess implements OutputTranslator.
func (t *OutputFunc[O, CO]) InitializeModelAccess() error {
	if t.Init == nil {
		return nil
	}
	return t.Init(t.ModelAccess())
}

// InputFunc is an InputTranslator backed by a function.
type InputFunc[I, CI any] struct {
	ModelAccessHolder
	Fn func(ma model.ModelAccess, data CI) (I, error)
}

// NewInputFunc creates an input translator from fn.
func NewInputFunc[I, CI any](fn func(ma model.ModelAccess, data CI) (I, error)) *InputFunc[I, CI] {
	return &InputFunc[I, CI]{Fn: fn}
}

// From implements InputTranslator.
func (t *InputFunc[I, CI]) From(data CI) (I, error) {
	return t.Fn(t.ModelAccess(), data)
}
