package service

import (
	stderrors "errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
)

// Configurer applies string encoded values to one service parameter.
type Configurer interface {
	Name() string
	// Apply translates value and passes it to the setter.
	Apply(value string) error
	// Current returns the encoded current value. ok is false for
	// parameters without a getter, which cannot be rolled back.
	Current() (value string, ok bool, err error)
	// Environment returns the value of the fallback environment variable.
	Environment() (value string, ok bool)
}

// ParameterConfigurer binds a typed setter and an optional getter to a
// parameter name.
type ParameterConfigurer[T any] struct {
	name       string
	translator types.TypeTranslator[string, T]
	setter     func(T) error
	getter     func() T
	env        string
}

var _ Configurer = (*ParameterConfigurer[int])(nil)

// NewParameterConfigurer creates a configurer without getter.
func NewParameterConfigurer[T any](name string, translator types.TypeTranslator[string, T], setter func(T) error) *ParameterConfigurer[T] {
	return &ParameterConfigurer[T]{name: name, translator: translator, setter: setter}
}

// WithGetter makes the parameter restorable on rollback.
func (c *ParameterConfigurer[T]) WithGetter(getter func() T) *ParameterConfigurer[T] {
	c.getter = getter
	return c
}

// WithEnv sets the environment variable consulted by Environment.
func (c *ParameterConfigurer[T]) WithEnv(key string) *ParameterConfigurer[T] {
	c.env = key
	return c
}

// Name implements Configurer.
func (c *ParameterConfigurer[T]) Name() string { return c.name }

// Apply implements Configurer.
func (c *ParameterConfigurer[T]) Apply(value string) error {
	v, err := c.translator.To(value)
	if err != nil {
		return err
	}
	return c.setter(v)
}

// Current implements Configurer.
func (c *ParameterConfigurer[T]) Current() (string, bool, error) {
	if c.getter == nil {
		return "", false, nil
	}
	s, err := c.translator.From(c.getter())
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// Environment implements Configurer.
func (c *ParameterConfigurer[T]) Environment() (string, bool) {
	if c.env == "" {
		return "", false
	}
	return os.LookupEnv(c.env)
}

// Provider looks up configurers by parameter name. It returns nil for
// unknown parameters.
type Provider interface {
	Configurer(name string) Configurer
}

// Configurers is a Provider backed by a map.
type Configurers map[string]Configurer

// Configurer implements Provider.
func (c Configurers) Configurer(name string) Configurer { return c[name] }

// Add registers configurers under their names.
func (c Configurers) Add(configurers ...Configurer) {
	for _, cfg := range configurers {
		c[cfg.Name()] = cfg
	}
}

// Value is one parameter assignment.
type Value struct {
	Name  string
	Value string
}

// Values is an ordered list of assignments, applied front to back.
type Values []Value

// ValuesFromMap orders the entries of m by name.
func ValuesFromMap(m map[string]string) Values {
	if m == nil {
		return nil
	}
	values := make(Values, 0, len(m))
	for _, name := range slices.Sorted(maps.Keys(m)) {
		values = append(values, Value{Name: name, Value: m[name]})
	}
	return values
}

// Map returns the assignments as a map.
func (v Values) Map() map[string]string {
	m := make(map[string]string, len(v))
	for _, e := range v {
		m[e.Name] = e.Value
	}
	return m
}

// Reconfigure applies values in order. Parameters without a configurer are
// skipped. On the first failure processing stops. With rollback the current
// values of all parameters with getters are captured before anything is
// applied; a capture failure leaves every parameter untouched and an apply
// failure restores the parameters applied so far. Restore failures are
// collected into the returned error. Without rollback the applied parameters
// stay applied.
func Reconfigure(values Values, provider Provider, rollback bool) error {
	if len(values) == 0 || provider == nil {
		return nil
	}

	type step struct {
		name       string
		value      string
		cfg        Configurer
		previous   string
		restorable bool
	}
	steps := make([]step, 0, len(values))
	for _, v := range values {
		if cfg := provider.Configurer(v.Name); cfg != nil {
			steps = append(steps, step{name: v.Name, value: v.Value, cfg: cfg})
		}
	}

	if rollback {
		for i := range steps {
			previous, ok, err := steps[i].cfg.Current()
			if err != nil {
				return reconfigureFailed(steps[i].name, err)
			}
			steps[i].previous, steps[i].restorable = previous, ok
		}
	}

	for i, st := range steps {
		if err := st.cfg.Apply(st.value); err != nil {
			failure := reconfigureFailed(st.name, err)
			if !rollback {
				return failure
			}
			var restoreErrs []error
			for j := i - 1; j >= 0; j-- {
				if !steps[j].restorable {
					continue
				}
				if rerr := steps[j].cfg.Apply(steps[j].previous); rerr != nil {
					restoreErrs = append(restoreErrs, fmt.Errorf("restore %s: %w", steps[j].cfg.Name(), rerr))
				}
			}
			return stderrors.Join(append([]error{failure}, restoreErrs...)...)
		}
	}
	return nil
}

func reconfigureFailed(name string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: parameter %s: %w", errors.ErrReconfigureFailed, name, err),
		"service", "Reconfigure", "apply "+name)
}
