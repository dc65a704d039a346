package connector

import (
	"fmt"
	"sync"

	"github.com/c360/semconnect/errors"
)

// Predicate decides whether a factory entry serves the given parameters.
type Predicate func(params Parameter) bool

// Constructor creates a connector for the given parameters.
type Constructor func(params Parameter, opts ...Option) (Connector, error)

type factoryEntry struct {
	name        string
	predicate   Predicate
	constructor Constructor
}

// Factory dispatches connector construction to the first registered entry
// whose predicate matches. Entries are consulted in registration order.
type Factory struct {
	mu       sync.RWMutex
	entries  []factoryEntry
	registry *Registry
}

// NewFactory creates an empty factory. Registered entries are recorded as
// descriptors in registry, which may be nil.
func NewFactory(registry *Registry) *Factory {
	return &Factory{registry: registry}
}

// Register appends an entry. A nil predicate matches all parameters.
func (f *Factory) Register(name, kind string, predicate Predicate, constructor Constructor) error {
	if name == "" || constructor == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Factory", "Register", "entry validation")
	}
	if predicate == nil {
		predicate = func(Parameter) bool { return true }
	}

	f.mu.Lock()
	for _, e := range f.entries {
		if e.name == name {
			f.mu.Unlock()
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate entry %s", errors.ErrInvalidConfig, name),
				"Factory", "Register", "entry validation")
		}
	}
	f.entries = append(f.entries, factoryEntry{name: name, predicate: predicate, constructor: constructor})
	f.mu.Unlock()

	if f.registry != nil {
		f.registry.RegisterDescriptor(Descriptor{Name: name, Type: kind})
	}
	return nil
}

// Resolve returns the name of the entry that would serve params.
func (f *Factory) Resolve(params Parameter) (string, bool) {
	e, ok := f.resolve(params)
	return e.name, ok
}

func (f *Factory) resolve(params Parameter) (factoryEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.entries {
		if e.predicate(params) {
			return e, true
		}
	}
	return factoryEntry{}, false
}

// Create constructs a connector with the first matching entry.
func (f *Factory) Create(params Parameter, opts ...Option) (Connector, error) {
	e, ok := f.resolve(params)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no entry for %s:%d version %q", errors.ErrUnknownType, params.Host(), params.Port(), params.Version()),
			"Factory", "Create", "entry resolution")
	}
	c, err := e.constructor(params, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Factory", "Create", fmt.Sprintf("construct %s", e.name))
	}
	return c, nil
}

// CreateNamed constructs a connector with the named entry, ignoring
// predicates.
func (f *Factory) CreateNamed(name string, params Parameter, opts ...Option) (Connector, error) {
	f.mu.RLock()
	var (
		entry factoryEntry
		found bool
	)
	for _, e := range f.entries {
		if e.name == name {
			entry, found = e, true
			break
		}
	}
	f.mu.RUnlock()

	if !found {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownType, name),
			"Factory", "CreateNamed", "entry lookup")
	}
	c, err := entry.constructor(params, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Factory", "CreateNamed", fmt.Sprintf("construct %s", name))
	}
	return c, nil
}

// Names returns the entry names in dispatch order.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// HasVersion reports whether params carry version metadata.
func HasVersion(params Parameter) bool {
	return params.Version() != ""
}

// VersionIs matches parameters whose version equals one of versions.
func VersionIs(versions ...string) Predicate {
	return func(params Parameter) bool {
		for _, v := range versions {
			if params.Version() == v {
				return true
			}
		}
		return false
	}
}

// SchemaIs matches parameters with one of the given schemas.
func SchemaIs(schemas ...Schema) Predicate {
	return func(params Parameter) bool {
		for _, s := range schemas {
			if params.Schema() == s {
				return true
			}
		}
		return false
	}
}

// SpecificIs matches parameters whose specific setting key is one of values.
// An empty value also matches parameters without the setting.
func SpecificIs(key string, values ...string) Predicate {
	return func(params Parameter) bool {
		v, ok := params.Specific(key)
		for _, want := range values {
			if v == want && (ok || want == "") {
				return true
			}
		}
		return false
	}
}

// All matches parameters accepted by every predicate.
func All(predicates ...Predicate) Predicate {
	return func(params Parameter) bool {
		for _, p := range predicates {
			if !p(params) {
				return false
			}
		}
		return true
	}
}
