package connector

import (
	"slices"
	"sync"
)

// Descriptor describes a connector kind that can be instantiated.
type Descriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Registry tracks connected connector instances and known descriptors.
type Registry struct {
	mu          sync.RWMutex
	instances   []Connector
	descriptors map[string]Descriptor
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a connected instance. Registering twice is a no-op.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.instances, c) {
		return
	}
	r.instances = append(r.instances, c)
}

// Unregister removes an instance and reports whether it was present.
func (r *Registry) Unregister(c Connector) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.instances, c)
	if idx < 0 {
		return false
	}
	r.instances = slices.Delete(r.instances, idx, idx+1)
	return true
}

// Instances returns the registered instances in registration order.
func (r *Registry) Instances() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.instances)
}

// Find returns the first instance with the given name.
func (r *Registry) Find(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.instances {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// RegisterDescriptor records a connector kind, replacing one of the same name.
func (r *Registry) RegisterDescriptor(d Descriptor) {
	r.mu.Lock()
	r.descriptors[d.Name] = d
	r.mu.Unlock()
}

// Descriptors returns all descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	result := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		result = append(result, d)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b Descriptor) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return result
}

// Clear removes all instances and descriptors.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.instances = nil
	r.descriptors = make(map[string]Descriptor)
	r.mu.Unlock()
}
