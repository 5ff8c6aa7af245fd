package source

import (
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-price-matcher/internal/pricing"
)

// Factory builds an adapter from its settings.
type Factory func(Settings) (pricing.SourceAdapter, error)

// Registry holds the configured adapters in registration order.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
	adapters  map[string]pricing.SourceAdapter
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
		adapters:  make(map[string]pricing.SourceAdapter),
	}
}

// RegisterKind installs the factory used for settings of kind.
func (r *Registry) RegisterKind(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Register adds a ready-made adapter.
func (r *Registry) Register(adapter pricing.SourceAdapter) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}
	name := adapter.Settings().Name
	if name == "" {
		return errors.New("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("source %s already registered", name)
	}
	r.adapters[name] = adapter
	r.order = append(r.order, name)
	return nil
}

// Build validates settings and registers one adapter per entry.
func (r *Registry) Build(settings []Settings) error {
	for _, s := range settings {
		if err := s.Validate(); err != nil {
			return err
		}
		r.mu.RLock()
		factory, ok := r.factories[s.Kind]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("source %q: no factory for kind %q", s.Name, s.Kind)
		}
		adapter, err := factory(s)
		if err != nil {
			return fmt.Errorf("source %q: %w", s.Name, err)
		}
		if err := r.Register(adapter); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (pricing.SourceAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []pricing.SourceAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pricing.SourceAdapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Names lists the registered source names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
