package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/pipeflow/internal/errors"
)

// Registry maintains a mapping of transport names to their builders and capabilities.
// There is no package-level registry: callers build one and pass it around,
// or use transports.NewRegistry for one holding every built-in transport.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// NewRegistry creates a new transport registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a transport builder to the registry.
// The name should match the PubSubSystem config value (e.g., "kafka", "rabbitmq").
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a transport builder and its capabilities to the registry.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities for a registered transport.
// Returns a zero Capabilities struct if the transport is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates a transport using the registered builder for the config's PubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}

	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	return builder(ctx, cfg, logger)
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has returns true if a transport is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}
