package loader

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/errors"
)

// Registry maps destination type names to factories. Constructed and owned
// by the caller; there is no process-wide instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty loader registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With(zap.String("component", "loader_registry")),
	}
}

// Register adds a factory under a type name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("loader %s already registered", name))
	}
	r.factories[name] = factory
	r.logger.Debug("loader registered", zap.String("name", name))
	return nil
}

// Create instantiates the loader named by cfg.Type.
func (r *Registry) Create(cfg config.DestinationConfig, logger *zap.Logger) (Loader, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("loader %s not found", cfg.Type))
	}
	return factory(cfg, logger)
}

// Types returns the registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
