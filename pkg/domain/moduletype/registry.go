// Package moduletype is the Go analogue of the original's
// ModuleTypeClassesInfo registry
// (original_source/src/kiara/registries/modules/__init__.py): a
// name -> factory table that reconstructs a module.Module from a
// module.Manifest.
package moduletype

import (
	"fmt"
	"sync"

	"github.com/kiara-project/kiara-go/pkg/domain/module"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

// Factory builds a Module instance from a manifest's module_config.
type Factory func(manifest module.Manifest) (module.Module, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(moduleType string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[moduleType]; exists {
		return xerrors.Wrap(fmt.Errorf("module type already registered: %s", moduleType))
	}
	r.factories[moduleType] = f
	return nil
}

// Build reconstructs a Module from a manifest. It is always safe to
// call repeatedly with an equal manifest: the module's own Process
// must be a pure function of its inputs (spec.md §4.E).
func (r *Registry) Build(manifest module.Manifest) (module.Module, error) {
	r.mu.RLock()
	f, ok := r.factories[manifest.ModuleType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown module type: %s", manifest.ModuleType)
	}
	return f(manifest)
}
