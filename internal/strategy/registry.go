// Package strategy holds the pluggable signal generators and their registry.
// Each module scans the snapshot set independently and owns its own
// validation; the orchestrator treats them as black boxes.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openpredict/tradebot/internal/domain"
)

// GroupedStrategies lists the module names whose positions are valued and
// exited as a set rather than per token.
var GroupedStrategies = []string{"bracket_arb"}

// Registry manages a named collection of strategy modules that can be looked
// up at runtime. It is safe for concurrent use.
type Registry struct {
	modules map[string]domain.StrategyModule
	mu      sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]domain.StrategyModule),
	}
}

// Register adds a module under its own name. Re-registering a name replaces
// the previous module.
func (r *Registry) Register(mod domain.StrategyModule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[mod.Name()] = mod
}

// Get retrieves a module by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (domain.StrategyModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return mod, nil
}

// List returns the names of all registered modules in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve maps the configured strategy names to their modules, failing on
// any unknown name so a config typo surfaces at startup instead of as a
// silently idle strategy.
func (r *Registry) Resolve(names []string) ([]domain.StrategyModule, error) {
	out := make([]domain.StrategyModule, 0, len(names))
	for _, name := range names {
		mod, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, mod)
	}
	return out, nil
}
