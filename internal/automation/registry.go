package automation

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrUnknownProvider is returned when no backend is registered under the
// requested name.
var ErrUnknownProvider = eris.New("unknown automation provider")

// Constructor builds a Provider instance.
type Constructor func(ctx context.Context) (Provider, error)

// Registry maps backend names to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory returns a Factory that builds the backend registered as name.
func (r *Registry) Factory(name string) (Factory, error) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownProvider, "%q (registered: %v)", name, r.Names())
	}
	return FactoryFunc(func(ctx context.Context) (Provider, error) {
		p, err := c(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "automation: construct %s", name)
		}
		return p, nil
	}), nil
}
