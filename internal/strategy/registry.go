package strategy

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/newthinker/barsim/internal/core"
)

// Factory builds a fresh, unbound SignalSource from params.
type Factory func(p Params) (SignalSource, error)

// Registry maps variant names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger ...*zap.Logger) *Registry {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    l,
	}
}

// Register adds a variant. A later registration replaces an earlier one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		r.logger.Warn("replacing registered strategy", zap.String("strategy", name))
	}
	r.factories[name] = f
}

// Get retrieves a factory by name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered variant names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build validates params and creates the variant they name.
func (r *Registry) Build(p Params) (SignalSource, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f, ok := r.Get(p.Name)
	if !ok {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown strategy %q (registered: %v)", p.Name, r.Names()))
	}
	src, err := f(p)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("strategy built",
		zap.String("strategy", p.Name),
		zap.String("description", src.Description()),
	)
	return src, nil
}
