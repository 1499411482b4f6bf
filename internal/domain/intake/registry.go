package intake

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is an in-memory intake catalog. Definitions come from
// configuration at startup; Register is also safe to call at runtime,
// which the admin surface uses.
type Registry struct {
	mu      sync.RWMutex
	intakes map[string]*Intake
}

// NewRegistry builds a registry from the given definitions, validating
// each one. Duplicate IDs are rejected.
func NewRegistry(defs ...*Intake) (*Registry, error) {
	r := &Registry{intakes: make(map[string]*Intake, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds one intake definition.
func (r *Registry) Register(def *Intake) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.intakes[def.ID]; exists {
		return fmt.Errorf("intake %s already registered", def.ID)
	}
	r.intakes[def.ID] = def
	return nil
}

// Get returns the intake definition or ErrUnknownIntake.
func (r *Registry) Get(id string) (*Intake, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.intakes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntake, id)
	}
	return def, nil
}

// IDs returns all registered intake IDs in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.intakes))
	for id := range r.intakes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
