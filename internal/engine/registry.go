package engine

import (
	"sync"
)

// Registry is the single owner of the process's active engines — the
// "global engine table" design note of §9 modeled as a mapping
// mutated only through the control surface, with no ambient globals.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry builds a Registry sharing deps across every engine it
// deploys.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:    deps.withDefaults(),
		engines: make(map[string]*Engine),
	}
}

// Get returns the active engine for scenarioID, if any.
func (r *Registry) Get(scenarioID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[scenarioID]
	return e, ok
}

// Remove drops scenarioID from the table. Called after Stop completes.
func (r *Registry) Remove(scenarioID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, scenarioID)
}

// ScenarioIDs returns the currently active scenario ids.
func (r *Registry) ScenarioIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	return ids
}
