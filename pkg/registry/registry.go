// Package registry implements the Reaction Provider registry of
// spec.md §4.6: a lookup from reaction kind name to the Provider that
// knows how to validate a Config and construct a Reaction from it.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowbase/rudder/pkg/reaction"
	"github.com/flowbase/rudder/pkg/rudderr"
)

// Provider knows how to validate and construct reactions of one kind,
// grounded on the teacher's infrastructure/blockchain.Provider interface
// (one implementation registered per named capability, looked up by
// string key).
type Provider interface {
	// Kind returns the reaction kind name this provider serves, e.g.
	// "http.webhook" or "redis.publish".
	Kind() string
	// Create constructs a Reaction from cfg. Callers must call Validate
	// first; Create may assume cfg is well-formed.
	Create(cfg reaction.Config) (reaction.Reaction, error)
	// Validate reports whether cfg is acceptable to this provider, and if
	// not, the human-readable reasons why.
	Validate(cfg reaction.Config) (ok bool, errs []string)
	// ConfigSchema returns a description of the Properties this provider
	// expects, for discovery/documentation purposes. May return nil.
	ConfigSchema() map[string]interface{}
}

// Registry is a concurrency-safe Kind -> Provider lookup plus the set of
// reactions constructed through it.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	reactions map[string]reaction.Reaction
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		reactions: make(map[string]reaction.Reaction),
	}
}

// RegisterProvider adds a Provider under its own Kind(). Re-registering
// the same kind replaces the previous provider.
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Kind()] = p
}

// Kinds lists the registered provider kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Create validates cfg against its Kind's provider and, if valid,
// constructs and registers the resulting Reaction under cfg.ID.
func (r *Registry) Create(cfg reaction.Config) (reaction.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, ok := r.providers[cfg.Kind]
	if !ok {
		return nil, rudderr.NewInvalidKind(cfg.Kind)
	}

	if ok, errs := provider.Validate(cfg); !ok {
		return nil, rudderr.NewInvalidConfig(errs)
	}

	rxn, err := provider.Create(cfg.Validate())
	if err != nil {
		return nil, rudderr.Wrap(rudderr.InvalidConfig, "provider failed to construct reaction", err)
	}

	if _, exists := r.reactions[cfg.ID]; exists {
		return nil, rudderr.NewInvalidState(fmt.Sprintf("reaction %q already registered", cfg.ID))
	}
	r.reactions[cfg.ID] = rxn
	return rxn, nil
}

// Get returns the reaction registered under id.
func (r *Registry) Get(id string) (reaction.Reaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rxn, ok := r.reactions[id]
	return rxn, ok
}

// List returns every registered reaction.
func (r *Registry) List() []reaction.Reaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]reaction.Reaction, 0, len(r.reactions))
	for _, rxn := range r.reactions {
		out = append(out, rxn)
	}
	return out
}

// Delete stops and removes the reaction registered under id, if any.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	rxn, ok := r.reactions[id]
	if !ok {
		r.mu.Unlock()
		return rudderr.NewInvalidState(fmt.Sprintf("reaction %q is not registered", id))
	}
	delete(r.reactions, id)
	r.mu.Unlock()

	if rxn.IsRunning() {
		return rxn.Stop(context.Background())
	}
	return nil
}
