package algo

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps indicator type names to Algorithm implementations.
// It is the single source of truth shared by the engine and the variant
// subsystem; construct one at startup and pass it down. Registration
// happens before serving, reads need no per-call locking afterwards, but
// the mutex keeps Register safe for late additions in tests.
type Registry struct {
	mu    sync.RWMutex
	algos map[string]Algorithm
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{algos: make(map[string]Algorithm, 32)}
}

// NewBuiltinRegistry returns a registry with every built-in algorithm
// registered. Startup fails fast if this somehow yields an empty set.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, a := range Builtins() {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	if len(r.algos) == 0 {
		return nil, fmt.Errorf("registry: no built-in algorithms registered")
	}
	return r, nil
}

// Builtins returns one instance of every built-in algorithm.
func Builtins() []Algorithm {
	algos := []Algorithm{
		TWPA{},
		TWVA{},
		TWPARatio{},
		RSI{},
		SMA{},
		EMA{},
		OrderbookMidTWA{},
		Spread{},
		Imbalance{},
		Liquidity{},
		PriceMomentum{},
	}
	algos = append(algos, windowedAggregates()...)
	return algos
}

// Register adds an algorithm. Duplicate type names are an error so two
// divergent implementations can never shadow each other.
func (r *Registry) Register(a Algorithm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.algos[a.Type()]; exists {
		return fmt.Errorf("registry: duplicate algorithm type %q", a.Type())
	}
	r.algos[a.Type()] = a
	return nil
}

// Get returns the algorithm for a type name, or nil if unknown.
func (r *Registry) Get(typ string) Algorithm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.algos[typ]
}

// All returns every registered algorithm sorted by type name.
func (r *Registry) All() []Algorithm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Algorithm, 0, len(r.algos))
	for _, a := range r.algos {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}

// ByCategory returns registered algorithms in the given category,
// sorted by type name.
func (r *Registry) ByCategory(category string) []Algorithm {
	var out []Algorithm
	for _, a := range r.All() {
		if a.Category() == category {
			out = append(out, a)
		}
	}
	return out
}

// Categories returns the sorted distinct categories in the registry.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, a := range r.algos {
		seen[a.Category()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered algorithms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.algos)
}
