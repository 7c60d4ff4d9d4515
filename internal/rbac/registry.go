package rbac

import (
	"errors"
	"fmt"
	"sort"
)

// RegistryBuilder collects named policies before they are frozen into a Registry.
// It is not safe for concurrent use.
type RegistryBuilder struct {
	policies map[string]Policy
	frozen   bool
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{policies: make(map[string]Policy)}
}

// Register adds a policy under name.
func (b *RegistryBuilder) Register(name string, p Policy) error {
	if b.frozen {
		return ErrRegistryFrozen
	}
	if name == "" {
		return errors.New("policy name is required")
	}
	if p == nil {
		return fmt.Errorf("policy %q: nil policy", name)
	}
	if _, exists := b.policies[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePolicy, name)
	}
	b.policies[name] = p
	return nil
}

// Build freezes the builder and returns an immutable Registry.
func (b *RegistryBuilder) Build() *Registry {
	b.frozen = true
	policies := make(map[string]Policy, len(b.policies))
	for name, p := range b.policies {
		policies[name] = p
	}
	return &Registry{policies: policies}
}

// Registry is an immutable name → policy table, safe for concurrent reads.
type Registry struct {
	policies map[string]Policy
}

// DefaultRegistry returns a registry holding the built-in policies.
func DefaultRegistry() *Registry {
	b := NewRegistryBuilder()
	for name, p := range DefaultPolicies() {
		// Built-in names are distinct and non-empty.
		_ = b.Register(name, p)
	}
	return b.Build()
}

func (r *Registry) Lookup(name string) (Policy, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.policies[name]
	return p, ok
}

// Names returns the registered policy names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require verifies every name is registered. Route wiring calls it at boot so
// a misspelled policy fails startup instead of a request.
func (r *Registry) Require(names ...string) error {
	for _, name := range names {
		if _, ok := r.Lookup(name); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
		}
	}
	return nil
}
