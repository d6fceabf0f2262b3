package channel

import (
	"fmt"
	"sort"
)

// Registry maps each provider to its adapter. It is built once at startup and
// never mutated afterwards, so it is safe for concurrent use.
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry indexes adapters by provider. Registering a provider twice is an error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[Provider]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("nil adapter")
		}
		p := a.Provider()
		if _, err := ParseProvider(string(p)); err != nil {
			return nil, err
		}
		if _, dup := m[p]; dup {
			return nil, fmt.Errorf("adapter for %s registered twice", p)
		}
		m[p] = a
	}
	return &Registry{adapters: m}, nil
}

func (r *Registry) Adapter(p Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// StatusParser returns the adapter of p when it understands delivery receipts.
func (r *Registry) StatusParser(p Provider) (StatusParser, bool) {
	sp, ok := r.adapters[p].(StatusParser)
	return sp, ok
}

// MenuSender returns the adapter of p when it can send interactive menus.
func (r *Registry) MenuSender(p Provider) (MenuSender, bool) {
	ms, ok := r.adapters[p].(MenuSender)
	return ms, ok
}

// Providers returns the registered providers in a stable order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
