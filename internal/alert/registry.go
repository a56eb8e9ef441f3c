package alert

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps channel names to channels.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds a channel. Panics on duplicate name to surface misconfiguration early.
func (r *Registry) Register(c Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[c.Name()]; exists {
		panic(fmt.Sprintf("alert registry: duplicate channel %q", c.Name()))
	}
	r.channels[c.Name()] = c
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("no alert channel registered as %q", name)
	}
	return c, nil
}

// Names returns all registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for k := range r.channels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns the registered channels ordered by name.
func (r *Registry) All() []Channel {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(names))
	for _, n := range names {
		if c, ok := r.channels[n]; ok {
			out = append(out, c)
		}
	}
	return out
}
