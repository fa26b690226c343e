package streamer

import (
	"sort"
	"sync"
)

// Registry tracks the desired subscriptions as a set of symbols per event
// type. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	// subscriptions maps an event type (e.g., "Quote") to its symbols.
	subscriptions map[string]map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subscriptions: make(map[string]map[string]bool)}
}

// Add merges symbols into the set for eventType and returns the symbols that
// were not present before.
func (r *Registry) Add(eventType string, symbols ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subscriptions[eventType]
	if !ok {
		set = make(map[string]bool)
	}
	var added []string
	for _, sym := range symbols {
		if sym == "" || set[sym] {
			continue
		}
		set[sym] = true
		added = append(added, sym)
	}
	if len(set) > 0 {
		r.subscriptions[eventType] = set
	}
	return added
}

// Remove drops symbols from the set for eventType and returns the symbols
// that were present.
func (r *Registry) Remove(eventType string, symbols ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subscriptions[eventType]
	if !ok {
		return nil
	}
	var removed []string
	for _, sym := range symbols {
		if set[sym] {
			delete(set, sym)
			removed = append(removed, sym)
		}
	}
	// If the event type has no more symbols, remove the entry itself.
	if len(set) == 0 {
		delete(r.subscriptions, eventType)
	}
	return removed
}

// Reset clears every subscription.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.subscriptions = make(map[string]map[string]bool)
	r.mu.Unlock()
}

// Contains reports whether symbol is subscribed for eventType.
func (r *Registry) Contains(eventType, symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscriptions[eventType][symbol]
}

// Len returns the number of (event type, symbol) pairs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.subscriptions {
		n += len(set)
	}
	return n
}

// Snapshot returns a copy of the subscriptions with sorted symbol lists.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.subscriptions))
	for eventType, set := range r.subscriptions {
		symbols := make([]string, 0, len(set))
		for sym := range set {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		out[eventType] = symbols
	}
	return out
}
