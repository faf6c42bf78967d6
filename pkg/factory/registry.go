// Package factory provides adapter registration and construction for the
// relay engine.
package factory

import (
	"sync"

	"github.com/modelrelay/relay/pkg/llm"
)

// AdapterConstructor is a function that creates a new stream adapter for a
// provider
type AdapterConstructor func(config llm.ClientConfig) (llm.StreamAdapter, error)

// adapterRegistry holds all registered adapter constructors
type adapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]AdapterConstructor
}

var globalRegistry = &adapterRegistry{
	adapters: make(map[string]AdapterConstructor),
}

// RegisterAdapter registers an adapter constructor function
func RegisterAdapter(name string, constructor AdapterConstructor) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.adapters[name] = constructor
}

// GetAdapter returns an adapter constructor by name
func GetAdapter(name string) (AdapterConstructor, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	constructor, exists := globalRegistry.adapters[name]
	return constructor, exists
}

// ListAdapters returns all registered adapter names
func ListAdapters() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	names := make([]string, 0, len(globalRegistry.adapters))
	for name := range globalRegistry.adapters {
		names = append(names, name)
	}
	return names
}
