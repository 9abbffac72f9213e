package source

import (
	"fmt"
	"sync"
)

// Constructor creates a source adapter from adapter-specific settings.
// Implementations register themselves with the registry using Register().
type Constructor func(settings map[string]string) (Adapter, error)

// registry maps adapter type names to their constructors
var (
	registry   = make(map[string]Constructor)
	registryMu sync.RWMutex
)

// Register registers a source adapter constructor under a type name.
// This is called from init() functions in adapter implementation packages.
//
// Example:
//
//	func init() {
//	    source.Register("outline", New)
//	}
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("source: Register constructor is nil for type %s", name))
	}

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source: Register called twice for type %s", name))
	}

	registry[name] = constructor
}

// Open constructs the adapter registered under name.
func Open(name string, settings map[string]string) (Adapter, error) {
	registryMu.RLock()
	constructor := registry[name]
	registryMu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("no source adapter registered for type %q", name)
	}
	return constructor(settings)
}

// Registered returns true if a constructor is registered for the type.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, exists := registry[name]
	return exists
}
