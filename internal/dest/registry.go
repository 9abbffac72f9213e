package dest

import (
	"fmt"
	"sync"
)

// Constructor creates a destination adapter from adapter-specific settings.
type Constructor func(settings map[string]string) (Adapter, error)

var (
	registry   = make(map[string]Constructor)
	registryMu sync.RWMutex
)

// Register registers a destination adapter constructor under a type name.
// Called from init() functions in adapter implementation packages.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("dest: Register constructor is nil for type %s", name))
	}

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("dest: Register called twice for type %s", name))
	}

	registry[name] = constructor
}

// Open constructs the adapter registered under name.
func Open(name string, settings map[string]string) (Adapter, error) {
	registryMu.RLock()
	constructor := registry[name]
	registryMu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("no destination adapter registered for type %q", name)
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
