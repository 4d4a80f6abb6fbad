package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a Connector. Backends register a Factory from an init function.
type Factory func() (Connector, error)

var (
	registryLock sync.Mutex
	registry     = make(map[string]Factory)
)

// Register makes a backend available under name. It panics if name is already taken.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("connector backend '%s' registered twice", name))
	}
	registry[name] = factory
}

// New creates a Connector using the backend registered under name.
func New(name string) (Connector, error) {
	registryLock.Lock()
	factory, ok := registry[name]
	registryLock.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown connector backend '%s' (available: %v)", name, Backends())
	}
	return factory()
}

// Backends lists registered backend names.
func Backends() []string {
	registryLock.Lock()
	defer registryLock.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
