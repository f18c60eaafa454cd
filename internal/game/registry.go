package game

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]func() Module)
)

// Register makes a module constructor available under the given name.
// Intended to be called from module package init functions. Registering the
// same name twice panics — it is a programming error, not a runtime state.
func Register(name string, factory func() Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || factory == nil {
		panic("game: Register called with empty name or nil factory")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("game: Register called twice for module %q", name))
	}
	registry[name] = factory
}

// New instantiates the module registered under name.
func New(name string) (Module, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("game module %q not registered (have %v)", name, Registered())
	}
	return factory(), nil
}

// Registered returns the sorted names of all registered modules.
func Registered() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
