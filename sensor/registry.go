package sensor

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Driver{}
)

// RegisterDriver makes a driver available by name. It panics if the name is taken, since that is
// a programming error caught at init time.
func RegisterDriver(driver Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := driver.Name()
	if _, ok := registry[name]; ok {
		panic(errors.Errorf("sensor driver %q already registered", name))
	}
	registry[name] = driver
}

// LookupDriver returns the driver registered under name.
func LookupDriver(name string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	driver, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown sensor driver %q (registered: %v)", name, registeredNamesLocked())
	}
	return driver, nil
}

// RegisteredDrivers returns the sorted names of all registered drivers.
func RegisteredDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registeredNamesLocked()
}

func registeredNamesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// deregisterDriver is for tests.
func deregisterDriver(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
