// Package factory provides a name -> driver-factory registry, the same
// pattern the registry's storage drivers use to self-register via init().
package factory

import (
	"fmt"

	"github.com/vaultkeeper/backup/store/driver"
)

var driverFactories = make(map[string]StorageDriverFactory)

// StorageDriverFactory builds a driver.StorageDriver from a set's
// protocol parameters. Backends call Register with their factory from
// an init() function.
type StorageDriverFactory interface {
	Create(parameters map[string]interface{}) (driver.StorageDriver, error)
}

// Register makes a storage driver available by name. Panics on a
// duplicate registration or a nil factory, matching the registry's own
// factory package.
func Register(name string, f StorageDriverFactory) {
	if f == nil {
		panic("factory: nil StorageDriverFactory")
	}
	if _, ok := driverFactories[name]; ok {
		panic(fmt.Sprintf("factory: %q already registered", name))
	}
	driverFactories[name] = f
}

// Create instantiates the named driver with the given parameters.
func Create(name string, parameters map[string]interface{}) (driver.StorageDriver, error) {
	f, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{Name: name}
	}
	return f.Create(parameters)
}

// InvalidStorageDriverError names an unregistered driver type.
type InvalidStorageDriverError struct {
	Name string
}

func (e InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("storage driver not registered: %s", e.Name)
}
