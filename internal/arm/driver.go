package arm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DriverType names an Arm implementation.
type DriverType string

const (
	DriverTypeSim DriverType = "sim"
)

// Factory opens a connection to an arm.
type Factory func() (Arm, error)

var (
	driversMu sync.RWMutex
	drivers   = map[DriverType]Factory{
		DriverTypeSim: func() (Arm, error) { return NewSim(), nil },
	}
)

// Register makes a driver available to Open. Vendor drivers call this from
// an init function in their own package.
func Register(name DriverType, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[DriverType(strings.ToLower(string(name)))] = f
}

// Open connects to the arm named by driver and wraps it with Locked.
func Open(driver string) (*LockedArm, error) {
	name := DriverType(strings.ToLower(strings.TrimSpace(driver)))
	if name == "" {
		name = DriverTypeSim
	}

	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown arm driver '%s' (available: %s)", driver, strings.Join(AvailableDrivers(), ", "))
	}

	a, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to open arm driver '%s': %w", name, err)
	}
	return Locked(a), nil
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}
